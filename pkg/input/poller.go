package input

import (
	"context"
	"time"
)

// DefaultPollInterval is how often the firmware samples the button pins.
const DefaultPollInterval = 10 * time.Millisecond

// Target receives button edges.
type Target interface {
	Press(b Button)
	Release(b Button)
}

type source struct {
	button  Button
	pressed func() bool
	held    bool
}

// Poller samples button levels and reports press and release edges.
type Poller struct {
	target  Target
	sources []source
}

func NewPoller(target Target) *Poller {
	return &Poller{target: target}
}

// Add registers a button. pressed reports the current level, true while the
// button is down.
func (p *Poller) Add(b Button, pressed func() bool) {
	p.sources = append(p.sources, source{button: b, pressed: pressed})
}

// Poll samples every button once.
func (p *Poller) Poll() {
	for i := range p.sources {
		s := &p.sources[i]
		down := s.pressed()

		switch {
		case down && !s.held:
			s.held = true
			p.target.Press(s.button)
		case !down && s.held:
			s.held = false
			p.target.Release(s.button)
		}
	}
}

// Run polls at the given interval until ctx is cancelled, then releases any
// button still held.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.releaseAll()
			return
		case <-ticker.C:
			p.Poll()
		}
	}
}

func (p *Poller) releaseAll() {
	for i := range p.sources {
		s := &p.sources[i]
		if s.held {
			s.held = false
			p.target.Release(s.button)
		}
	}
}
