// Package input binds the watch buttons to outbound KeyPressed commands.
//
// A press sends one command at once and then one per repeat interval until
// the button is released.
package input

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tuffrabit/tinygo-activator/pkg/protocol"
)

// Button identifies a physical button. The value is also the KeyPressed
// payload.
type Button uint8

const (
	ButtonUp     Button = 0
	ButtonSelect Button = 1
	ButtonDown   Button = 2
)

// DefaultRepeat is the auto-repeat interval while a button is held.
const DefaultRepeat = 100 * time.Millisecond

func (b Button) String() string {
	switch b {
	case ButtonUp:
		return "up"
	case ButtonSelect:
		return "select"
	case ButtonDown:
		return "down"
	default:
		return fmt.Sprintf("button(%d)", uint8(b))
	}
}

// Binding maps a button to the value sent with KeyPressed.
type Binding struct {
	Button Button
	Value  int32
	Repeat time.Duration
}

// DefaultBindings binds Up, Select and Down to their own values.
func DefaultBindings(repeat time.Duration) []Binding {
	return []Binding{
		{Button: ButtonUp, Value: int32(ButtonUp), Repeat: repeat},
		{Button: ButtonSelect, Value: int32(ButtonSelect), Repeat: repeat},
		{Button: ButtonDown, Value: int32(ButtonDown), Repeat: repeat},
	}
}

// Sender delivers commands. Errors are ignored by the mapper.
type Sender interface {
	SendCommand(kind protocol.Key, value int32) error
}

// Ticker is the subset of time.Ticker the mapper uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

type repeater struct {
	stop chan struct{}
	done chan struct{}
}

// Mapper turns button presses into commands.
type Mapper struct {
	sender    Sender
	logger    *slog.Logger
	bindings  map[Button]Binding
	newTicker func(time.Duration) Ticker

	mu   sync.Mutex
	held map[Button]*repeater
}

func NewMapper(sender Sender, bindings []Binding, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	m := &Mapper{
		sender:    sender,
		logger:    logger,
		bindings:  make(map[Button]Binding, len(bindings)),
		newTicker: newTimeTicker,
		held:      make(map[Button]*repeater),
	}
	for _, b := range bindings {
		m.bindings[b.Button] = b
	}
	return m
}

// Press sends the bound command and starts the repeat. Pressing a button
// that is already held or has no binding does nothing.
func (m *Mapper) Press(b Button) {
	m.mu.Lock()
	defer m.mu.Unlock()

	binding, ok := m.bindings[b]
	if !ok {
		return
	}
	if _, held := m.held[b]; held {
		return
	}

	m.logger.Debug("button pressed", "button", b)
	m.send(binding)

	if binding.Repeat <= 0 {
		m.held[b] = nil
		return
	}

	r := &repeater{stop: make(chan struct{}), done: make(chan struct{})}
	m.held[b] = r
	go m.repeat(binding, m.newTicker(binding.Repeat), r)
}

// Release stops the repeat for b. No command for b is sent after Release
// returns.
func (m *Mapper) Release(b Button) {
	m.mu.Lock()
	r, held := m.held[b]
	delete(m.held, b)
	m.mu.Unlock()

	if !held {
		return
	}
	m.logger.Debug("button released", "button", b)
	if r != nil {
		close(r.stop)
		<-r.done
	}
}

// Held reports whether b is currently pressed.
func (m *Mapper) Held(b Button) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.held[b]
	return held
}

// Close releases every held button.
func (m *Mapper) Close() {
	m.mu.Lock()
	buttons := make([]Button, 0, len(m.held))
	for b := range m.held {
		buttons = append(buttons, b)
	}
	m.mu.Unlock()

	for _, b := range buttons {
		m.Release(b)
	}
}

func (m *Mapper) repeat(binding Binding, t Ticker, r *repeater) {
	defer close(r.done)
	defer t.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-t.C():
			select {
			case <-r.stop:
				return
			default:
			}
			m.send(binding)
		}
	}
}

func (m *Mapper) send(binding Binding) {
	// Presses are dropped while the outbound slot is busy
	_ = m.sender.SendCommand(protocol.KeyKeyPressed, binding.Value)
}
