// Package serial adapts a polled UART or USB CDC port to io.ReadWriter.
package serial

import (
	"time"
)

// DefaultPollInterval is how long Read sleeps while no byte is buffered.
const DefaultPollInterval = time.Millisecond

// Serialer is the subset of machine.Serialer the port uses.
type Serialer interface {
	Buffered() int
	ReadByte() (byte, error)
	Write(data []byte) (int, error)
}

// Port turns the non-blocking ReadByte of a Serialer into a blocking Read.
type Port struct {
	serial Serialer
	poll   time.Duration
}

func NewPort(serial Serialer) *Port {
	return &Port{
		serial: serial,
		poll:   DefaultPollInterval,
	}
}

// Read blocks until at least one byte is available and returns everything
// buffered, up to len(p).
func (s *Port) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for {
		n := 0
		for n < len(p) && s.serial.Buffered() > 0 {
			b, err := s.serial.ReadByte()
			if err != nil {
				break
			}
			p[n] = b
			n++
		}
		if n > 0 {
			return n, nil
		}
		time.Sleep(s.poll)
	}
}

func (s *Port) Write(p []byte) (int, error) {
	return s.serial.Write(p)
}
