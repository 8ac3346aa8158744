// Package channel turns button presses into outbound commands and applies
// inbound messages to the display text.
package channel

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/tuffrabit/tinygo-activator/pkg/link"
	"github.com/tuffrabit/tinygo-activator/pkg/protocol"
)

const (
	// TextCapacity is the size of the display text buffer including the
	// terminator slot. Stored text is at most TextCapacity-1 bytes.
	TextCapacity = 256

	// FailedText replaces the display text when an outbound message fails.
	FailedText = "Failed to send!"
)

// Errors
var (
	ErrTransmitUnavailable = errors.New("no outbound slot available")
)

// TextBuffer is a fixed-capacity text store. Longer input is truncated.
type TextBuffer struct {
	buf [TextCapacity]byte
	n   int
}

// Set replaces the content with the first TextCapacity-1 bytes of s.
func (b *TextBuffer) Set(s string) {
	b.n = copy(b.buf[:TextCapacity-1], s)
	b.buf[b.n] = 0
}

func (b *TextBuffer) Len() int {
	return b.n
}

func (b *TextBuffer) Bytes() []byte {
	return b.buf[:b.n]
}

func (b *TextBuffer) String() string {
	return string(b.buf[:b.n])
}

// Transport is the outbound side of the link.
type Transport interface {
	Acquire() (*protocol.DictWriter, bool)
	Submit(w *protocol.DictWriter) error
	Release(w *protocol.DictWriter)
}

// Display is the text layer of the window.
type Display interface {
	SetText(text string)
	MarkDirty()
}

// Channel owns the display text and the send path. It is safe for use from
// the link's Serve goroutine and the input repeat goroutines at once.
type Channel struct {
	transport Transport
	display   Display
	logger    *slog.Logger

	mu   sync.Mutex
	text TextBuffer
}

func New(transport Transport, display Display, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Channel{
		transport: transport,
		display:   display,
		logger:    logger,
	}
}

// SendCommand sends a single-tuple message. It returns
// ErrTransmitUnavailable without touching any state when the outbound slot
// is busy. Delivery failures arrive later through OutboundFailed.
func (c *Channel) SendCommand(kind protocol.Key, value int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendCommand(kind, value)
}

func (c *Channel) sendCommand(kind protocol.Key, value int32) error {
	w, ok := c.transport.Acquire()
	if !ok {
		c.logger.Debug("send skipped", "key", kind)
		return ErrTransmitUnavailable
	}

	if err := w.WriteInt32(kind, value); err != nil {
		c.transport.Release(w)
		return err
	}
	if _, err := w.End(); err != nil {
		c.transport.Release(w)
		return err
	}

	c.logger.Debug("send", "key", kind, "value", value)
	return c.transport.Submit(w)
}

// DispatchInbound applies the tuples of one inbound message in order.
// Unknown keys are ignored.
func (c *Channel) DispatchInbound(tuples []protocol.Tuple) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range tuples {
		switch t.Key {
		case protocol.KeyRequestVersion:
			// The reply is dropped if the slot is taken
			_ = c.sendCommand(protocol.KeyReturnVersion, protocol.CurrentVersion)
		case protocol.KeySetText:
			s, ok := t.Value.AsString()
			if !ok {
				c.logger.Debug("set text ignored", "type", t.Value.Type)
				continue
			}
			c.setText(s)
		default:
			c.logger.Debug("unknown key", "key", t.Key)
		}
	}
}

// DispatchDropped is called when an inbound message could not be delivered.
// The drop has no visible effect.
func (c *Channel) DispatchDropped(reason link.Reason) {
	c.logger.Debug("inbound dropped", "reason", reason)
}

// OutboundFailed shows FailedText regardless of which command failed.
func (c *Channel) OutboundFailed(reason link.Reason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Warn("outbound failed", "reason", reason)
	c.setText(FailedText)
}

// Text returns the current display text.
func (c *Channel) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text.String()
}

// Handlers returns link callbacks bound to this channel.
func (c *Channel) Handlers() link.Handlers {
	return link.Handlers{
		Received:  c.DispatchInbound,
		Dropped:   c.DispatchDropped,
		OutFailed: c.OutboundFailed,
	}
}

func (c *Channel) setText(s string) {
	c.text.Set(s)
	c.display.SetText(c.text.String())
	c.display.MarkDirty()
}
