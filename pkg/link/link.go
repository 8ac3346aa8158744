// Package link carries dictionary messages between the watch and the phone
// over a byte stream.
//
// A Link owns one outbound slot. The slot is taken by Acquire and stays busy
// until the phone acks or nacks the pushed frame, the ack timeout fires, or
// the write fails. All callbacks run on the Serve goroutine, one at a time.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tuffrabit/tinygo-activator/pkg/protocol"
)

// Reason explains a dropped inbound message or a failed outbound one.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonNack
	ReasonTimeout
	ReasonWrite
	ReasonMalformed
	ReasonOverflow
	ReasonCRC
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonNack:
		return "nack"
	case ReasonTimeout:
		return "timeout"
	case ReasonWrite:
		return "write"
	case ReasonMalformed:
		return "malformed"
	case ReasonOverflow:
		return "overflow"
	case ReasonCRC:
		return "crc"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// Errors
var (
	ErrNotAcquired = errors.New("writer does not hold the outbound slot")
)

// Handlers are the callbacks a Link delivers events to. Nil entries are
// skipped.
type Handlers struct {
	Received  func(tuples []protocol.Tuple)
	Dropped   func(reason Reason)
	OutFailed func(reason Reason)
}

// DefaultAckTimeout bounds the wait for an ack when Options leaves it unset.
const DefaultAckTimeout = time.Second

// Options size the link buffers.
type Options struct {
	InboundBufferSize  int
	OutboundBufferSize int
	AckTimeout         time.Duration
}

// Link is the transport between the watch app and its phone peer.
type Link struct {
	port       io.ReadWriter
	logger     *slog.Logger
	inboundMax int
	ackTimeout time.Duration

	mu       sync.Mutex
	handlers Handlers
	slot     *protocol.DictWriter
	busy     bool
	pending  bool
	failure  Reason // set once pending resolves off the Serve goroutine
	txID     uint8
	timer    *time.Timer

	writeMu sync.Mutex
	failed  chan struct{}
}

// New creates a link over port.
func New(port io.ReadWriter, opts Options, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	return &Link{
		port:       port,
		logger:     logger,
		inboundMax: opts.InboundBufferSize,
		ackTimeout: opts.AckTimeout,
		slot:       protocol.NewDictWriter(make([]byte, opts.OutboundBufferSize)),
		failed:     make(chan struct{}, 1),
	}
}

// SetHandlers registers the event callbacks. The zero value deregisters.
func (l *Link) SetHandlers(h Handlers) {
	l.mu.Lock()
	l.handlers = h
	l.mu.Unlock()
}

// Acquire takes the outbound slot. It returns false while a previous message
// is still being written or waiting for its ack.
func (l *Link) Acquire() (*protocol.DictWriter, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.busy {
		return nil, false
	}
	l.busy = true
	l.slot.Reset()
	return l.slot, true
}

// Release gives back a slot that was acquired but will not be submitted.
func (l *Link) Release(w *protocol.DictWriter) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w == l.slot && l.busy && !l.inFlight() {
		l.busy = false
	}
}

// Submit finalizes the dictionary in w and sends it. It does not wait for
// the ack; failures are reported through Handlers.OutFailed.
func (l *Link) Submit(w *protocol.DictWriter) error {
	l.mu.Lock()
	if w != l.slot || !l.busy || l.inFlight() {
		l.mu.Unlock()
		return ErrNotAcquired
	}
	if !w.Ended() {
		if _, err := w.End(); err != nil {
			l.busy = false
			l.mu.Unlock()
			return err
		}
	}

	l.txID++
	id := l.txID
	frame := &protocol.Frame{Kind: protocol.FramePush, TxID: id, Payload: w.Bytes()}
	buf, err := protocol.AppendFrame(nil, frame)
	if err != nil {
		l.busy = false
		l.mu.Unlock()
		return err
	}

	l.pending = true
	l.timer = time.AfterFunc(l.ackTimeout, func() {
		l.fail(id, ReasonTimeout)
	})
	l.mu.Unlock()

	l.logger.Debug("push", "frame", protocol.FormatFrame(frame))

	if err := l.write(buf); err != nil {
		l.logger.Warn("push write failed", "txid", id, "error", err)
		l.fail(id, ReasonWrite)
	}
	return nil
}

// Serve runs the event loop until ctx is cancelled or the port reaches EOF.
func (l *Link) Serve(ctx context.Context) error {
	frames := make(chan *protocol.Frame)
	drops := make(chan Reason)
	readErr := make(chan error, 1)

	go l.readLoop(ctx, frames, drops, readErr)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.failed:
			l.reportFailure()
		case reason := <-drops:
			l.dropped(reason)
		case frame := <-frames:
			l.handleFrame(frame)
		case err := <-readErr:
			l.reportFailure()
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read link: %w", err)
		}
	}
}

// readLoop decodes frames from the port. Bytes that do not start a frame are
// skipped so the reader resynchronizes on the next sync byte.
func (l *Link) readLoop(ctx context.Context, frames chan<- *protocol.Frame, drops chan<- Reason, readErr chan<- error) {
	for {
		frame, err := protocol.ReadFrame(l.port)
		switch {
		case err == nil:
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		case errors.Is(err, protocol.ErrInvalidFrame):
			continue
		case errors.Is(err, protocol.ErrCRCMismatch):
			l.logger.Debug("frame dropped", "reason", ReasonCRC)
			select {
			case drops <- ReasonCRC:
			case <-ctx.Done():
				return
			}
		default:
			readErr <- err
			return
		}
	}
}

func (l *Link) handleFrame(frame *protocol.Frame) {
	l.logger.Debug("frame", "kind", protocol.KindName(frame.Kind), "frame", protocol.FormatFrame(frame))

	switch frame.Kind {
	case protocol.FramePush:
		l.handlePush(frame)
	case protocol.FrameAck:
		l.settle(frame.TxID, ReasonNone)
	case protocol.FrameNack:
		l.settle(frame.TxID, ReasonNack)
	}
}

func (l *Link) handlePush(frame *protocol.Frame) {
	if l.inboundMax > 0 && len(frame.Payload) > l.inboundMax {
		l.reply(protocol.FrameNack, frame.TxID)
		l.dropped(ReasonOverflow)
		return
	}

	tuples, err := protocol.DecodeDict(frame.Payload)
	if err != nil {
		l.logger.Debug("push rejected", "txid", frame.TxID, "error", err)
		l.reply(protocol.FrameNack, frame.TxID)
		l.dropped(ReasonMalformed)
		return
	}

	l.reply(protocol.FrameAck, frame.TxID)

	if h := l.currentHandlers(); h.Received != nil {
		h.Received(tuples)
	}
}

// settle resolves the outstanding push with the given transaction id.
func (l *Link) settle(id uint8, reason Reason) {
	l.mu.Lock()
	if !l.pending || l.txID != id {
		l.mu.Unlock()
		return
	}
	l.pending = false
	l.busy = false
	l.stopTimer()
	h := l.handlers
	l.mu.Unlock()

	if reason != ReasonNone && h.OutFailed != nil {
		h.OutFailed(reason)
	}
}

// fail resolves the outstanding push from a timer or a writer. The slot stays
// busy until the Serve goroutine reports the failure.
func (l *Link) fail(id uint8, reason Reason) {
	l.mu.Lock()
	if !l.pending || l.txID != id {
		l.mu.Unlock()
		return
	}
	l.pending = false
	l.failure = reason
	l.stopTimer()
	l.mu.Unlock()

	select {
	case l.failed <- struct{}{}:
	default:
	}
}

// reportFailure frees the slot after a fail and calls OutFailed.
func (l *Link) reportFailure() {
	l.mu.Lock()
	reason := l.failure
	if reason == ReasonNone {
		l.mu.Unlock()
		return
	}
	l.failure = ReasonNone
	l.busy = false
	id := l.txID
	h := l.handlers
	l.mu.Unlock()

	l.logger.Debug("push failed", "txid", id, "reason", reason)
	if h.OutFailed != nil {
		h.OutFailed(reason)
	}
}

// inFlight reports whether the slot holds a submitted push. Callers hold mu.
func (l *Link) inFlight() bool {
	return l.pending || l.failure != ReasonNone
}

// stopTimer cancels the ack timer. Callers hold mu.
func (l *Link) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *Link) dropped(reason Reason) {
	if h := l.currentHandlers(); h.Dropped != nil {
		h.Dropped(reason)
	}
}

func (l *Link) reply(kind uint8, id uint8) {
	buf, _ := protocol.AppendFrame(nil, &protocol.Frame{Kind: kind, TxID: id})
	if err := l.write(buf); err != nil {
		l.logger.Warn("reply write failed", "kind", protocol.KindName(kind), "error", err)
	}
}

func (l *Link) write(buf []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	_, err := l.port.Write(buf)
	return err
}

func (l *Link) currentHandlers() Handlers {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handlers
}
