package link

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tuffrabit/tinygo-activator/pkg/protocol"
)

const waitFor = 2 * time.Second

// peer is the phone side of a net.Pipe.
type peer struct {
	conn   net.Conn
	frames chan *protocol.Frame
}

func newPeer(conn net.Conn) *peer {
	p := &peer{conn: conn, frames: make(chan *protocol.Frame, 16)}
	go func() {
		defer close(p.frames)
		for {
			frame, err := protocol.ReadFrame(conn)
			if err != nil {
				return
			}
			p.frames <- frame
		}
	}()
	return p
}

func (p *peer) send(t *testing.T, frame *protocol.Frame) {
	t.Helper()
	require.NoError(t, protocol.WriteFrame(p.conn, frame))
}

func (p *peer) push(t *testing.T, txID uint8, tuples ...protocol.Tuple) {
	t.Helper()
	payload, err := protocol.EncodeDict(tuples)
	require.NoError(t, err)
	p.send(t, &protocol.Frame{Kind: protocol.FramePush, TxID: txID, Payload: payload})
}

func (p *peer) next(t *testing.T) *protocol.Frame {
	t.Helper()
	select {
	case frame, ok := <-p.frames:
		require.True(t, ok, "peer connection closed")
		return frame
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

type events struct {
	received  chan []protocol.Tuple
	dropped   chan Reason
	outFailed chan Reason
}

func newEvents() *events {
	return &events{
		received:  make(chan []protocol.Tuple, 8),
		dropped:   make(chan Reason, 8),
		outFailed: make(chan Reason, 8),
	}
}

func (e *events) handlers() Handlers {
	return Handlers{
		Received:  func(tuples []protocol.Tuple) { e.received <- tuples },
		Dropped:   func(reason Reason) { e.dropped <- reason },
		OutFailed: func(reason Reason) { e.outFailed <- reason },
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

func startLink(t *testing.T, opts Options) (*Link, *peer, *events) {
	t.Helper()

	device, phone := net.Pipe()
	l := New(device, opts, nil)
	ev := newEvents()
	l.SetHandlers(ev.handlers())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		phone.Close()
		device.Close()
		<-done
	})

	return l, newPeer(phone), ev
}

func defaultOptions() Options {
	return Options{InboundBufferSize: 64, OutboundBufferSize: 16, AckTimeout: time.Second}
}

func TestReceivedPushIsAckedAndDelivered(t *testing.T) {
	_, p, ev := startLink(t, defaultOptions())

	p.push(t, 9,
		protocol.Tuple{Key: protocol.KeySetText, Value: protocol.String("Hi")},
		protocol.Tuple{Key: protocol.KeyRequestVersion, Value: protocol.Int32(0)},
	)

	ack := p.next(t)
	require.Equal(t, uint8(protocol.FrameAck), ack.Kind)
	require.Equal(t, uint8(9), ack.TxID)

	tuples := recv(t, ev.received)
	require.Len(t, tuples, 2)
	require.Equal(t, protocol.KeySetText, tuples[0].Key)
	require.Equal(t, protocol.KeyRequestVersion, tuples[1].Key)
}

func TestMalformedPushIsNacked(t *testing.T) {
	_, p, ev := startLink(t, defaultOptions())

	p.send(t, &protocol.Frame{Kind: protocol.FramePush, TxID: 4, Payload: []byte{0x00}})

	nack := p.next(t)
	require.Equal(t, uint8(protocol.FrameNack), nack.Kind)
	require.Equal(t, uint8(4), nack.TxID)
	require.Equal(t, ReasonMalformed, recv(t, ev.dropped))
	require.Empty(t, ev.received)
}

func TestOversizedPushIsDropped(t *testing.T) {
	_, p, ev := startLink(t, defaultOptions())

	long := make([]byte, 100)
	for i := range long {
		long[i] = 'x'
	}
	p.push(t, 5, protocol.Tuple{Key: protocol.KeySetText, Value: protocol.String(string(long))})

	require.Equal(t, uint8(protocol.FrameNack), p.next(t).Kind)
	require.Equal(t, ReasonOverflow, recv(t, ev.dropped))
}

func TestCorruptFrameIsDropped(t *testing.T) {
	_, p, ev := startLink(t, defaultOptions())

	buf, err := protocol.AppendFrame(nil, &protocol.Frame{Kind: protocol.FramePush, TxID: 1, Payload: []byte{1, 2, 3}})
	require.NoError(t, err)
	buf[len(buf)-1] ^= 0xFF

	// Leading noise is skipped before the corrupt frame
	_, err = p.conn.Write(append([]byte{0x00, 0x13}, buf...))
	require.NoError(t, err)

	require.Equal(t, ReasonCRC, recv(t, ev.dropped))
}

func TestSubmitSendsSingleTuplePush(t *testing.T) {
	l, p, _ := startLink(t, defaultOptions())

	w, ok := l.Acquire()
	require.True(t, ok)
	require.NoError(t, w.WriteInt32(protocol.KeyKeyPressed, 2))
	require.NoError(t, l.Submit(w))

	frame := p.next(t)
	require.Equal(t, uint8(protocol.FramePush), frame.Kind)

	tuples, err := protocol.DecodeDict(frame.Payload)
	require.NoError(t, err)
	require.Len(t, tuples, 1)
	require.Equal(t, protocol.KeyKeyPressed, tuples[0].Key)
	v, _ := tuples[0].Value.AsInt32()
	require.Equal(t, int32(2), v)
}

func TestSlotBusyUntilAck(t *testing.T) {
	l, p, ev := startLink(t, defaultOptions())

	w, ok := l.Acquire()
	require.True(t, ok)

	_, ok = l.Acquire()
	require.False(t, ok, "slot is held by the first writer")

	require.NoError(t, w.WriteInt32(protocol.KeyRequestText, 0))
	require.NoError(t, l.Submit(w))
	frame := p.next(t)

	_, ok = l.Acquire()
	require.False(t, ok, "slot stays busy until the push is acked")

	p.send(t, &protocol.Frame{Kind: protocol.FrameAck, TxID: frame.TxID})

	require.Eventually(t, func() bool {
		w, ok := l.Acquire()
		if ok {
			l.Release(w)
		}
		return ok
	}, waitFor, 5*time.Millisecond)
	require.Empty(t, ev.outFailed)
}

func TestNackReportsFailure(t *testing.T) {
	l, p, ev := startLink(t, defaultOptions())

	w, _ := l.Acquire()
	require.NoError(t, w.WriteInt32(protocol.KeyKeyPressed, 0))
	require.NoError(t, l.Submit(w))
	frame := p.next(t)

	// An ack for another transaction is ignored
	p.send(t, &protocol.Frame{Kind: protocol.FrameAck, TxID: frame.TxID + 1})
	p.send(t, &protocol.Frame{Kind: protocol.FrameNack, TxID: frame.TxID})

	require.Equal(t, ReasonNack, recv(t, ev.outFailed))

	_, ok := l.Acquire()
	require.True(t, ok, "slot is free after a nack")
}

func TestAckTimeoutReportsFailure(t *testing.T) {
	opts := defaultOptions()
	opts.AckTimeout = 20 * time.Millisecond
	l, p, ev := startLink(t, opts)

	w, _ := l.Acquire()
	require.NoError(t, w.WriteInt32(protocol.KeyKeyPressed, 1))
	require.NoError(t, l.Submit(w))
	frame := p.next(t)

	require.Equal(t, ReasonTimeout, recv(t, ev.outFailed))

	// A late ack has no effect
	p.send(t, &protocol.Frame{Kind: protocol.FrameAck, TxID: frame.TxID})
	_, ok := l.Acquire()
	require.True(t, ok)
}

type failingPort struct {
	r io.Reader
}

func (f failingPort) Read(p []byte) (int, error)  { return f.r.Read(p) }
func (f failingPort) Write(p []byte) (int, error) { return 0, errors.New("usb gone") }

func TestWriteErrorReportsFailure(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	l := New(failingPort{r: r}, defaultOptions(), nil)
	ev := newEvents()
	l.SetHandlers(ev.handlers())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	dw, ok := l.Acquire()
	require.True(t, ok)
	require.NoError(t, dw.WriteInt32(protocol.KeyKeyPressed, 1))
	require.NoError(t, l.Submit(dw), "submit does not report transport failures synchronously")

	require.Equal(t, ReasonWrite, recv(t, ev.outFailed))
}

func TestLostAckWithUnsetTimeoutReportsFailure(t *testing.T) {
	opts := defaultOptions()
	opts.AckTimeout = 0
	l, p, ev := startLink(t, opts)
	require.Equal(t, DefaultAckTimeout, l.ackTimeout)

	w, ok := l.Acquire()
	require.True(t, ok)
	require.NoError(t, w.WriteInt32(protocol.KeyKeyPressed, 1))
	require.NoError(t, l.Submit(w))
	p.next(t) // never acked

	require.Equal(t, ReasonTimeout, recv(t, ev.outFailed))
	_, ok = l.Acquire()
	require.True(t, ok, "slot is free after the timeout")
}

func TestFailureSurvivesBusyServe(t *testing.T) {
	const corruptFrames = 32

	opts := defaultOptions()
	opts.AckTimeout = 20 * time.Millisecond
	l, p, _ := startLink(t, opts)

	gate := make(chan struct{})
	unblock := sync.OnceFunc(func() { close(gate) })
	t.Cleanup(unblock)

	var crcDrops atomic.Int32
	failed := make(chan Reason, 1)
	l.SetHandlers(Handlers{
		Received: func([]protocol.Tuple) { <-gate },
		Dropped: func(reason Reason) {
			if reason == ReasonCRC {
				crcDrops.Add(1)
			}
		},
		OutFailed: func(reason Reason) { failed <- reason },
	})

	// Park the Serve goroutine inside Received
	p.push(t, 1, protocol.Tuple{Key: protocol.KeySetText, Value: protocol.String("hold")})
	require.Equal(t, uint8(protocol.FrameAck), p.next(t).Kind)

	w, ok := l.Acquire()
	require.True(t, ok)
	require.NoError(t, w.WriteInt32(protocol.KeyKeyPressed, 1))
	require.NoError(t, l.Submit(w))
	p.next(t)

	corrupt, err := protocol.AppendFrame(nil, &protocol.Frame{Kind: protocol.FramePush, TxID: 2, Payload: []byte{1, 2, 3}})
	require.NoError(t, err)
	corrupt[len(corrupt)-1] ^= 0xFF
	go func() {
		for i := 0; i < corruptFrames; i++ {
			if _, err := p.conn.Write(corrupt); err != nil {
				return
			}
		}
	}()

	// The ack timeout fires while Serve is still busy
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.failure == ReasonTimeout
	}, waitFor, time.Millisecond)
	_, ok = l.Acquire()
	require.False(t, ok, "slot stays busy until the failure is reported")

	unblock()

	require.Equal(t, ReasonTimeout, recv(t, failed))
	require.Eventually(t, func() bool { return crcDrops.Load() == corruptFrames }, waitFor, time.Millisecond)
	_, ok = l.Acquire()
	require.True(t, ok)
}

func TestSubmitErrors(t *testing.T) {
	l := New(failingPort{}, defaultOptions(), nil)

	foreign := protocol.NewDictWriter(make([]byte, 16))
	require.ErrorIs(t, l.Submit(foreign), ErrNotAcquired)

	w, ok := l.Acquire()
	require.True(t, ok)
	require.ErrorIs(t, l.Submit(w), protocol.ErrEmptyDict)

	_, ok = l.Acquire()
	require.True(t, ok, "an empty submit frees the slot")
}

func TestRelease(t *testing.T) {
	l := New(failingPort{}, defaultOptions(), nil)

	w, ok := l.Acquire()
	require.True(t, ok)
	l.Release(w)

	_, ok = l.Acquire()
	require.True(t, ok)
}

func TestDeregisteredHandlersAreSkipped(t *testing.T) {
	l, p, ev := startLink(t, defaultOptions())
	l.SetHandlers(Handlers{})

	p.push(t, 1, protocol.Tuple{Key: protocol.KeySetText, Value: protocol.String("ignored")})
	require.Equal(t, uint8(protocol.FrameAck), p.next(t).Kind)
	require.Empty(t, ev.received)
}

func TestServeStopsOnEOF(t *testing.T) {
	device, phone := net.Pipe()
	l := New(device, defaultOptions(), nil)

	done := make(chan error, 1)
	go func() { done <- l.Serve(context.Background()) }()

	phone.Close()
	require.NoError(t, recv(t, done))
}

func TestReasonString(t *testing.T) {
	require.Equal(t, "timeout", ReasonTimeout.String())
	require.Equal(t, "reason(99)", Reason(99).String())
}
