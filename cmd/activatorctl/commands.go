package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/tuffrabit/tinygo-activator/pkg/bitmap"
	"github.com/tuffrabit/tinygo-activator/pkg/protocol"
)

// Errors
var (
	ErrNothingToSend = errors.New("frame needs --text or --request-version")
)

type BitmapCmd struct {
	File    string `arg:"" type:"existingfile" help:"Resource blob"`
	Preview bool   `help:"Print an ASCII preview" default:"true" negatable:""`
}

// Run is called by Kong when the bitmap command is executed.
func (c *BitmapCmd) Run(logger *slog.Logger, out io.Writer) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}
	logger.Debug("read resource", "file", c.File, "bytes", len(data))

	// The firmware loads resources into a fixed buffer
	var buf bitmap.Buffer
	n := copy(buf[:], data)
	if len(data) > n {
		logger.Warn("resource truncated", "bytes", len(data), "kept", n)
	}
	if n < bitmap.HeaderSize {
		return bitmap.ErrShortBuffer
	}

	d, err := bitmap.Decode(buf[:n])
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "stride: %d\nflags:  0x%04X\nwidth:  %d\nheight: %d\nfits:   %t\n",
		d.RowStride, d.InfoFlags, d.Width, d.Height, d.Fits())

	if c.Preview {
		writePreview(out, d)
	}
	return nil
}

func writePreview(out io.Writer, d bitmap.Descriptor) {
	var line strings.Builder
	for y := 0; y < int(d.Height); y++ {
		line.Reset()
		for x := 0; x < int(d.Width); x++ {
			if d.At(x, y) {
				line.WriteByte('#')
			} else {
				line.WriteByte('.')
			}
		}
		fmt.Fprintln(out, line.String())
	}
}

type FrameCmd struct {
	Text           string `help:"SetText value"`
	RequestVersion bool   `help:"Append a RequestVersion tuple"`
	TxID           uint8  `name:"txid" help:"Transaction id" default:"1"`
}

// Run is called by Kong when the frame command is executed.
func (c *FrameCmd) Run(logger *slog.Logger, out io.Writer) error {
	var tuples []protocol.Tuple
	if c.Text != "" {
		tuples = append(tuples, protocol.Tuple{Key: protocol.KeySetText, Value: protocol.String(c.Text)})
	}
	if c.RequestVersion {
		tuples = append(tuples, protocol.Tuple{Key: protocol.KeyRequestVersion, Value: protocol.Int32(0)})
	}
	if len(tuples) == 0 {
		return ErrNothingToSend
	}

	payload, err := protocol.EncodeDict(tuples)
	if err != nil {
		return err
	}
	frame := &protocol.Frame{Kind: protocol.FramePush, TxID: c.TxID, Payload: payload}

	buf, err := protocol.AppendFrame(nil, frame)
	if err != nil {
		return err
	}
	logger.Debug("encoded", "frame", protocol.FormatFrame(frame), "tuples", len(tuples))

	fmt.Fprintln(out, strings.ToUpper(hex.EncodeToString(buf)))
	return nil
}

type DecodeCmd struct {
	Hex []string `arg:"" help:"Frame bytes in hex, spaces allowed"`
}

// Run is called by Kong when the decode command is executed.
func (c *DecodeCmd) Run(logger *slog.Logger, out io.Writer) error {
	raw, err := hex.DecodeString(strings.Join(strings.Fields(strings.Join(c.Hex, " ")), ""))
	if err != nil {
		return fmt.Errorf("parse hex: %w", err)
	}

	frame, err := protocol.ReadFrame(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	logger.Debug("decoded", "frame", protocol.FormatFrame(frame))

	fmt.Fprintf(out, "%s txid=%d len=%d\n", protocol.KindName(frame.Kind), frame.TxID, len(frame.Payload))
	if frame.Kind != protocol.FramePush {
		return nil
	}

	tuples, err := protocol.DecodeDict(frame.Payload)
	if err != nil {
		return fmt.Errorf("decode dictionary: %w", err)
	}
	for _, t := range tuples {
		fmt.Fprintf(out, "  %s\n", t)
	}
	return nil
}
