// Package protocol implements the framed dictionary protocol spoken with the
// paired phone app over the serial link.
//
// Frame format:
//
//	[SYNC:1][KIND:1][TXID:1][LEN:2][PAYLOAD:LEN][CRC:2]
//	- SYNC: 0xAA (frame start marker)
//	- KIND: Push, Ack or Nack
//	- TXID: Transaction id, echoed by the Ack/Nack that answers a Push
//	- LEN: Payload length (uint16, little-endian)
//	- PAYLOAD: Dictionary (Push only)
//	- CRC: CRC16-CCITT of [KIND][TXID][LEN][PAYLOAD]
//
// Both directions use the same frame.
package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	SyncByte = 0xAA

	// Frame kinds
	FramePush = 0x01
	FrameAck  = 0x02
	FrameNack = 0x03

	// MaxPayload bounds a single frame; anything larger is treated as noise.
	MaxPayload = 4096

	headerSize = 4 // kind + txid + len
)

var (
	ErrInvalidFrame = errors.New("invalid frame")
	ErrCRCMismatch  = errors.New("CRC mismatch")
)

// Frame represents a protocol frame.
type Frame struct {
	Kind    uint8
	TxID    uint8
	Payload []byte
}

// ReadFrame reads and validates a frame from the reader.
func ReadFrame(r io.Reader) (*Frame, error) {
	sync := make([]byte, 1)
	if _, err := io.ReadFull(r, sync); err != nil {
		return nil, err
	}
	if sync[0] != SyncByte {
		return nil, ErrInvalidFrame
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint16(header[2:])
	if length > MaxPayload {
		return nil, ErrInvalidFrame
	}

	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	crcBytes := make([]byte, 2)
	if _, err := io.ReadFull(r, crcBytes); err != nil {
		return nil, err
	}
	receivedCRC := binary.LittleEndian.Uint16(crcBytes)

	if receivedCRC != calcCRC(append(header, payload...)) {
		return nil, ErrCRCMismatch
	}

	return &Frame{
		Kind:    header[0],
		TxID:    header[1],
		Payload: payload,
	}, nil
}

// WriteFrame writes a frame to the writer in a single Write call.
func WriteFrame(w io.Writer, frame *Frame) error {
	buf, err := AppendFrame(nil, frame)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// AppendFrame appends the encoded frame to buf.
func AppendFrame(buf []byte, frame *Frame) ([]byte, error) {
	if len(frame.Payload) > MaxPayload {
		return buf, ErrInvalidFrame
	}
	payloadLen := uint16(len(frame.Payload))

	start := len(buf)
	buf = append(buf, SyncByte, frame.Kind, frame.TxID)
	buf = binary.LittleEndian.AppendUint16(buf, payloadLen)
	buf = append(buf, frame.Payload...)

	// CRC covers everything after the sync byte
	crc := calcCRC(buf[start+1:])
	buf = binary.LittleEndian.AppendUint16(buf, crc)

	return buf, nil
}

// calcCRC calculates CRC16-CCITT.
// Polynomial: 0x1021, Initial: 0xFFFF
func calcCRC(data []byte) uint16 {
	var crc uint16 = 0xFFFF

	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}

	return crc
}
