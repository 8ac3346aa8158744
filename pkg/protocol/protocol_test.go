package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestFrameEncodingDecoding(t *testing.T) {
	original := &Frame{
		Kind:    FramePush,
		TxID:    7,
		Payload: []byte{1, 2, 3, 4},
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, original); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	if buf.Len() != 1+4+4+2 {
		t.Errorf("Expected %d encoded bytes, got %d", 11, buf.Len())
	}

	decoded, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	if decoded.Kind != original.Kind {
		t.Errorf("Kind: expected 0x%x, got 0x%x", original.Kind, decoded.Kind)
	}
	if decoded.TxID != original.TxID {
		t.Errorf("TxID: expected %d, got %d", original.TxID, decoded.TxID)
	}
	if !bytes.Equal(decoded.Payload, original.Payload) {
		t.Errorf("Payload: expected %v, got %v", original.Payload, decoded.Payload)
	}
}

func TestEmptyFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, &Frame{Kind: FrameAck, TxID: 3}); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	decoded, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if decoded.Kind != FrameAck || decoded.TxID != 3 {
		t.Errorf("Unexpected frame %+v", decoded)
	}
	if len(decoded.Payload) != 0 {
		t.Errorf("Expected empty payload, got %v", decoded.Payload)
	}
}

func TestCRCMismatch(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteByte(SyncByte)
	buf.WriteByte(FramePush)
	buf.WriteByte(0)
	lenBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBytes, 0)
	buf.Write(lenBytes)
	// Write wrong CRC
	buf.Write([]byte{0x00, 0x00})

	_, err := ReadFrame(buf)
	if err != ErrCRCMismatch {
		t.Errorf("Expected ErrCRCMismatch, got %v", err)
	}
}

func TestInvalidFrame(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteByte(0x55) // Wrong sync

	_, err := ReadFrame(buf)
	if err != ErrInvalidFrame {
		t.Errorf("Expected ErrInvalidFrame, got %v", err)
	}
}

func TestOversizedFrame(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.Write([]byte{SyncByte, FramePush, 0})
	lenBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBytes, MaxPayload+1)
	buf.Write(lenBytes)

	_, err := ReadFrame(buf)
	if err != ErrInvalidFrame {
		t.Errorf("Expected ErrInvalidFrame, got %v", err)
	}
}

func TestShortFrame(t *testing.T) {
	var full bytes.Buffer
	if err := WriteFrame(&full, &Frame{Kind: FramePush, Payload: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	short := bytes.NewReader(full.Bytes()[:full.Len()-1])
	_, err := ReadFrame(short)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestEncodeDictLayout(t *testing.T) {
	data, err := EncodeDict([]Tuple{{Key: KeySetText, Value: String("Hi")}})
	if err != nil {
		t.Fatalf("EncodeDict failed: %v", err)
	}

	expected := []byte{
		0x01,                   // count
		0x01, 0x00, 0x00, 0x00, // key
		uint8(TypeCString),     // type
		0x03, 0x00,             // length
		'H', 'i', 0x00,
	}
	if !bytes.Equal(data, expected) {
		t.Errorf("Expected % X, got % X", expected, data)
	}
}

func TestDictRoundTripPreservesOrder(t *testing.T) {
	tuples := []Tuple{
		{Key: KeySetText, Value: String("Hi")},
		{Key: KeyRequestVersion, Value: Int32(0)},
		{Key: Key(0x99), Value: Int32(-5)},
	}

	data, err := EncodeDict(tuples)
	if err != nil {
		t.Fatalf("EncodeDict failed: %v", err)
	}

	decoded, err := DecodeDict(data)
	if err != nil {
		t.Fatalf("DecodeDict failed: %v", err)
	}
	if len(decoded) != len(tuples) {
		t.Fatalf("Expected %d tuples, got %d", len(tuples), len(decoded))
	}

	for i := range tuples {
		if decoded[i].Key != tuples[i].Key {
			t.Errorf("Tuple %d: expected key %s, got %s", i, tuples[i].Key, decoded[i].Key)
		}
	}

	if s, ok := decoded[0].Value.AsString(); !ok || s != "Hi" {
		t.Errorf("Expected string 'Hi', got %q (ok=%v)", s, ok)
	}
	if v, ok := decoded[2].Value.AsInt32(); !ok || v != -5 {
		t.Errorf("Expected int -5, got %d (ok=%v)", v, ok)
	}
	if _, ok := decoded[2].Value.AsString(); ok {
		t.Error("Integer value should not read as string")
	}
}

func TestDecodeDictNarrowIntegers(t *testing.T) {
	data := []byte{
		0x02,
		0x05, 0x00, 0x00, 0x00, uint8(TypeInt), 0x01, 0x00, 0xFF,
		0x06, 0x00, 0x00, 0x00, uint8(TypeUint), 0x02, 0x00, 0xFF, 0xFF,
	}

	tuples, err := DecodeDict(data)
	if err != nil {
		t.Fatalf("DecodeDict failed: %v", err)
	}

	if v, _ := tuples[0].Value.AsInt32(); v != -1 {
		t.Errorf("Expected int8 -1, got %d", v)
	}
	if v, _ := tuples[1].Value.AsInt32(); v != 0xFFFF {
		t.Errorf("Expected uint16 65535, got %d", v)
	}
}

func TestDecodeDictErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "empty payload", data: nil, want: ErrTruncatedDict},
		{name: "zero tuples", data: []byte{0x00}, want: ErrEmptyDict},
		{name: "short header", data: []byte{0x01, 0x01, 0x00}, want: ErrTruncatedDict},
		{name: "short value", data: []byte{0x01, 0x01, 0, 0, 0, uint8(TypeCString), 0x05, 0x00, 'a'}, want: ErrTruncatedDict},
		{name: "missing tuple", data: []byte{0x02, 0x01, 0, 0, 0, uint8(TypeInt), 0x01, 0x00, 0x01}, want: ErrTruncatedDict},
		{name: "bad int width", data: []byte{0x01, 0x01, 0, 0, 0, uint8(TypeInt), 0x03, 0x00, 1, 2, 3}, want: ErrBadIntWidth},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeDict(tc.data)
			if !errors.Is(err, tc.want) {
				t.Errorf("Expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDecodeDictUnterminatedString(t *testing.T) {
	data := []byte{0x01, 0x01, 0, 0, 0, uint8(TypeCString), 0x02, 0x00, 'o', 'k'}

	tuples, err := DecodeDict(data)
	if err != nil {
		t.Fatalf("DecodeDict failed: %v", err)
	}
	if s, _ := tuples[0].Value.AsString(); s != "ok" {
		t.Errorf("Expected 'ok', got %q", s)
	}
}

func TestEncodeDictEmpty(t *testing.T) {
	if _, err := EncodeDict(nil); err != ErrEmptyDict {
		t.Errorf("Expected ErrEmptyDict, got %v", err)
	}
}

func TestDictWriterSingleInt(t *testing.T) {
	// The outbound buffer on the watch is 16 bytes.
	w := NewDictWriter(make([]byte, 16))

	if err := w.WriteInt32(KeyKeyPressed, 2); err != nil {
		t.Fatalf("WriteInt32 failed: %v", err)
	}
	n, err := w.End()
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if n != countSize+Int32TupleSize {
		t.Errorf("Expected %d bytes, got %d", countSize+Int32TupleSize, n)
	}

	tuples, err := DecodeDict(w.Bytes())
	if err != nil {
		t.Fatalf("DecodeDict failed: %v", err)
	}
	if len(tuples) != 1 || tuples[0].Key != KeyKeyPressed {
		t.Fatalf("Unexpected tuples %v", tuples)
	}
	if v, _ := tuples[0].Value.AsInt32(); v != 2 {
		t.Errorf("Expected 2, got %d", v)
	}

	// A second int tuple does not fit in 16 bytes.
	w.Reset()
	if err := w.WriteInt32(KeyKeyPressed, 1); err != nil {
		t.Fatalf("WriteInt32 after Reset failed: %v", err)
	}
	if err := w.WriteInt32(KeyKeyPressed, 1); err != ErrDictFull {
		t.Errorf("Expected ErrDictFull, got %v", err)
	}
}

func TestDictWriterEndWithoutTuples(t *testing.T) {
	w := NewDictWriter(make([]byte, 16))

	if _, err := w.End(); err != ErrEmptyDict {
		t.Errorf("Expected ErrEmptyDict, got %v", err)
	}
	if w.Bytes() != nil {
		t.Error("Bytes should be nil before a successful End")
	}
}

func TestFormatFrame(t *testing.T) {
	got := FormatFrame(&Frame{Kind: FramePush, TxID: 1, Payload: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}})
	if !strings.HasPrefix(got, "AA 01 01 0900 ") {
		t.Errorf("Unexpected prefix: %s", got)
	}
	if !strings.HasSuffix(got, "..") {
		t.Errorf("Expected truncated payload marker: %s", got)
	}

	if got := FormatFrame(&Frame{Kind: FrameAck, TxID: 2}); got != "AA 02 02 0000" {
		t.Errorf("Unexpected ack format: %s", got)
	}
}

func TestKeyNames(t *testing.T) {
	if KeySetText.String() != "SetText" {
		t.Errorf("Unexpected name %s", KeySetText)
	}
	if Key(0x42).String() != "Key42" {
		t.Errorf("Unexpected name %s", Key(0x42))
	}
	if KindName(0x7F) != "Kind7F" {
		t.Errorf("Unexpected kind name %s", KindName(0x7F))
	}
}
