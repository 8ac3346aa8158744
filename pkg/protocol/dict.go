package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Key identifies one entry of a message dictionary.
type Key uint32

// Inbound keys (phone → watch)
const (
	KeyRequestVersion Key = 0x00
	KeySetText        Key = 0x01
)

// Outbound keys (watch → phone)
const (
	KeyKeyPressed    Key = 0x10
	KeyReturnVersion Key = 0x11
	KeyRequestText   Key = 0x12
)

// CurrentVersion is the protocol version reported in ReturnVersion.
const CurrentVersion int32 = 1

// Type is the wire type of a tuple value.
type Type uint8

const (
	TypeByteArray Type = iota
	TypeCString
	TypeUint
	TypeInt
)

// Dictionary layout:
//
//	[COUNT:1] then COUNT x [KEY:4][TYPE:1][LEN:2][VALUE:LEN]
//
// Integers are little-endian and 1, 2 or 4 bytes wide. CString values
// include their NUL terminator on the wire.
const (
	countSize       = 1
	tupleHeaderSize = 7
	maxTuples       = 255
)

// Int32TupleSize is the encoded size of a single int32 tuple.
const Int32TupleSize = tupleHeaderSize + 4

var (
	ErrEmptyDict     = errors.New("dictionary has no tuples")
	ErrTruncatedDict = errors.New("truncated dictionary")
	ErrDictFull      = errors.New("dictionary buffer full")
	ErrBadIntWidth   = errors.New("unsupported integer width")
)

// Value is a tuple value: either an integer or a byte string.
type Value struct {
	Type  Type
	Int   int32
	Bytes []byte
}

// Int32 returns a signed integer value.
func Int32(v int32) Value {
	return Value{Type: TypeInt, Int: v}
}

// String returns a NUL terminated string value.
func String(s string) Value {
	return Value{Type: TypeCString, Bytes: []byte(s)}
}

// AsInt32 returns the integer payload, if the value is an integer.
func (v Value) AsInt32() (int32, bool) {
	if v.Type != TypeInt && v.Type != TypeUint {
		return 0, false
	}
	return v.Int, true
}

// AsString returns the string payload, if the value is a string.
func (v Value) AsString() (string, bool) {
	if v.Type != TypeCString {
		return "", false
	}
	return string(v.Bytes), true
}

// Tuple is one key/value entry in a dictionary.
type Tuple struct {
	Key   Key
	Value Value
}

func (t Tuple) String() string {
	switch t.Value.Type {
	case TypeInt, TypeUint:
		return fmt.Sprintf("%s=%d", t.Key, t.Value.Int)
	case TypeCString:
		return fmt.Sprintf("%s=%q", t.Key, t.Value.Bytes)
	default:
		return fmt.Sprintf("%s=[%d]", t.Key, len(t.Value.Bytes))
	}
}

// EncodeDict encodes the tuples as a dictionary payload.
func EncodeDict(tuples []Tuple) ([]byte, error) {
	if len(tuples) == 0 {
		return nil, ErrEmptyDict
	}
	if len(tuples) > maxTuples {
		return nil, ErrDictFull
	}

	size := countSize
	for _, t := range tuples {
		size += tupleHeaderSize + valueSize(t.Value)
	}

	w := NewDictWriter(make([]byte, size))
	for _, t := range tuples {
		if err := w.Write(t); err != nil {
			return nil, err
		}
	}
	if _, err := w.End(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeDict parses a dictionary payload. Tuples are returned in wire order.
// String values alias data.
func DecodeDict(data []byte) ([]Tuple, error) {
	if len(data) < countSize {
		return nil, ErrTruncatedDict
	}
	count := int(data[0])
	if count == 0 {
		return nil, ErrEmptyDict
	}

	tuples := make([]Tuple, 0, count)
	offset := countSize
	for i := 0; i < count; i++ {
		if len(data)-offset < tupleHeaderSize {
			return nil, ErrTruncatedDict
		}
		key := Key(binary.LittleEndian.Uint32(data[offset:]))
		typ := Type(data[offset+4])
		length := int(binary.LittleEndian.Uint16(data[offset+5:]))
		offset += tupleHeaderSize

		if len(data)-offset < length {
			return nil, ErrTruncatedDict
		}
		raw := data[offset : offset+length]
		offset += length

		value, err := decodeValue(typ, raw)
		if err != nil {
			return nil, fmt.Errorf("tuple %d (%s): %w", i, key, err)
		}
		tuples = append(tuples, Tuple{Key: key, Value: value})
	}

	return tuples, nil
}

func decodeValue(typ Type, raw []byte) (Value, error) {
	switch typ {
	case TypeInt, TypeUint:
		var v int32
		switch len(raw) {
		case 1:
			if typ == TypeInt {
				v = int32(int8(raw[0]))
			} else {
				v = int32(raw[0])
			}
		case 2:
			if typ == TypeInt {
				v = int32(int16(binary.LittleEndian.Uint16(raw)))
			} else {
				v = int32(binary.LittleEndian.Uint16(raw))
			}
		case 4:
			v = int32(binary.LittleEndian.Uint32(raw))
		default:
			return Value{}, ErrBadIntWidth
		}
		return Value{Type: typ, Int: v}, nil
	case TypeCString:
		// Stop at the first NUL; a missing terminator is tolerated.
		for i, b := range raw {
			if b == 0 {
				raw = raw[:i]
				break
			}
		}
		return Value{Type: typ, Bytes: raw}, nil
	default:
		return Value{Type: typ, Bytes: raw}, nil
	}
}

func valueSize(v Value) int {
	switch v.Type {
	case TypeInt, TypeUint:
		return 4
	case TypeCString:
		return len(v.Bytes) + 1
	default:
		return len(v.Bytes)
	}
}

// DictWriter builds a dictionary into a fixed caller-owned buffer.
// It never grows the buffer.
type DictWriter struct {
	buf   []byte
	n     int
	count int
	ended bool
}

// NewDictWriter creates a writer over buf.
func NewDictWriter(buf []byte) *DictWriter {
	w := &DictWriter{buf: buf}
	w.Reset()
	return w
}

// Reset discards everything written so far.
func (w *DictWriter) Reset() {
	w.n = countSize
	w.count = 0
	w.ended = false
}

// WriteInt32 appends a signed 32-bit integer tuple.
func (w *DictWriter) WriteInt32(key Key, v int32) error {
	return w.Write(Tuple{Key: key, Value: Int32(v)})
}

// WriteCString appends a NUL terminated string tuple.
func (w *DictWriter) WriteCString(key Key, s string) error {
	return w.Write(Tuple{Key: key, Value: String(s)})
}

// Write appends one tuple.
func (w *DictWriter) Write(t Tuple) error {
	if w.ended || w.count == maxTuples {
		return ErrDictFull
	}
	size := valueSize(t.Value)
	if len(w.buf) < countSize || len(w.buf)-w.n < tupleHeaderSize+size {
		return ErrDictFull
	}

	b := w.buf[w.n:]
	binary.LittleEndian.PutUint32(b[0:], uint32(t.Key))
	b[4] = uint8(t.Value.Type)
	binary.LittleEndian.PutUint16(b[5:], uint16(size))

	v := b[tupleHeaderSize : tupleHeaderSize+size]
	switch t.Value.Type {
	case TypeInt, TypeUint:
		binary.LittleEndian.PutUint32(v, uint32(t.Value.Int))
	case TypeCString:
		copy(v, t.Value.Bytes)
		v[size-1] = 0
	default:
		copy(v, t.Value.Bytes)
	}

	w.n += tupleHeaderSize + size
	w.count++
	return nil
}

// End finalizes the dictionary and returns its encoded size.
// A dictionary must hold at least one tuple.
func (w *DictWriter) End() (int, error) {
	if w.count == 0 {
		return 0, ErrEmptyDict
	}
	w.buf[0] = uint8(w.count)
	w.ended = true
	return w.n, nil
}

// Count returns the number of tuples written.
func (w *DictWriter) Count() int {
	return w.count
}

// Ended reports whether End succeeded since the last Reset.
func (w *DictWriter) Ended() bool {
	return w.ended
}

// Bytes returns the encoded dictionary. Only valid after End.
func (w *DictWriter) Bytes() []byte {
	if !w.ended {
		return nil
	}
	return w.buf[:w.n]
}
