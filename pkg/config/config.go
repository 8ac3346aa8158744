// Package config defines the application configuration record stored in flash
// beside the resources. The record is a fixed-size struct with zero-allocation
// binary serialization.
package config

import (
	"encoding/binary"
	"errors"
	"io"
	"time"
)

// CurrentVersion is the config format version.
// Bump this when making breaking changes to the config format.
// When firmware boots and finds a different version in flash, the record and
// all resources are wiped and must be reinstalled from the host tool.
const CurrentVersion uint16 = 1

// Size is the encoded size of AppConfig.
const Size = 32

// Flags
const (
	// FlagRequestTextOnStart asks the phone for the current text at startup.
	FlagRequestTextOnStart uint32 = 1 << 0
)

// AppConfig holds the tunables of the watch app.
// Total size: 32 bytes
// Layout:
//
//	[0-1]:   Version (uint16)
//	[2-5]:   Flags (uint32)
//	[6-7]:   RepeatIntervalMs (uint16)
//	[8-9]:   InboundBufferSize (uint16)
//	[10-11]: OutboundBufferSize (uint16)
//	[12-13]: AckTimeoutMs (uint16)
//	[14-15]: Reserved (uint16)
//	[16-31]: Name ([16]byte)
type AppConfig struct {
	Version            uint16   // Config format version
	Flags              uint32   // Feature flags
	RepeatIntervalMs   uint16   // Button auto-repeat interval
	InboundBufferSize  uint16   // Largest accepted inbound dictionary
	OutboundBufferSize uint16   // Outbound dictionary buffer
	AckTimeoutMs       uint16   // How long an outbound push waits for an ack
	Reserved           uint16   // Reserved for future use
	Name               [16]byte // UTF-8 name (null-terminated if shorter)
}

// Errors
var (
	ErrInvalidSize   = errors.New("invalid config size")
	ErrInvalidConfig = errors.New("invalid config values")
)

// minOutboundBuffer fits exactly one int32 tuple plus the count byte.
const minOutboundBuffer = 12

// Defaults returns the configuration the app shipped with.
func Defaults() AppConfig {
	cfg := AppConfig{
		Version:            CurrentVersion,
		Flags:              FlagRequestTextOnStart,
		RepeatIntervalMs:   100,
		InboundBufferSize:  64,
		OutboundBufferSize: 16,
		AckTimeoutMs:       1000,
	}
	cfg.SetName("Activator")
	return cfg
}

// Validate checks that the values can drive the app.
func (c *AppConfig) Validate() error {
	if c.OutboundBufferSize < minOutboundBuffer {
		return ErrInvalidConfig
	}
	if c.InboundBufferSize == 0 {
		return ErrInvalidConfig
	}
	// A zero timeout would leave a lost ack holding the outbound slot
	if c.AckTimeoutMs == 0 {
		return ErrInvalidConfig
	}
	return nil
}

// RepeatInterval returns the button auto-repeat interval.
func (c *AppConfig) RepeatInterval() time.Duration {
	return time.Duration(c.RepeatIntervalMs) * time.Millisecond
}

// AckTimeout returns the outbound ack timeout.
func (c *AppConfig) AckTimeout() time.Duration {
	return time.Duration(c.AckTimeoutMs) * time.Millisecond
}

// HasFlag reports whether flag is set.
func (c *AppConfig) HasFlag(flag uint32) bool {
	return c.Flags&flag != 0
}

// Marshal writes the AppConfig to w in binary format.
// Returns the number of bytes written.
func (c *AppConfig) Marshal(w io.Writer) (int, error) {
	data, err := c.MarshalBinary()
	if err != nil {
		return 0, err
	}
	return w.Write(data)
}

// Unmarshal reads the AppConfig from r in binary format.
func (c *AppConfig) Unmarshal(r io.Reader) error {
	buf := make([]byte, Size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	return c.UnmarshalBinary(buf)
}

// MarshalBinary implements encoding.BinaryMarshaler for AppConfig.
func (c *AppConfig) MarshalBinary() ([]byte, error) {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint16(buf[0:], c.Version)
	binary.LittleEndian.PutUint32(buf[2:], c.Flags)
	binary.LittleEndian.PutUint16(buf[6:], c.RepeatIntervalMs)
	binary.LittleEndian.PutUint16(buf[8:], c.InboundBufferSize)
	binary.LittleEndian.PutUint16(buf[10:], c.OutboundBufferSize)
	binary.LittleEndian.PutUint16(buf[12:], c.AckTimeoutMs)
	binary.LittleEndian.PutUint16(buf[14:], c.Reserved)
	copy(buf[16:32], c.Name[:])
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for AppConfig.
func (c *AppConfig) UnmarshalBinary(data []byte) error {
	if len(data) < Size {
		return ErrInvalidSize
	}

	c.Version = binary.LittleEndian.Uint16(data[0:])
	c.Flags = binary.LittleEndian.Uint32(data[2:])
	c.RepeatIntervalMs = binary.LittleEndian.Uint16(data[6:])
	c.InboundBufferSize = binary.LittleEndian.Uint16(data[8:])
	c.OutboundBufferSize = binary.LittleEndian.Uint16(data[10:])
	c.AckTimeoutMs = binary.LittleEndian.Uint16(data[12:])
	c.Reserved = binary.LittleEndian.Uint16(data[14:])
	copy(c.Name[:], data[16:32])
	return nil
}

// GetName returns the app name as a string (up to null terminator).
func (c *AppConfig) GetName() string {
	for i, b := range c.Name {
		if b == 0 {
			return string(c.Name[:i])
		}
	}
	return string(c.Name[:])
}

// SetName sets the app name from a string.
// If the name is longer than 15 bytes, it is truncated.
// The name is always null-terminated.
func (c *AppConfig) SetName(name string) {
	b := []byte(name)
	if len(b) > 15 {
		b = b[:15]
	}
	c.Name = [16]byte{}
	copy(c.Name[:], b)
}
