// Package bitmap decodes raw 1-bit bitmap resources.
//
// Resource layout (little-endian):
//
//	[0-1]:   RowStride (uint16, bytes per row)
//	[2-3]:   InfoFlags (uint16)
//	[4-7]:   Reserved, not read
//	[8-9]:   Width (int16)
//	[10-11]: Height (int16)
//	[12-]:   Pixel data, one bit per pixel, LSB is the leftmost pixel
package bitmap

import (
	"encoding/binary"
	"errors"
)

const (
	// BufferSize is the size of the buffer resources are loaded into.
	// Larger resources are truncated by the loader.
	BufferSize = 1024

	// HeaderSize is the offset of the pixel data.
	HeaderSize = 12
)

// Errors
var (
	ErrShortBuffer = errors.New("bitmap buffer shorter than header")
)

// Buffer is the backing store for a loaded bitmap resource.
type Buffer [BufferSize]byte

// Descriptor is a view over pixel data plus its geometry.
// Pixels aliases the decoded buffer; the buffer must not be reused while the
// descriptor is on screen.
type Descriptor struct {
	Pixels    []byte
	RowStride uint16
	InfoFlags uint16
	Width     int16
	Height    int16
	OriginX   int16
	OriginY   int16
}

// Loader supplies resource blobs.
type Loader interface {
	LoadResource(id uint32, buf []byte) (int, error)
}

// Decode interprets data as a bitmap resource. The origin is always (0,0).
// Geometry is not checked against the pixel data; see Fits.
func Decode(data []byte) (Descriptor, error) {
	if len(data) < HeaderSize {
		return Descriptor{}, ErrShortBuffer
	}

	return Descriptor{
		Pixels:    data[HeaderSize:],
		RowStride: binary.LittleEndian.Uint16(data[0:]),
		InfoFlags: binary.LittleEndian.Uint16(data[2:]),
		Width:     int16(binary.LittleEndian.Uint16(data[8:])),
		Height:    int16(binary.LittleEndian.Uint16(data[10:])),
	}, nil
}

// Load reads resource id into buf and decodes it.
func Load(loader Loader, id uint32, buf *Buffer) (Descriptor, error) {
	n, err := loader.LoadResource(id, buf[:])
	if err != nil {
		return Descriptor{}, err
	}
	if n < HeaderSize {
		return Descriptor{}, ErrShortBuffer
	}
	return Decode(buf[:])
}

// Fits reports whether the declared geometry is backed by pixel data.
func (d Descriptor) Fits() bool {
	if d.Width < 0 || d.Height < 0 {
		return false
	}
	if int(d.RowStride)*8 < int(d.Width) {
		return false
	}
	return int(d.RowStride)*int(d.Height) <= len(d.Pixels)
}

// At reports whether the pixel at (x, y) is set. Pixels outside the bitmap
// or past the end of the pixel data read as unset.
func (d Descriptor) At(x, y int) bool {
	if x < 0 || y < 0 || x >= int(d.Width) || y >= int(d.Height) {
		return false
	}
	i := y*int(d.RowStride) + x/8
	if i >= len(d.Pixels) {
		return false
	}
	return d.Pixels[i]&(1<<uint(x%8)) != 0
}
