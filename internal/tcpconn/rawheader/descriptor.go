// Package rawheader describes an optional, application-defined length
// prefix that a raw-mode connection can use to recover message boundaries
// from an otherwise unframed byte stream.
//
// It is configured with the functional-options pattern, the same shape
// used throughout this codebase's configuration surfaces (see
// internal/tcpconn/client and cmd/tcpconn-server for the matching style).
package rawheader

import (
	"encoding/binary"
	"fmt"
)

// Descriptor describes where, within a fixed-size header, the body length
// lives and how to interpret it. The zero value describes no header at
// all (HeaderSize 0): raw mode with no application-level framing.
type Descriptor struct {
	HeaderSize           int
	LengthOffset         int
	LengthSize           int
	LengthIncludesHeader bool
	BigEndianLength      bool
}

// Option mutates a Descriptor under construction.
type Option func(*Descriptor)

// New builds a Descriptor from the given options, defaulting to no header.
func New(opts ...Option) Descriptor {
	var d Descriptor
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithHeaderSize sets the total fixed header length in bytes.
func WithHeaderSize(n int) Option {
	return func(d *Descriptor) { d.HeaderSize = n }
}

// WithLengthOffset sets the byte offset, within the header, of the length field.
func WithLengthOffset(n int) Option {
	return func(d *Descriptor) { d.LengthOffset = n }
}

// WithLengthSize sets the width of the length field in bytes (1, 2, or 4).
func WithLengthSize(n int) Option {
	return func(d *Descriptor) { d.LengthSize = n }
}

// WithLengthIncludesHeader marks the length field as counting the header
// bytes themselves, not just the body that follows.
func WithLengthIncludesHeader() Option {
	return func(d *Descriptor) { d.LengthIncludesHeader = true }
}

// WithBigEndianLength selects big-endian decoding for the length field
// (little-endian is the default).
func WithBigEndianLength() Option {
	return func(d *Descriptor) { d.BigEndianLength = true }
}

// Enabled reports whether this descriptor defines an actual header to parse.
func (d Descriptor) Enabled() bool { return d.HeaderSize > 0 }

// Validate checks the descriptor's fields are internally consistent.
func (d Descriptor) Validate() error {
	if !d.Enabled() {
		return nil
	}
	switch d.LengthSize {
	case 1, 2, 4:
	default:
		return fmt.Errorf("rawheader: length size must be 1, 2, or 4, got %d", d.LengthSize)
	}
	if d.LengthOffset < 0 || d.LengthOffset+d.LengthSize > d.HeaderSize {
		return fmt.Errorf("rawheader: length field [%d:%d) does not fit in header of size %d",
			d.LengthOffset, d.LengthOffset+d.LengthSize, d.HeaderSize)
	}
	return nil
}

// BodyLen decodes the body length encoded in a HeaderSize-byte header.
// The returned value is always the number of body bytes that follow the
// header, regardless of whether the wire field counted the header bytes
// too.
func (d Descriptor) BodyLen(header []byte) (int, error) {
	if !d.Enabled() {
		return 0, fmt.Errorf("rawheader: descriptor has no header configured")
	}
	if len(header) != d.HeaderSize {
		return 0, fmt.Errorf("rawheader: need %d header bytes, got %d", d.HeaderSize, len(header))
	}
	field := header[d.LengthOffset : d.LengthOffset+d.LengthSize]

	order := binary.ByteOrder(binary.LittleEndian)
	if d.BigEndianLength {
		order = binary.BigEndian
	}

	var raw uint64
	switch d.LengthSize {
	case 1:
		raw = uint64(field[0])
	case 2:
		raw = uint64(order.Uint16(field))
	case 4:
		raw = uint64(order.Uint32(field))
	}

	total := int(raw)
	if d.LengthIncludesHeader {
		total -= d.HeaderSize
	}
	if total < 0 {
		return 0, fmt.Errorf("rawheader: decoded negative body length %d", total)
	}
	return total, nil
}
