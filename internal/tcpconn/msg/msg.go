// Package msg defines the two wire payload shapes exchanged over a
// connection — framed (type-tagged, length-prefixed) and raw (opaque
// byte stream) — along with the append/extract helpers used to build and
// consume them.
//
// Appending a value grows the body at the tail; extracting a value reads
// from the tail and shrinks the body, so a writer's append order is
// consumed in reverse by the reader. That LIFO discipline is exposed here
// as plain Append/Extract methods.
package msg

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	tcperrors "github.com/alxayo/tcpconn/internal/errors"
)

// HeaderSize is the fixed wire header length for framed messages: a
// 4-byte type tag followed by a 4-byte total size, both little-endian.
const HeaderSize = 8

// Numeric restricts Append/Extract to fixed-width types safe to copy by
// raw bit pattern, mirroring the trivially-copyable constraint the C++
// templates relied on implicitly.
type Numeric interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~int8 | ~int16 | ~int32 | ~int64 |
		~float32 | ~float64
}

// Framed is a type-tagged, length-prefixed message body.
//
// Size (the wire "size" field) always equals HeaderSize + len(Body): it is
// computed from len(Body) on every call, so the invariant holds however
// Body is mutated.
type Framed struct {
	Type uint32
	Body []byte
}

// NewFramed returns an empty message of the given type.
func NewFramed(msgType uint32) *Framed {
	return &Framed{Type: msgType}
}

// Size returns the wire-level total size field.
func (m *Framed) Size() uint32 {
	return uint32(HeaderSize + len(m.Body))
}

// Header encodes the 8-byte wire header for the message's current body.
func (m *Framed) Header() [HeaderSize]byte {
	var h [HeaderSize]byte
	binary.LittleEndian.PutUint32(h[0:4], m.Type)
	binary.LittleEndian.PutUint32(h[4:8], m.Size())
	return h
}

// DecodeHeader parses an 8-byte wire header into its type and size fields.
func DecodeHeader(h []byte) (msgType uint32, size uint32, err error) {
	if len(h) != HeaderSize {
		return 0, 0, tcperrors.NewConnError("decode_header", fmt.Errorf("need %d bytes, got %d", HeaderSize, len(h)))
	}
	msgType = binary.LittleEndian.Uint32(h[0:4])
	size = binary.LittleEndian.Uint32(h[4:8])
	return msgType, size, nil
}

// AppendBytes appends a contiguous byte sequence to the body's tail.
// It is the Go equivalent of append_seq over a flat buffer.
func (m *Framed) AppendBytes(b []byte) *Framed {
	m.Body = append(m.Body, b...)
	return m
}

// AppendString appends the raw bytes of s to the body's tail.
func (m *Framed) AppendString(s string) *Framed {
	return m.AppendBytes([]byte(s))
}

// ExtractHead copies and removes the first n bytes of the body, for the
// "application already knows the expected length" case (extract_seq /
// extract_str in the original).
func (m *Framed) ExtractHead(n int) ([]byte, error) {
	if n < 0 || n > len(m.Body) {
		return nil, tcperrors.NewQueueError("extract_head", fmt.Errorf("need %d bytes, have %d", n, len(m.Body)))
	}
	out := make([]byte, n)
	copy(out, m.Body[:n])
	m.Body = m.Body[n:]
	return out, nil
}

// ExtractString is ExtractHead wrapped as a string.
func (m *Framed) ExtractString(n int) (string, error) {
	b, err := m.ExtractHead(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Append appends the raw host-native bit pattern of v to the body's
// tail, growing Size by sizeof(v).
func Append[T Numeric](m *Framed, v T) *Framed {
	m.Body = append(m.Body, numericBytes(v)...)
	return m
}

// Extract reads sizeof(T) bytes from the body's tail, shrinks the body
// by that amount, and decodes them as T. It errors if the body is
// shorter than sizeof(T) (a caller precondition violation, section 7).
func Extract[T Numeric](m *Framed) (T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(m.Body) < size {
		return zero, tcperrors.NewQueueError("extract", fmt.Errorf("need %d trailing bytes, have %d", size, len(m.Body)))
	}
	tail := m.Body[len(m.Body)-size:]
	m.Body = m.Body[:len(m.Body)-size]
	return decodeNumeric[T](tail), nil
}

func numericBytes[T Numeric](v T) []byte {
	size := int(unsafe.Sizeof(v))
	src := unsafe.Slice((*byte)(unsafe.Pointer(&v)), size)
	out := make([]byte, size)
	copy(out, src)
	return out
}

func decodeNumeric[T Numeric](b []byte) T {
	var v T
	dst := unsafe.Slice((*byte)(unsafe.Pointer(&v)), unsafe.Sizeof(v))
	copy(dst, b)
	return v
}

// Raw is an opaque, unframed byte payload used by connections running in
// raw stream mode (no type/length header on the wire at all — any framing
// is application-defined via rawheader.Descriptor).
type Raw struct {
	Body []byte
}

// NewRaw returns an empty raw message.
func NewRaw() *Raw { return &Raw{} }

// FullSize is the number of bytes the message currently occupies.
func (m *Raw) FullSize() int { return len(m.Body) }

// AppendBytes appends a contiguous byte sequence to the body's tail.
func (m *Raw) AppendBytes(b []byte) *Raw {
	m.Body = append(m.Body, b...)
	return m
}

// AppendString appends the raw bytes of s to the body's tail.
func (m *Raw) AppendString(s string) *Raw {
	return m.AppendBytes([]byte(s))
}

// ExtractHead copies and removes the first n bytes of the body.
func (m *Raw) ExtractHead(n int) ([]byte, error) {
	if n < 0 || n > len(m.Body) {
		return nil, tcperrors.NewQueueError("extract_head", fmt.Errorf("need %d bytes, have %d", n, len(m.Body)))
	}
	out := make([]byte, n)
	copy(out, m.Body[:n])
	m.Body = m.Body[n:]
	return out, nil
}

// ExtractString is ExtractHead wrapped as a string.
func (m *Raw) ExtractString(n int) (string, error) {
	b, err := m.ExtractHead(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// AppendRaw appends the raw host-native bit pattern of v to the body's tail.
func AppendRaw[T Numeric](m *Raw, v T) *Raw {
	m.Body = append(m.Body, numericBytes(v)...)
	return m
}

// ExtractRaw reads sizeof(T) bytes from the body's tail and decodes them as T.
func ExtractRaw[T Numeric](m *Raw) (T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(m.Body) < size {
		return zero, tcperrors.NewQueueError("extract", fmt.Errorf("need %d trailing bytes, have %d", size, len(m.Body)))
	}
	tail := m.Body[len(m.Body)-size:]
	m.Body = m.Body[:len(m.Body)-size]
	return decodeNumeric[T](tail), nil
}
