package conn

import (
	"fmt"
	"io"

	"github.com/sagernet/sing/common/buf"

	"github.com/alxayo/tcpconn/internal/bufpool"
	tcperrors "github.com/alxayo/tcpconn/internal/errors"
	"github.com/alxayo/tcpconn/internal/tcpconn/msg"
	"github.com/alxayo/tcpconn/internal/tcpconn/rawheader"
)

// rawRecvBufSize is the fixed read size for raw connections with no
// configured header descriptor (section 4.4): each Read call pulls up to
// this many bytes and hands them to the application as one message.
const rawRecvBufSize = 1024

// Codec knows how to read and write one message shape off a socket. It is
// the strategy object a Conn[T] delegates wire encoding to, so the
// connection lifecycle (queues, goroutines, backpressure) stays identical
// across framed and raw mode instead of being duplicated per mode.
type Codec[T any] interface {
	ReadMessage(r io.Reader) (T, error)
	WriteMessage(w io.Writer, m T) error
}

// FramedCodec implements Codec[msg.Framed]: an 8-byte type+size header
// followed by the body.
type FramedCodec struct{}

func (FramedCodec) ReadMessage(r io.Reader) (msg.Framed, error) {
	var header [msg.HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return msg.Framed{}, tcperrors.NewConnError("read.header", err)
	}
	msgType, size, err := msg.DecodeHeader(header[:])
	if err != nil {
		return msg.Framed{}, tcperrors.NewConnError("decode.header", err)
	}
	if size < msg.HeaderSize {
		return msg.Framed{}, tcperrors.NewConnError("decode.header", fmt.Errorf("size %d smaller than header", size))
	}
	bodyLen := int(size) - msg.HeaderSize

	var body []byte
	if bodyLen > 0 {
		scratch := bufpool.Get(bodyLen)
		if _, err := io.ReadFull(r, scratch); err != nil {
			bufpool.Put(scratch)
			return msg.Framed{}, tcperrors.NewConnError("read.body", err)
		}
		body = make([]byte, bodyLen)
		copy(body, scratch)
		bufpool.Put(scratch)
	}

	return msg.Framed{Type: msgType, Body: body}, nil
}

func (FramedCodec) WriteMessage(w io.Writer, m msg.Framed) error {
	header := m.Header()
	if err := writeCombined(w, header[:], m.Body); err != nil {
		return tcperrors.NewConnError("write.framed", err)
	}
	return nil
}

// writeCombined joins header and body into one pooled buffer so the
// syscall layer sees a single contiguous write instead of two, using
// sing's buffer pool to avoid an extra heap allocation per message.
func writeCombined(w io.Writer, header, body []byte) error {
	b := buf.NewSize(len(header) + len(body))
	defer b.Release()
	_, _ = b.Write(header)
	_, _ = b.Write(body)
	_, err := w.Write(b.Bytes())
	return err
}

// RawCodec implements Codec[msg.Raw]: an unframed byte stream. With a
// zero-value Descriptor it hands back whatever one Read call returns, up
// to rawRecvBufSize bytes. With a configured Descriptor it first reads the
// fixed header, decodes the body length, then reads exactly that many body
// bytes — the delivered message is the full frame, header followed by
// body, not the body alone.
type RawCodec struct {
	Header rawheader.Descriptor
}

func (c RawCodec) ReadMessage(r io.Reader) (msg.Raw, error) {
	if !c.Header.Enabled() {
		scratch := bufpool.Get(rawRecvBufSize)
		defer bufpool.Put(scratch)
		n, err := r.Read(scratch)
		if err != nil {
			return msg.Raw{}, tcperrors.NewConnError("read.raw", err)
		}
		body := make([]byte, n)
		copy(body, scratch[:n])
		return msg.Raw{Body: body}, nil
	}

	header := make([]byte, c.Header.HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return msg.Raw{}, tcperrors.NewConnError("read.raw_header", err)
	}
	bodyLen, err := c.Header.BodyLen(header)
	if err != nil {
		return msg.Raw{}, tcperrors.NewConnError("decode.raw_header", err)
	}

	frame := make([]byte, len(header), len(header)+bodyLen)
	copy(frame, header)
	if bodyLen > 0 {
		scratch := bufpool.Get(bodyLen)
		if _, err := io.ReadFull(r, scratch); err != nil {
			bufpool.Put(scratch)
			return msg.Raw{}, tcperrors.NewConnError("read.raw_body", err)
		}
		frame = append(frame, scratch...)
		bufpool.Put(scratch)
	}
	return msg.Raw{Body: frame}, nil
}

func (RawCodec) WriteMessage(w io.Writer, m msg.Raw) error {
	if len(m.Body) == 0 {
		return nil
	}
	if _, err := w.Write(m.Body); err != nil {
		return tcperrors.NewConnError("write.raw", err)
	}
	return nil
}
