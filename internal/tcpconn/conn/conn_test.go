package conn

import (
	"net"
	"testing"
	"time"

	"github.com/alxayo/tcpconn/internal/tcpconn/msg"
	"github.com/alxayo/tcpconn/internal/tcpconn/queue"
)

func TestFramedRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	inbound := queue.New[Incoming[msg.Framed]]()
	c := New(1, RoleServer, a, FramedCodec{}, inbound, nil)
	c.Start()
	defer c.Close()

	peerDone := make(chan msg.Framed, 1)
	go func() {
		var header [msg.HeaderSize]byte
		if _, err := readFullTest(b, header[:]); err != nil {
			return
		}
		typ, size, _ := msg.DecodeHeader(header[:])
		body := make([]byte, int(size)-msg.HeaderSize)
		_, _ = readFullTest(b, body)
		peerDone <- msg.Framed{Type: typ, Body: body}
	}()

	out := msg.NewFramed(7)
	out.AppendString("hello")
	if err := c.Send(*out); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-peerDone:
		if got.Type != 7 || string(got.Body) != "hello" {
			t.Fatalf("unexpected message: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for peer to observe sent message")
	}
}

func TestFramedInboundDelivery(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	inbound := queue.New[Incoming[msg.Framed]]()
	c := New(2, RoleClient, a, FramedCodec{}, inbound, nil)
	c.Start()
	defer c.Close()

	m := msg.NewFramed(3)
	m.AppendString("ping")
	header := m.Header()
	go func() {
		_, _ = b.Write(header[:])
		_, _ = b.Write(m.Body)
	}()

	inbound.Wait()
	got, err := inbound.PopFront()
	if err != nil {
		t.Fatalf("PopFront: %v", err)
	}
	if got.Conn != c {
		t.Fatalf("expected Incoming.Conn to reference the owning connection")
	}
	if got.Payload.Type != 3 || string(got.Payload.Body) != "ping" {
		t.Fatalf("unexpected payload: %+v", got.Payload)
	}
}

func TestRawRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	inbound := queue.New[Incoming[msg.Raw]]()
	c := New(5, RoleServer, a, RawCodec{}, inbound, nil)
	c.Start()
	defer c.Close()

	recvDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, err := b.Read(buf)
		if err != nil {
			return
		}
		recvDone <- buf[:n]
	}()

	if err := c.Send(msg.Raw{Body: []byte("stream")}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-recvDone:
		if string(got) != "stream" {
			t.Fatalf("got %q, want stream", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for raw bytes")
	}
}

func TestCloseIsIdempotentAndUnblocksLoops(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	inbound := queue.New[Incoming[msg.Framed]]()
	closed := make(chan uint32, 1)
	c := New(9, RoleServer, a, FramedCodec{}, inbound, func(id uint32) { closed <- id })
	c.Start()

	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}

	select {
	case id := <-closed:
		if id != 9 {
			t.Fatalf("onClose id = %d, want 9", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("onClose callback not invoked")
	}
	if c.IsConnected() {
		t.Fatalf("expected IsConnected=false after Close")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	inbound := queue.New[Incoming[msg.Framed]]()
	c := New(11, RoleClient, a, FramedCodec{}, inbound, nil)
	c.Start()
	_ = c.Close()

	if err := c.Send(msg.Framed{Type: 1}); err == nil {
		t.Fatalf("expected error sending on a closed connection")
	}
}

func readFullTest(r net.Conn, buf []byte) (int, error) {
	off := 0
	for off < len(buf) {
		n, err := r.Read(buf[off:])
		off += n
		if err != nil {
			return off, err
		}
	}
	return off, nil
}
