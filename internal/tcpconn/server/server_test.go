package server

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alxayo/tcpconn/internal/tcpconn/handshake"
	"github.com/alxayo/tcpconn/internal/tcpconn/msg"
	"github.com/alxayo/tcpconn/internal/tcpconn/rawheader"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestServerStartStop(t *testing.T) {
	s := NewFramed()
	if !s.Start("127.0.0.1:0") {
		t.Fatalf("Start returned false")
	}
	if s.Addr() == nil {
		t.Fatalf("expected non-nil addr")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
}

func TestServerAcceptsFramedConnectionAndRepliesToMessage(t *testing.T) {
	received := make(chan msg.Framed, 1)
	var connectedID uint32
	var once sync.Once
	s := NewFramed(
		WithOnClientConnected[msg.Framed](func(id uint32) { once.Do(func() { connectedID = id }) }),
		WithOnMessage[msg.Framed](func(id uint32, m msg.Framed) { received <- m }),
	)
	if !s.Start("127.0.0.1:0") {
		t.Fatalf("Start returned false")
	}
	defer s.Stop()

	addr := s.Addr().String()
	raw, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()
	if err := handshake.Client(raw); err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return s.ConnectionCount() == 1 })
	if connectedID < 10000 || connectedID >= 20000 {
		t.Fatalf("connection id %d out of [10000,20000) range", connectedID)
	}

	header := make([]byte, msg.HeaderSize)
	binaryPutUint32(header[0:4], 7)
	binaryPutUint32(header[4:8], uint32(msg.HeaderSize+2))
	if _, err := raw.Write(header); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := raw.Write([]byte("hi")); err != nil {
		t.Fatalf("write body: %v", err)
	}

	select {
	case m := <-received:
		if m.Type != 7 || string(m.Body) != "hi" {
			t.Fatalf("unexpected message: type=%d body=%q", m.Type, m.Body)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not deliver inbound message")
	}

	if err := s.MessageClient(connectedID, *msg.NewFramed(9).AppendString("pong")); err != nil {
		t.Fatalf("MessageClient: %v", err)
	}
	respHeader := make([]byte, msg.HeaderSize)
	if _, err := readFullConnServer(raw, respHeader); err != nil {
		t.Fatalf("read response header: %v", err)
	}
	typ, size, err := msg.DecodeHeader(respHeader)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if typ != 9 {
		t.Fatalf("type = %d, want 9", typ)
	}
	body := make([]byte, int(size)-msg.HeaderSize)
	if _, err := readFullConnServer(raw, body); err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if string(body) != "pong" {
		t.Fatalf("body = %q, want pong", body)
	}
}

func TestServerRejectsConnectionRequest(t *testing.T) {
	s := NewFramed(WithOnClientConnectionRequest[msg.Framed](func(remoteAddr string) bool { return false }))
	if !s.Start("127.0.0.1:0") {
		t.Fatalf("Start returned false")
	}
	defer s.Stop()

	raw, err := net.DialTimeout("tcp", s.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()

	buf := make([]byte, 1)
	raw.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := raw.Read(buf); err == nil {
		t.Fatalf("expected rejected connection to close without handshake bytes")
	}
	if s.ConnectionCount() != 0 {
		t.Fatalf("rejected connection must never enter the active set")
	}
}

func TestServerMessageAllBroadcastsAndReportsDeadPeer(t *testing.T) {
	var mu sync.Mutex
	var disconnected []uint32
	s := NewFramed(WithOnClientDisconnected[msg.Framed](func(id uint32) {
		mu.Lock()
		disconnected = append(disconnected, id)
		mu.Unlock()
	}))
	if !s.Start("127.0.0.1:0") {
		t.Fatalf("Start returned false")
	}
	defer s.Stop()
	addr := s.Addr().String()

	rawA, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial A: %v", err)
	}
	defer rawA.Close()
	if err := handshake.Client(rawA); err != nil {
		t.Fatalf("handshake A: %v", err)
	}

	rawB, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial B: %v", err)
	}
	if err := handshake.Client(rawB); err != nil {
		t.Fatalf("handshake B: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return s.ConnectionCount() == 2 })

	var ids []uint32
	for _, c := range s.reg.Snapshot() {
		ids = append(ids, c.ID())
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 tracked ids, got %d", len(ids))
	}

	// Kill B's underlying socket from under the registry, then broadcast:
	// B's own close callback (or, failing that, MessageAll's prune sweep)
	// must fire OnClientDisconnected, and A must still get the broadcast.
	_ = rawB.Close()
	waitFor(t, 2*time.Second, func() bool { return s.ConnectionCount() <= 2 })
	time.Sleep(50 * time.Millisecond) // let the server-side read loop notice the close

	s.MessageAll(*msg.NewFramed(3).AppendString("all"), 0)

	header := make([]byte, msg.HeaderSize)
	rawA.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFullConnServer(rawA, header); err != nil {
		t.Fatalf("read broadcast header: %v", err)
	}
	typ, _, err := msg.DecodeHeader(header)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if typ != 3 {
		t.Fatalf("type = %d, want 3", typ)
	}

	mu.Lock()
	gotDisconnect := len(disconnected) >= 1
	mu.Unlock()
	if !gotDisconnect {
		t.Fatalf("expected OnClientDisconnected to fire for the pruned stale connection")
	}
}

func TestServerRawModeWithHeaderDescriptor(t *testing.T) {
	desc := rawheader.New(
		rawheader.WithHeaderSize(4),
		rawheader.WithLengthOffset(2),
		rawheader.WithLengthSize(2),
		rawheader.WithBigEndianLength(),
	)
	received := make(chan []byte, 1)
	s := NewRaw(desc, WithOnMessage[msg.Raw](func(id uint32, m msg.Raw) { received <- m.Body }))
	if !s.Start("127.0.0.1:0") {
		t.Fatalf("Start returned false")
	}
	defer s.Stop()

	raw, err := net.DialTimeout("tcp", s.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()

	// Header declares a 3-byte body ("hi!") via a big-endian length field
	// at offset 2; the full 7-byte frame (header+body) must be delivered.
	frame := []byte{0xAA, 0xBB, 0x00, 0x03, 'h', 'i', '!'}
	if _, err := raw.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case body := <-received:
		if string(body) != string(frame) {
			t.Fatalf("body = %q, want %q", body, frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not deliver raw message")
	}
}

func binaryPutUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func readFullConnServer(r net.Conn, buf []byte) (int, error) {
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
