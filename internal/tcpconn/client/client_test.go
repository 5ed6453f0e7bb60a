package client

import (
	"net"
	"testing"
	"time"

	"github.com/alxayo/tcpconn/internal/tcpconn/handshake"
	"github.com/alxayo/tcpconn/internal/tcpconn/msg"
	"github.com/alxayo/tcpconn/internal/tcpconn/rawheader"
)

// listenLoopback starts a bare TCP listener and returns its host/port,
// along with the accepted net.Conn delivered on the returned channel
// once the handshake (if any) completes.
func listenLoopback(t *testing.T, withHandshake bool) (host string, port int, accepted chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	accepted = make(chan net.Conn, 1)
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		if withHandshake {
			if err := handshake.Server(raw); err != nil {
				_ = raw.Close()
				return
			}
		}
		accepted <- raw
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, accepted
}

func TestFramedClientConnectAndSend(t *testing.T) {
	host, port, accepted := listenLoopback(t, true)

	connected := make(chan struct{}, 1)
	c := NewFramed(WithOnConnected[msg.Framed](func() { connected <- struct{}{} }))

	if !c.Connect(host, port) {
		t.Fatalf("Connect returned false")
	}
	defer c.Disconnect()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatalf("OnConnected not invoked")
	}
	if !c.IsConnected() {
		t.Fatalf("expected IsConnected=true")
	}

	var serverSide net.Conn
	select {
	case serverSide = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatalf("server side never accepted connection")
	}
	defer serverSide.Close()

	m := msg.NewFramed(11)
	m.AppendString("hi")
	if err := c.Send(*m); err != nil {
		t.Fatalf("Send: %v", err)
	}

	header := make([]byte, msg.HeaderSize)
	if _, err := readFullConn(serverSide, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	typ, size, err := msg.DecodeHeader(header)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if typ != 11 {
		t.Fatalf("type = %d, want 11", typ)
	}
	body := make([]byte, int(size)-msg.HeaderSize)
	if _, err := readFullConn(serverSide, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "hi" {
		t.Fatalf("body = %q, want hi", body)
	}
}

func TestFramedClientConnectFailsOnRefusedConn(t *testing.T) {
	// Bind an ephemeral loopback port, then close it so nothing accepts there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	_ = ln.Close() // nobody is listening now

	c := NewFramed()
	if c.Connect(addr.IP.String(), addr.Port) {
		t.Fatalf("expected Connect to fail against a closed listener")
	}
	if c.IsConnected() {
		t.Fatalf("expected IsConnected=false after failed connect")
	}
}

func TestRawClientRoundTrip(t *testing.T) {
	host, port, accepted := listenLoopback(t, false)

	var received []byte
	done := make(chan struct{}, 1)
	c := NewRaw(rawheader.Descriptor{}, WithOnMessage[msg.Raw](func(m msg.Raw) {
		received = m.Body
		done <- struct{}{}
	}))

	if !c.Connect(host, port) {
		t.Fatalf("Connect returned false")
	}
	defer c.Disconnect()

	var serverSide net.Conn
	select {
	case serverSide = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatalf("server side never accepted connection")
	}
	defer serverSide.Close()

	if _, err := serverSide.Write([]byte("pong")); err != nil {
		t.Fatalf("write: %v", err)
	}

	c.Update(1, true)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("OnMessage not invoked")
	}
	if string(received) != "pong" {
		t.Fatalf("received = %q, want pong", received)
	}
}

func TestClientDisconnectUnblocksRun(t *testing.T) {
	host, port, _ := listenLoopback(t, true)
	c := NewFramed()
	if !c.Connect(host, port) {
		t.Fatalf("Connect returned false")
	}

	runDone := make(chan struct{})
	go func() {
		c.Run()
		close(runDone)
	}()

	time.Sleep(20 * time.Millisecond)
	c.Disconnect()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Disconnect")
	}
}

func readFullConn(r net.Conn, buf []byte) (int, error) {
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
