// Package client implements the client endpoint: dial a server, optionally
// complete the nonce handshake, then exchange messages through a single
// background connection.
package client

import (
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/alxayo/tcpconn/internal/logger"
	"github.com/alxayo/tcpconn/internal/tcpconn/conn"
	"github.com/alxayo/tcpconn/internal/tcpconn/handshake"
	"github.com/alxayo/tcpconn/internal/tcpconn/msg"
	"github.com/alxayo/tcpconn/internal/tcpconn/queue"
	"github.com/alxayo/tcpconn/internal/tcpconn/rawheader"
)

// clientConnID is the fixed identity a client assigns its single
// connection; clients never multiplex, so there is no id registry to
// collide with (contrast with the server's [10000,20000) cycling IDs).
const clientConnID uint32 = 1

// Option configures a Client under construction.
type Option[T any] func(*Client[T])

// WithOnConnected sets the callback invoked after a successful connect
// (and, in framed mode, after the handshake completes).
func WithOnConnected[T any](fn func()) Option[T] {
	return func(c *Client[T]) { c.onConnected = fn }
}

// WithOnDisconnected sets the callback invoked once the connection closes.
func WithOnDisconnected[T any](fn func()) Option[T] {
	return func(c *Client[T]) { c.onDisconnected = fn }
}

// WithOnMessage sets the callback Update/Run invokes per inbound message.
func WithOnMessage[T any](fn func(T)) Option[T] {
	return func(c *Client[T]) { c.onMessage = fn }
}

// Client is a single-connection endpoint generic over its message shape.
type Client[T any] struct {
	codec       conn.Codec[T]
	handshakeFn func(net.Conn) error

	inbound *queue.Blocking[conn.Incoming[T]]

	mu sync.Mutex
	c  *conn.Conn[T]

	onConnected    func()
	onDisconnected func()
	onMessage      func(T)

	shutdown atomic.Bool
}

func newClient[T any](codec conn.Codec[T], handshakeFn func(net.Conn) error, opts ...Option[T]) *Client[T] {
	c := &Client[T]{
		codec:       codec,
		handshakeFn: handshakeFn,
		inbound:     queue.New[conn.Incoming[T]](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFramed constructs a client that speaks framed mode, completing the
// nonce handshake on every Connect.
func NewFramed(opts ...Option[msg.Framed]) *Client[msg.Framed] {
	return newClient[msg.Framed](conn.FramedCodec{}, handshake.Client, opts...)
}

// NewRaw constructs a client that speaks raw mode. A zero-value
// descriptor means no application header; the library just hands back
// whatever bytes one Read call returns.
func NewRaw(header rawheader.Descriptor, opts ...Option[msg.Raw]) *Client[msg.Raw] {
	return newClient[msg.Raw](conn.RawCodec{Header: header}, nil, opts...)
}

// Connect dials host:port, runs the handshake if this client is in framed
// mode, and starts the connection's read/write loops. It reports false on
// any dial or handshake failure; OnConnected fires only on the success
// path, just before Connect returns true.
func (c *Client[T]) Connect(host string, port int) bool {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	netConn, err := net.Dial("tcp", addr)
	if err != nil {
		logger.Logger().Warn("client connect failed", "addr", addr, "error", err)
		return false
	}

	if c.handshakeFn != nil {
		if err := c.handshakeFn(netConn); err != nil {
			logger.Logger().Warn("client handshake failed", "addr", addr, "error", err)
			_ = netConn.Close()
			return false
		}
	}

	c.mu.Lock()
	c.c = conn.New(clientConnID, conn.RoleClient, netConn, c.codec, c.inbound, func(uint32) {
		if c.onDisconnected != nil {
			c.onDisconnected()
		}
	})
	c.c.Start()
	c.mu.Unlock()

	if c.onConnected != nil {
		c.onConnected()
	}
	return true
}

// Disconnect closes the connection and latches the inbound queue's exit
// flag, unblocking any caller parked in Update(wait=true) or Run.
func (c *Client[T]) Disconnect() {
	c.mu.Lock()
	active := c.c
	c.mu.Unlock()
	if active != nil {
		_ = active.Close()
	}
	c.inbound.ExitWait()
}

// IsConnected reports whether the connection is open.
func (c *Client[T]) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.c != nil && c.c.IsConnected()
}

// Send enqueues msg for transmission on the active connection. It is a
// silent no-op if there is no active connection: callers observe
// disconnection by Send quietly doing nothing, not by an error return.
func (c *Client[T]) Send(m T) error {
	c.mu.Lock()
	active := c.c
	c.mu.Unlock()
	if active == nil || !active.IsConnected() {
		return nil
	}
	return active.Send(m)
}

// Update optionally blocks until the inbound queue is non-empty or
// exiting, then pops up to max records (max<=0 means unbounded) and
// invokes OnMessage for each. It returns the number of messages delivered.
func (c *Client[T]) Update(max int, wait bool) int {
	if wait {
		c.inbound.Wait()
	}
	delivered := 0
	for max <= 0 || delivered < max {
		item, err := c.inbound.PopFront()
		if err != nil {
			break
		}
		if c.onMessage != nil {
			c.onMessage(item.Payload)
		}
		delivered++
	}
	return delivered
}

// Run installs a SIGINT/SIGTERM watcher and loops Update(0, true) until
// Disconnect is called or a signal arrives, then returns.
func (c *Client[T]) Run() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		c.shutdown.Store(true)
		c.Disconnect()
	}()

	for !c.shutdown.Load() {
		c.Update(0, true)
		if c.inbound.Exiting() {
			return
		}
	}
}
