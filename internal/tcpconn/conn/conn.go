// Package conn implements the per-connection state machine: a read loop
// and a write loop run as goroutines over a net.Conn, bridging inbound
// traffic into a shared blocking queue and outbound traffic from a
// per-connection buffered channel.
//
// This plays the role the original's boost::asio strand played for a
// single connection — one reader, one writer, no interleaved access to
// the socket — but expressed with goroutines, channels, and
// context.Context instead of an io_context executor (see the package doc
// for internal/tcpconn/server for the accept-loop half of this model).
package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/alxayo/tcpconn/internal/logger"
	"github.com/alxayo/tcpconn/internal/tcpconn/queue"
)

// Role distinguishes which endpoint kind owns a connection, purely for
// logging and for deciding which side of the handshake to run.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// sendTimeout bounds how long Send will block offering a message to a
// full outbound queue before reporting backpressure to the caller.
const sendTimeout = 200 * time.Millisecond

// outboundQueueSize is the per-connection outbound channel capacity.
const outboundQueueSize = 256

// Incoming pairs a received payload with the connection it arrived on, so
// a shared inbound queue consumer can reply to or identify the sender
// without a side-channel lookup.
type Incoming[T any] struct {
	Conn    *Conn[T]
	Payload T
}

// Conn is a single accepted or dialed connection, generic over its
// message shape (msg.Framed or msg.Raw). Construct one with New, then
// call Start to launch its read/write goroutines.
type Conn[T any] struct {
	id         uint32
	role       Role
	netConn    net.Conn
	remoteAddr string
	codec      Codec[T]
	inbound    *queue.Blocking[Incoming[T]]
	outbound   chan T
	onClose    func(id uint32)

	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New wraps an already-handshaken net.Conn into a Conn[T] ready to Start.
// inbound is the endpoint's shared queue; onClose, if non-nil, is invoked
// exactly once when the connection's loops have both exited.
func New[T any](id uint32, role Role, netConn net.Conn, codec Codec[T], inbound *queue.Blocking[Incoming[T]], onClose func(id uint32)) *Conn[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn[T]{
		id:         id,
		role:       role,
		netConn:    netConn,
		remoteAddr: netConn.RemoteAddr().String(),
		codec:      codec,
		inbound:    inbound,
		outbound:   make(chan T, outboundQueueSize),
		onClose:    onClose,
		log:        logger.WithRole(logger.WithConn(logger.Logger(), id, netConn.RemoteAddr().String()), role.String()),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// ID returns the connection's registry identifier.
func (c *Conn[T]) ID() uint32 { return c.id }

// RemoteAddr returns the peer address captured at construction time.
func (c *Conn[T]) RemoteAddr() string { return c.remoteAddr }

// IsConnected reports whether the connection's loops are still running.
func (c *Conn[T]) IsConnected() bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}

// Start launches the read and write loop goroutines. Call once, after
// any handshake has already completed on netConn.
func (c *Conn[T]) Start() {
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
}

// Send enqueues a message for transmission. It blocks up to sendTimeout
// waiting for room in the outbound queue, mirroring the original's
// bounded backpressure behavior for a slow peer.
func (c *Conn[T]) Send(m T) error {
	if !c.IsConnected() {
		return fmt.Errorf("conn %d: not connected", c.id)
	}
	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		return fmt.Errorf("conn %d: closed", c.id)
	case c.outbound <- m:
		return nil
	case <-timer.C:
		return fmt.Errorf("conn %d: send queue full (len=%d)", c.id, len(c.outbound))
	}
}

// Close tears down the connection: cancels its context, closes the
// socket (unblocking any in-flight Read/Write), and waits for both
// loops to exit before invoking onClose exactly once.
func (c *Conn[T]) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.netConn.Close()
		c.wg.Wait()
		if c.onClose != nil {
			c.onClose(c.id)
		}
	})
	return err
}

func (c *Conn[T]) readLoop() {
	defer c.wg.Done()
	c.log.Debug("read loop started")
	for {
		select {
		case <-c.ctx.Done():
			c.log.Debug("read loop stopping: context cancelled")
			return
		default:
		}

		m, err := c.codec.ReadMessage(c.netConn)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
				return
			}
			if errors.Is(err, io.EOF) {
				c.log.Debug("read loop: peer closed connection")
			} else {
				c.log.Warn("read loop error", "error", err)
			}
			go c.Close()
			return
		}

		if c.inbound != nil {
			c.inbound.PushBack(Incoming[T]{Conn: c, Payload: m})
		}
	}
}

func (c *Conn[T]) writeLoop() {
	defer c.wg.Done()
	c.log.Debug("write loop started")
	for {
		select {
		case <-c.ctx.Done():
			c.log.Debug("write loop stopping: context cancelled")
			return
		case m, ok := <-c.outbound:
			if !ok {
				return
			}
			if err := c.codec.WriteMessage(c.netConn, m); err != nil {
				c.log.Warn("write loop error", "error", err)
				go c.Close()
				return
			}
		}
	}
}
