// Package server implements the server endpoint: bind a listener, accept
// connections onto a cycling [10000,20000) identity space,
// and expose the same update/run contract as the client package over a
// shared inbound queue.
//
// Each endpoint owns one accept-loop goroutine; every admitted connection
// then gets its own read/write loop pair via conn.Conn[T], same as the
// client (see internal/tcpconn/conn's package doc for that half of the
// model).
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/alxayo/tcpconn/internal/logger"
	"github.com/alxayo/tcpconn/internal/tcpconn/conn"
	"github.com/alxayo/tcpconn/internal/tcpconn/handshake"
	"github.com/alxayo/tcpconn/internal/tcpconn/msg"
	"github.com/alxayo/tcpconn/internal/tcpconn/queue"
	"github.com/alxayo/tcpconn/internal/tcpconn/rawheader"
	"github.com/alxayo/tcpconn/internal/tcpconn/server/hooks"
)

// Option configures a Server under construction.
type Option[T any] func(*Server[T])

// WithOnClientConnectionRequest sets the gate invoked for every accepted
// socket before it is admitted to the active set; returning false rejects
// and closes the connection without running the handshake.
func WithOnClientConnectionRequest[T any](fn func(remoteAddr string) bool) Option[T] {
	return func(s *Server[T]) { s.onClientConnectionRequest = fn }
}

// WithOnClientConnected sets the callback invoked once a connection has
// been admitted (and, in framed mode, completed its handshake).
func WithOnClientConnected[T any](fn func(id uint32)) Option[T] {
	return func(s *Server[T]) { s.onClientConnected = fn }
}

// WithOnClientDisconnected sets the callback invoked when a connection is
// pruned from the active set.
func WithOnClientDisconnected[T any](fn func(id uint32)) Option[T] {
	return func(s *Server[T]) { s.onClientDisconnected = fn }
}

// WithOnMessage sets the callback Update/Run invokes per inbound message.
func WithOnMessage[T any](fn func(id uint32, m T)) Option[T] {
	return func(s *Server[T]) { s.onMessage = fn }
}

// WithHookManager attaches a hook manager that fires on the three
// server-side connection lifecycle events (client_connection_request,
// client_connected, client_disconnected) as they occur.
func WithHookManager[T any](hm *hooks.HookManager) Option[T] {
	return func(s *Server[T]) { s.hooks = hm }
}

// Server is a multi-connection listener endpoint generic over its message
// shape.
type Server[T any] struct {
	codec       conn.Codec[T]
	handshakeFn func(net.Conn) error

	inbound *queue.Blocking[conn.Incoming[T]]
	reg     *Registry[T]
	ids     idCycler

	mu       sync.Mutex
	ln       net.Listener
	running  atomic.Bool
	acceptWg sync.WaitGroup

	onClientConnectionRequest func(remoteAddr string) bool
	onClientConnected         func(id uint32)
	onClientDisconnected      func(id uint32)
	onMessage                 func(id uint32, m T)

	hooks *hooks.HookManager
	log   *slog.Logger
}

func newServer[T any](codec conn.Codec[T], handshakeFn func(net.Conn) error, opts ...Option[T]) *Server[T] {
	s := &Server[T]{
		codec:       codec,
		handshakeFn: handshakeFn,
		inbound:     queue.New[conn.Incoming[T]](),
		reg:         NewRegistry[T](),
		log:         logger.Logger().With("component", "tcpconn_server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFramed constructs a server that speaks framed mode, running the nonce
// handshake on every accepted connection before admitting it.
func NewFramed(opts ...Option[msg.Framed]) *Server[msg.Framed] {
	return newServer[msg.Framed](conn.FramedCodec{}, handshake.Server, opts...)
}

// NewRaw constructs a server that speaks raw mode. A zero-value descriptor
// means no application header.
func NewRaw(header rawheader.Descriptor, opts ...Option[msg.Raw]) *Server[msg.Raw] {
	return newServer[msg.Raw](conn.RawCodec{Header: header}, nil, opts...)
}

// Start binds addr and launches the accept loop. It is idempotent: a
// second call on an already-running server returns false without effect.
func (s *Server[T]) Start(addr string) bool {
	s.mu.Lock()
	if s.running.Load() {
		s.mu.Unlock()
		return false
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		s.log.Error("listen failed", "addr", addr, "error", err)
		return false
	}
	s.ln = ln
	s.running.Store(true)
	s.mu.Unlock()

	s.log.Info("server listening", "addr", ln.Addr().String())
	s.acceptWg.Add(1)
	go s.acceptLoop(ln)
	return true
}

// Addr returns the bound listener address, or nil if Start has not
// succeeded.
func (s *Server[T]) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop latches the inbound queue's exit flag, stops accepting, closes every
// active connection, and waits for the accept loop to exit. Safe to call
// more than once.
func (s *Server[T]) Stop() error {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return nil
	}
	s.running.Store(false)
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()

	var errs error
	if ln != nil {
		errs = multierr.Append(errs, ln.Close())
	}
	s.acceptWg.Wait()

	errs = multierr.Append(errs, s.reg.CloseAll())
	s.inbound.ExitWait()

	if errs != nil {
		s.log.Warn("server stop completed with errors", "error", errs)
	} else {
		s.log.Info("server stopped")
	}
	return errs
}

func (s *Server[T]) acceptLoop(ln net.Listener) {
	defer s.acceptWg.Done()
	for {
		raw, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		s.acceptWg.Add(1)
		go s.admit(raw)
	}
}

// admit runs the connection-request gate and optional handshake for one
// freshly accepted socket, then registers it in the active set. It runs on
// its own goroutine per connection so a slow or stalled handshake never
// blocks the accept loop from servicing other peers.
func (s *Server[T]) admit(raw net.Conn) {
	defer s.acceptWg.Done()
	remote := raw.RemoteAddr().String()

	accepted := s.onClientConnectionRequest == nil || s.onClientConnectionRequest(remote)
	s.fireHook(hooks.EventClientConnectionRequest, 0, map[string]interface{}{
		"remote_addr": remote,
		"accepted":    accepted,
	})
	if !accepted {
		s.log.Info("connection rejected", "remote", remote)
		_ = raw.Close()
		return
	}

	if s.handshakeFn != nil {
		if err := s.handshakeFn(raw); err != nil {
			s.log.Warn("handshake failed", "remote", remote, "error", err)
			_ = raw.Close()
			return
		}
	}

	id := s.ids.next()
	c := conn.New(id, conn.RoleServer, raw, s.codec, s.inbound, s.onConnClosed)
	s.reg.Add(c)
	c.Start()

	s.log.Info("client connected", "conn_id", id, "remote", remote)
	if s.onClientConnected != nil {
		s.onClientConnected(id)
	}
	s.fireHook(hooks.EventClientConnected, id, map[string]interface{}{"remote_addr": remote})
}

// onConnClosed is wired as every Conn[T]'s close callback: prune from the
// active set and notify the application exactly once.
func (s *Server[T]) onConnClosed(id uint32) {
	s.reg.Remove(id)
	if s.onClientDisconnected != nil {
		s.onClientDisconnected(id)
	}
	s.fireHook(hooks.EventClientDisconnected, id, nil)
}

// MessageClient forwards m to the connection identified by id. If the
// connection is no longer in the active set, nothing is sent and an error
// is returned; no disconnection notification is fired here, since it
// already fired (or will, via onConnClosed) the moment the loops observed
// the socket was gone.
func (s *Server[T]) MessageClient(id uint32, m T) error {
	c := s.reg.Get(id)
	if c == nil {
		return fmt.Errorf("conn %d: not in active set", id)
	}
	return c.Send(m)
}

// MessageAll sends m to every connected peer except ignore (pass 0 to
// exclude nothing), pruning stale entries from the active set in the same
// sweep and firing OnClientDisconnected for each one pruned.
func (s *Server[T]) MessageAll(m T, ignore uint32) {
	for _, id := range s.reg.PruneDead() {
		if s.onClientDisconnected != nil {
			s.onClientDisconnected(id)
		}
		s.fireHook(hooks.EventClientDisconnected, id, nil)
	}

	var errs error
	for _, c := range s.reg.Snapshot() {
		if c.ID() == ignore {
			continue
		}
		if !c.IsConnected() {
			continue
		}
		if err := c.Send(m); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("conn %d: %w", c.ID(), err))
		}
	}
	if errs != nil {
		s.log.Warn("broadcast send failed for one or more connections", "error", errs)
	}
}

// ConnectionCount returns the number of connections currently in the
// active set.
func (s *Server[T]) ConnectionCount() int { return s.reg.Count() }

// Update optionally blocks until the inbound queue is non-empty or
// exiting, then pops up to max records (max<=0 means unbounded) and
// invokes OnMessage for each. It returns the number of messages delivered.
func (s *Server[T]) Update(max int, wait bool) int {
	if wait {
		s.inbound.Wait()
	}
	delivered := 0
	for max <= 0 || delivered < max {
		item, err := s.inbound.PopFront()
		if err != nil {
			break
		}
		if s.onMessage != nil {
			s.onMessage(item.Conn.ID(), item.Payload)
		}
		delivered++
	}
	return delivered
}

// Run loops Update(0, true) until Stop is called and the inbound queue's
// exit flag is observed.
func (s *Server[T]) Run() {
	for s.running.Load() {
		s.Update(0, true)
		if s.inbound.Exiting() {
			return
		}
	}
}

func (s *Server[T]) fireHook(evt hooks.EventType, connID uint32, data map[string]interface{}) {
	if s.hooks == nil {
		return
	}
	e := hooks.NewEvent(evt)
	if connID != 0 {
		e.WithConnID(fmt.Sprintf("%d", connID))
	}
	for k, v := range data {
		e.WithData(k, v)
	}
	s.hooks.TriggerEvent(context.Background(), *e)
}
