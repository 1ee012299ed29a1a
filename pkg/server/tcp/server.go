// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	rerrors "github.com/absmach/mrelay/pkg/errors"
	"github.com/absmach/mrelay/pkg/handler"
	"github.com/absmach/mrelay/pkg/metrics"
	"github.com/absmach/mrelay/pkg/relay"
	"github.com/google/uuid"
)

var (
	// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// Config holds the TCP server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// TargetAddress is the upstream server address to relay to (host:port)
	TargetAddress string

	// DialTimeout bounds each upstream dial (default: 10s)
	DialTimeout time.Duration

	// Linger is how long the other direction may keep running after one
	// direction reached end-of-stream. Zero tears down at once.
	Linger time.Duration

	// TCPKeepAlive is the keep-alive period for inbound and outbound
	// connections. Zero uses the Go default, negative disables keep-alive.
	TCPKeepAlive time.Duration

	// DisableNoDelay turns Nagle's algorithm back on for both connections.
	DisableNoDelay bool

	// ShutdownTimeout is the maximum time to wait for active connections to drain
	// during graceful shutdown. After this timeout, remaining connections are
	// forcefully closed.
	ShutdownTimeout time.Duration

	// Dialer opens upstream connections. Defaults to a net.Dialer.
	Dialer relay.Dialer

	// Metrics, if set, receives connection and traffic metrics
	Metrics *metrics.Metrics

	// Logger for server events
	Logger *slog.Logger
}

// Server accepts TCP connections and relays each one to the target address.
type Server struct {
	config   Config
	handler  handler.Handler
	dialer   relay.Dialer
	wg       sync.WaitGroup
	mu       sync.Mutex
	addr     net.Addr
	ready    chan struct{}
	sessions map[string]*handler.Context
}

// New creates a new TCP server with the given configuration and handler.
func New(cfg Config, h handler.Handler) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if h == nil {
		h = &handler.NoopHandler{}
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &net.Dialer{KeepAlive: cfg.TCPKeepAlive}
	}

	return &Server{
		config:   cfg,
		handler:  h,
		dialer:   dialer,
		ready:    make(chan struct{}),
		sessions: make(map[string]*handler.Context),
	}
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the address the server is listening on, or nil before Listen bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Sessions returns a snapshot of the connections currently being relayed,
// oldest first.
func (s *Server) Sessions() []handler.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make([]handler.Context, 0, len(s.sessions))
	for _, hctx := range s.sessions {
		sessions = append(sessions, *hctx)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	return sessions
}

// Listen starts the TCP server and blocks until the context is cancelled or
// the listener fails. It implements graceful shutdown with connection draining.
func (s *Server) Listen(ctx context.Context) error {
	lc := net.ListenConfig{KeepAlive: s.config.TCPKeepAlive}
	listener, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		return rerrors.New(rerrors.ErrBind, "listen", "", s.config.Address, err)
	}

	s.mu.Lock()
	s.addr = listener.Addr()
	s.mu.Unlock()
	close(s.ready)

	s.config.Logger.Info("TCP relay started",
		slog.String("address", listener.Addr().String()),
		slog.String("target", s.config.TargetAddress))

	// Create a separate context for active connections
	// This allows us to control when to forcefully close connections
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	// Accept loop
	acceptErr := make(chan error, 1)
	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					// Expected error during shutdown
					return
				}
				if errors.Is(err, net.ErrClosed) {
					acceptErr <- rerrors.New(rerrors.ErrAccept, "accept", "", s.config.Address, err)
					return
				}
				s.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
				if s.config.Metrics != nil {
					s.config.Metrics.ConnectionErrors.WithLabelValues(rerrors.Kind(rerrors.ErrAccept)).Inc()
				}
				continue
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if err := s.handleConn(connCtx, conn); err != nil {
					s.config.Logger.Debug("connection handler error",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.String("error", err.Error()))
				}
			}()
		}
	}()

	// Wait for shutdown signal or a dead listener
	var listenErr error
	select {
	case <-ctx.Done():
		s.config.Logger.Info("shutdown signal received, closing listener")
	case listenErr = <-acceptErr:
		s.config.Logger.Error("listener failed", slog.String("error", listenErr.Error()))
	}

	// Close the listener to stop accepting new connections
	if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}

	// Wait for accept loop to finish
	<-acceptDone

	// Wait for active connections to drain with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all connections closed gracefully")
		return listenErr
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded, forcing connection closure")
		// Cancel context to force close remaining connections
		connCancel()
		// Give a little more time for forced closure
		select {
		case <-done:
			return ErrShutdownTimeout
		case <-time.After(1 * time.Second):
			return ErrShutdownTimeout
		}
	}
}

// handleConn relays a single client connection by:
// 1. Creating a handler context with connection metadata
// 2. Dialing the upstream and splitting both connections
// 3. Copying both directions until one ends, then tearing both down
// 4. Reporting the outcome to metrics and the handler
func (s *Server) handleConn(ctx context.Context, inbound net.Conn) error {
	hctx := &handler.Context{
		SessionID:  uuid.New().String(),
		RemoteAddr: inbound.RemoteAddr().String(),
		LocalAddr:  inbound.LocalAddr().String(),
		TargetAddr: s.config.TargetAddress,
		StartedAt:  time.Now(),
	}
	s.track(hctx)

	s.setOptions(inbound)

	cfg := relay.Config{
		TargetAddress: s.config.TargetAddress,
		Dialer:        s.dialer,
		DialTimeout:   s.config.DialTimeout,
		Linger:        s.config.Linger,
		OnConnect: func(outbound net.Conn) {
			s.setOptions(outbound)
			s.setUpstream(hctx, outbound.LocalAddr().String())

			if s.config.Metrics != nil {
				s.config.Metrics.BackendDialDuration.WithLabelValues(s.config.TargetAddress).Observe(hctx.Duration().Seconds())
			}

			s.config.Logger.Debug("connection established",
				slog.String("session", hctx.SessionID),
				slog.String("client", hctx.RemoteAddr),
				slog.String("backend", s.config.TargetAddress))

			if err := s.handler.OnConnect(ctx, hctx); err != nil {
				s.config.Logger.Error("connect handler error",
					slog.String("session", hctx.SessionID),
					slog.String("error", err.Error()))
			}
		},
	}

	var stats relay.Stats
	transfer := func() error {
		var err error
		stats, err = relay.Transfer(ctx, inbound, cfg)
		return err
	}

	var err error
	if s.config.Metrics != nil {
		err = s.config.Metrics.ObserveConnection(transfer)
	} else {
		err = transfer()
	}

	s.untrack(hctx)

	var re *rerrors.RelayError
	if errors.As(err, &re) {
		re.SessionID = hctx.SessionID
		re.RemoteAddr = hctx.RemoteAddr
	}

	hctx.BytesUpstream = stats.Upstream
	hctx.BytesDownstream = stats.Downstream
	hctx.Err = err

	if m := s.config.Metrics; m != nil {
		m.BytesRelayed.WithLabelValues(relay.Upstream.String()).Add(float64(stats.Upstream))
		m.BytesRelayed.WithLabelValues(relay.Downstream.String()).Add(float64(stats.Downstream))
		if err != nil {
			m.ConnectionErrors.WithLabelValues(rerrors.Kind(err)).Inc()
		}
	}

	// Notify disconnect
	if herr := s.handler.OnDisconnect(context.Background(), hctx); herr != nil {
		s.config.Logger.Error("disconnect handler error",
			slog.String("session", hctx.SessionID),
			slog.String("error", herr.Error()))
	}

	s.config.Logger.Debug("connection closed",
		slog.String("session", hctx.SessionID),
		slog.Int64("upstream_bytes", stats.Upstream),
		slog.Int64("downstream_bytes", stats.Downstream))

	return err
}

func (s *Server) setOptions(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(!s.config.DisableNoDelay)
	}
}

func (s *Server) track(hctx *handler.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[hctx.SessionID] = hctx
}

func (s *Server) untrack(hctx *handler.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, hctx.SessionID)
}

func (s *Server) setUpstream(hctx *handler.Context, addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hctx.UpstreamAddr = addr
}
