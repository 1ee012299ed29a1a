// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"errors"
	"time"
)

// Context contains metadata about one relayed connection.
// It is passed to Handler methods.
type Context struct {
	// SessionID is a unique identifier for this connection
	SessionID string

	// RemoteAddr is the client's network address
	RemoteAddr string

	// LocalAddr is the relay address the client connected to
	LocalAddr string

	// TargetAddr is the upstream address
	TargetAddr string

	// UpstreamAddr is the local address of the outbound connection, set once dialed
	UpstreamAddr string

	// StartedAt is when the connection was accepted
	StartedAt time.Time

	// BytesUpstream is the number of bytes relayed from client to upstream.
	// Set before OnDisconnect.
	BytesUpstream int64

	// BytesDownstream is the number of bytes relayed from upstream to client.
	// Set before OnDisconnect.
	BytesDownstream int64

	// Err is the error that ended the connection, nil on a clean close.
	// Set before OnDisconnect.
	Err error
}

// Duration returns how long the connection has been open.
func (c *Context) Duration() time.Duration {
	return time.Since(c.StartedAt)
}

// Handler receives notifications about the lifecycle of relayed connections.
// The relay never inspects payloads, so there is no per-message callback.
// Errors returned by handlers are logged and never affect the relay.
type Handler interface {
	// OnConnect is called after the upstream connection is established,
	// before any byte is relayed.
	OnConnect(ctx context.Context, hctx *Context) error

	// OnDisconnect is called once for every accepted connection, after both
	// connections are closed. It is also called when the upstream dial failed,
	// in which case OnConnect was never called and hctx.Err is set.
	OnDisconnect(ctx context.Context, hctx *Context) error
}

// NoopHandler is a Handler implementation that ignores all events.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) OnConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) OnDisconnect(ctx context.Context, hctx *Context) error {
	return nil
}

// Chain returns a Handler that calls each handler in order. Every handler is
// called even if an earlier one fails; the errors are joined.
func Chain(handlers ...Handler) Handler {
	return chain(handlers)
}

type chain []Handler

func (c chain) OnConnect(ctx context.Context, hctx *Context) error {
	var errs []error
	for _, h := range c {
		errs = append(errs, h.OnConnect(ctx, hctx))
	}
	return errors.Join(errs...)
}

func (c chain) OnDisconnect(ctx context.Context, hctx *Context) error {
	var errs []error
	for _, h := range c {
		errs = append(errs, h.OnDisconnect(ctx, hctx))
	}
	return errors.Join(errs...)
}
