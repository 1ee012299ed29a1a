// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler provides the hooks that let applications observe relayed
// connections.
//
// # Lifecycle
//
//	accept → dial upstream ─ok──→ OnConnect → relay both ways → close → OnDisconnect
//	                       └fail─────────────────────────────→ close → OnDisconnect (Err set)
//
// OnDisconnect is called exactly once per accepted connection. By then the
// Context carries the byte counts of both directions and the error that
// ended the connection, if any.
//
// # Context
//
// The Context struct carries session metadata across handler calls:
//   - SessionID: Unique identifier for this connection
//   - RemoteAddr, LocalAddr: Client side of the relay
//   - TargetAddr, UpstreamAddr: Upstream side of the relay
//   - StartedAt: Accept time
//   - BytesUpstream, BytesDownstream, Err: Outcome, set before OnDisconnect
//
// Handlers are notification only. The relay does no admission control, so a
// handler error is logged and the connection proceeds.
//
// # Example
//
//	type auditHandler struct {
//		log AuditLog
//	}
//
//	func (h *auditHandler) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
//		return h.log.Record(hctx.SessionID, hctx.BytesUpstream, hctx.BytesDownstream)
//	}
//
// Several handlers are combined with Chain.
package handler
