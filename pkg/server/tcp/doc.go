// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the accepting side of mRelay.
//
// # Overview
//
// The TCP server binds one listen address, accepts connections in a loop and
// relays each one to a fixed target address. Payloads are never inspected.
//
// # Architecture
//
//	┌─────────┐         ┌─────────┐         ┌─────────┐
//	│ Client  │ ←─TCP─→ │  Server │ ←─TCP─→ │ Backend │
//	└─────────┘         └─────────┘         └─────────┘
//	                         ↓
//	                    ┌─────────┐
//	                    │ Handler │
//	                    └─────────┘
//
// # Connection Flow
//
//  1. Client connects to server
//  2. Server accepts connection and starts a goroutine for it
//  3. Server dials the target (a failure closes the client connection)
//  4. Server calls handler.OnConnect()
//  5. relay.Pipe splits both connections and copies:
//     - Upstream: Client → Backend
//     - Downstream: Backend → Client
//  6. When one direction ends both connections are shut down
//  7. Server calls handler.OnDisconnect()
//
// The accept loop never waits on a connection. A failed accept is logged and
// the loop continues; only a closed listener ends it.
//
// # Graceful Shutdown
//
// When context is canceled:
//
//  1. Server stops accepting new connections
//  2. Server waits for existing connections (with timeout)
//  3. After ShutdownTimeout, forcefully closes remaining connections
//  4. Returns ErrShutdownTimeout if timeout exceeded
//
// # Configuration
//
//   - Address: Server listen address (e.g., ":3556")
//   - TargetAddress: Upstream address (e.g., "backend:80")
//   - DialTimeout: Upstream dial bound (default: 10s)
//   - Linger: Grace period for the other direction after one ends (default: 0)
//   - TCPKeepAlive, DisableNoDelay: Socket options for both connections
//   - ShutdownTimeout: Max wait time for graceful shutdown (default: 30s)
//   - Metrics: Optional Prometheus metrics
//   - Logger: Structured logger
//
// # Error Handling
//
//   - Bind errors: Returned from Listen (errors.ErrBind)
//   - Accept errors: Logged, loop continues (errors.ErrAccept)
//   - Dial errors: Logged, client connection closed (errors.ErrDial)
//   - Relay errors: Logged, both connections closed (errors.ErrRelay)
//   - Shutdown timeout: Returns ErrShutdownTimeout
//
// None of them is retried, and none of them affects other connections.
//
// # Example
//
//	cfg := tcp.Config{
//		Address:         ":3556",
//		TargetAddress:   "backend:80",
//		ShutdownTimeout: 30 * time.Second,
//	}
//
//	server := tcp.New(cfg, &handler.NoopHandler{})
//	if err := server.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package tcp
