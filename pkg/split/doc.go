// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package split divides one full-duplex connection into a read half and a
// write half that can be driven by different goroutines.
//
// # Overview
//
// A relay runs two copy loops per connection: one reads from it, the other
// writes to it. Handing the same connection value to both loops lets either
// loop call any method on it. Split instead returns two capability views:
//
//	r, w := split.Split(conn)
//
//	go relay.Copy(upstream, r)   // r can only Read
//	go relay.Copy(w, upstream)   // w can only Write
//
// # Leases
//
// Both halves point at one shared cell that owns the connection. Each Read
// takes the read lease, performs exactly one Read on the connection and
// returns the lease, even on error. Write does the same with the write lease.
// So at most one Read and at most one Write are in flight on the connection
// at any instant. The two directions are independent, the way TCP treats
// them, so a read blocked waiting for data never holds up a write.
//
//	              ┌──────────── shared ────────────┐
//	ReadHalf  ──→ │ read lease  ─┐                 │
//	              │              ├──→ conn         │
//	WriteHalf ──→ │ write lease ─┘                 │
//	              │ refs = 2, closed               │
//	              └────────────────────────────────┘
//
// CloseWrite takes the write lease, so a half-close never cuts an in-flight
// write short.
//
// # Lifetime
//
// The cell holds one reference per half. Close on a half drops its reference
// and the connection is closed when the last one goes, so the connection
// lives as long as the longer-lived half.
//
// Shutdown is the teardown primitive. It closes the connection at once,
// without waiting for any lease, which makes a pending Read or Write on
// either half return with an error. Use it to stop the sibling loop once one
// direction has finished.
package split
