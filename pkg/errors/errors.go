// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for mRelay.
//
// Every failure the relay reports belongs to one kind. Kinds are sentinel
// errors so callers can branch with errors.Is, while RelayError keeps the
// session context for logs.
package errors

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	// ErrBind indicates the listen address could not be bound. Fatal for the server.
	ErrBind = errors.New("bind failed")

	// ErrAccept indicates a single accept attempt failed. The accept loop continues.
	ErrAccept = errors.New("accept failed")

	// ErrDial indicates the upstream could not be dialed for one connection.
	ErrDial = errors.New("dial failed")

	// ErrRelay indicates a read or write failed while copying.
	ErrRelay = errors.New("relay failed")
)

// RelayError wraps an error with the kind and session it belongs to.
type RelayError struct {
	Kind       error  // One of the kinds above
	Op         string // Operation that failed
	SessionID  string // Session identifier
	RemoteAddr string // Client address
	Direction  string // upstream or downstream, empty when not relaying
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	op := e.Op
	if e.Direction != "" {
		op = e.Op + " " + e.Direction
	}
	if e.SessionID != "" {
		return fmt.Sprintf("%s [%s] %s: %v: %v", op, e.SessionID, e.RemoteAddr, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v: %v", op, e.RemoteAddr, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *RelayError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind of this error.
func (e *RelayError) Is(target error) bool {
	return target == e.Kind
}

// New creates a new RelayError of the given kind. It returns nil if err is nil.
func New(kind error, op, sessionID, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &RelayError{
		Kind:       kind,
		Op:         op,
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Kind returns a short label for the kind of err, suitable for metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBind):
		return "bind"
	case errors.Is(err, ErrAccept):
		return "accept"
	case errors.Is(err, ErrDial):
		return "dial"
	case errors.Is(err, ErrRelay):
		return "relay"
	default:
		return "unknown"
	}
}
