// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package split

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned by operations on a half whose direction was shut down.
	ErrClosed = errors.New("split: use of closed half")

	// ErrNotPaired is returned by Reunite when the halves come from different Split calls.
	ErrNotPaired = errors.New("split: halves do not belong to the same connection")
)

// Conn is a full-duplex byte stream. If it also implements CloseRead or
// CloseWrite, half-shutdown is forwarded to it.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

type closeReader interface {
	CloseRead() error
}

type closeWriter interface {
	CloseWrite() error
}

// shared owns the connection on behalf of both halves.
type shared struct {
	conn Conn

	rmu sync.Mutex // read lease
	wmu sync.Mutex // write lease

	readDone  atomic.Bool
	writeDone atomic.Bool
	closed    atomic.Bool

	refs      atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

// Split wraps conn into a read half and a write half sharing it.
// It never fails.
func Split(conn Conn) (*ReadHalf, *WriteHalf) {
	s := &shared{conn: conn}
	s.refs.Store(2)
	return &ReadHalf{s: s}, &WriteHalf{s: s}
}

// Reunite returns the connection r and w were split from.
func Reunite(r *ReadHalf, w *WriteHalf) (Conn, error) {
	if r == nil || w == nil || r.s != w.s {
		return nil, ErrNotPaired
	}
	return r.s.conn, nil
}

func (s *shared) shutdown() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *shared) release() error {
	if s.refs.Add(-1) == 0 {
		return s.shutdown()
	}
	return nil
}

// ReadHalf is the receiving side of a split connection.
type ReadHalf struct {
	s       *shared
	release sync.Once
	n       atomic.Int64
}

// Read performs exactly one Read on the underlying connection while holding
// the read lease. Reads after CloseRead return io.EOF.
func (r *ReadHalf) Read(p []byte) (int, error) {
	r.s.rmu.Lock()
	defer r.s.rmu.Unlock()

	if r.s.closed.Load() {
		return 0, ErrClosed
	}
	if r.s.readDone.Load() {
		return 0, io.EOF
	}

	n, err := r.s.conn.Read(p)
	r.n.Add(int64(n))
	return n, err
}

// CloseRead stops the read direction. It does not wait for a pending Read.
func (r *ReadHalf) CloseRead() error {
	if !r.s.readDone.CompareAndSwap(false, true) {
		return nil
	}
	if r.s.closed.Load() {
		return nil
	}
	if cr, ok := r.s.conn.(closeReader); ok {
		return cr.CloseRead()
	}
	return nil
}

// Close drops this half's reference. The connection is closed once both
// halves are closed.
func (r *ReadHalf) Close() error {
	var err error
	r.release.Do(func() {
		r.s.readDone.Store(true)
		err = r.s.release()
	})
	return err
}

// Shutdown closes the underlying connection immediately, unblocking any
// pending operation on both halves.
func (r *ReadHalf) Shutdown() error {
	return r.s.shutdown()
}

// BytesRead returns the number of bytes read through this half.
func (r *ReadHalf) BytesRead() int64 {
	return r.n.Load()
}

// WriteHalf is the sending side of a split connection.
type WriteHalf struct {
	s       *shared
	release sync.Once
	n       atomic.Int64
}

// Write performs exactly one Write on the underlying connection while holding
// the write lease. It may write fewer bytes than len(p); callers loop.
func (w *WriteHalf) Write(p []byte) (int, error) {
	w.s.wmu.Lock()
	defer w.s.wmu.Unlock()

	if w.s.closed.Load() || w.s.writeDone.Load() {
		return 0, ErrClosed
	}

	n, err := w.s.conn.Write(p)
	w.n.Add(int64(n))
	return n, err
}

// CloseWrite half-closes the connection so the peer observes end-of-stream.
// It waits for an in-flight Write to finish.
func (w *WriteHalf) CloseWrite() error {
	w.s.wmu.Lock()
	defer w.s.wmu.Unlock()

	if w.s.closed.Load() {
		return ErrClosed
	}
	if !w.s.writeDone.CompareAndSwap(false, true) {
		return nil
	}
	if cw, ok := w.s.conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}

// Close drops this half's reference. The connection is closed once both
// halves are closed. Close does not half-close; call CloseWrite first to
// send end-of-stream while the read half stays open.
func (w *WriteHalf) Close() error {
	var err error
	w.release.Do(func() {
		w.s.writeDone.Store(true)
		err = w.s.release()
	})
	return err
}

// Shutdown closes the underlying connection immediately, unblocking any
// pending operation on both halves.
func (w *WriteHalf) Shutdown() error {
	return w.s.shutdown()
}

// BytesWritten returns the number of bytes written through this half.
func (w *WriteHalf) BytesWritten() int64 {
	return w.n.Load()
}
