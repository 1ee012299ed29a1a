// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package relay copies bytes between split connection halves and drives the
// two directions of one proxied connection.
package relay

import (
	"errors"
	"io"
	"sync"
)

// BufferSize is the size of the chunk read per iteration of Copy.
const BufferSize = 32 * 1024

// maxEmptyReads bounds consecutive (0, nil) reads before Copy gives up.
const maxEmptyReads = 100

var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, BufferSize)
		return &buf
	},
}

// Direction indicates which way bytes flow through the relay.
type Direction int

const (
	// Upstream represents bytes flowing from client to backend.
	Upstream Direction = iota

	// Downstream represents bytes flowing from backend to client.
	Downstream
)

// String returns a string representation of the direction.
func (d Direction) String() string {
	switch d {
	case Upstream:
		return "upstream"
	case Downstream:
		return "downstream"
	default:
		return "unknown"
	}
}

// Copy reads chunks from src and writes them to dst until src reports
// io.EOF, returning the number of bytes written. A read or write error ends
// the copy and is returned as is. Partial writes are retried until the whole
// chunk is written.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	bufp := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufp)
	buf := *bufp

	var written int64
	empty := 0
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			empty = 0
			nw, werr := writeFull(dst, buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			return written, rerr
		}
		if nr == 0 {
			empty++
			if empty >= maxEmptyReads {
				return written, io.ErrNoProgress
			}
		}
	}
}

func writeFull(dst io.Writer, p []byte) (int, error) {
	var off int
	for off < len(p) {
		n, err := dst.Write(p[off:])
		off += n
		if err != nil {
			return off, err
		}
		if n == 0 {
			return off, io.ErrShortWrite
		}
	}
	return off, nil
}
