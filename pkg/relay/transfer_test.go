// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	rerrors "github.com/absmach/mrelay/pkg/errors"
)

// tcpPair returns a connected client and the relay side of it.
func tcpPair(t *testing.T) (client, inbound net.Conn) {
	t.Helper()

	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	client, err = net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial listener: %v", err)
	}
	inbound, ok := <-accepted
	if !ok {
		t.Fatal("Failed to accept connection")
	}
	t.Cleanup(func() {
		client.Close()
		inbound.Close()
	})
	return client, inbound
}

// startBackend runs handle for the first connection accepted on a fresh listener.
func startBackend(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()

	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Failed to create backend listener: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()

	return l.Addr().String()
}

type transferResult struct {
	stats Stats
	err   error
}

func runTransfer(ctx context.Context, inbound net.Conn, cfg Config) <-chan transferResult {
	res := make(chan transferResult, 1)
	go func() {
		stats, err := Transfer(ctx, inbound, cfg)
		res <- transferResult{stats, err}
	}()
	return res
}

func waitTransfer(t *testing.T, res <-chan transferResult) transferResult {
	t.Helper()
	select {
	case r := <-res:
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("Transfer did not finish")
		return transferResult{}
	}
}

func TestTransfer_PingPong(t *testing.T) {
	target := startBackend(t, func(conn net.Conn) {
		buf := make([]byte, 4)
		if _, err := io.ReadFull(conn, buf); err != nil || string(buf) != "ping" {
			return
		}
		conn.Write([]byte("pong"))
		io.Copy(io.Discard, conn)
	})

	client, inbound := tcpPair(t)
	res := runTransfer(context.Background(), inbound, Config{TargetAddress: target})

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("Client write: %v", err)
	}
	buf := make([]byte, 4)
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatalf("Client read: %v", err)
	}
	if string(buf) != "pong" {
		t.Errorf("Expected pong, got %q", buf)
	}

	client.Close()
	r := waitTransfer(t, res)
	if r.err != nil {
		t.Errorf("Transfer failed: %v", r.err)
	}
	if r.stats.Upstream != 4 || r.stats.Downstream != 4 {
		t.Errorf("Expected 4/4 bytes, got %d/%d", r.stats.Upstream, r.stats.Downstream)
	}
}

func TestTransfer_LargeOneWay(t *testing.T) {
	const size = 10 << 20

	payload := make([]byte, size)
	if _, err := rand.Read(payload); err != nil {
		t.Fatalf("Failed to generate payload: %v", err)
	}

	received := make(chan []byte, 1)
	target := startBackend(t, func(conn net.Conn) {
		data, _ := io.ReadAll(conn)
		received <- data
	})

	client, inbound := tcpPair(t)
	res := runTransfer(context.Background(), inbound, Config{TargetAddress: target})

	go func() {
		client.Write(payload)
		client.(*net.TCPConn).CloseWrite()
	}()

	r := waitTransfer(t, res)
	if r.err != nil {
		t.Fatalf("Transfer failed: %v", r.err)
	}
	if r.stats.Upstream != size {
		t.Errorf("Expected %d bytes upstream, got %d", size, r.stats.Upstream)
	}
	if r.stats.Downstream != 0 {
		t.Errorf("Expected no bytes downstream, got %d", r.stats.Downstream)
	}

	select {
	case data := <-received:
		if !bytes.Equal(data, payload) {
			t.Errorf("Backend received %d bytes that differ from the payload", len(data))
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Backend did not receive the payload")
	}
}

func TestTransfer_HalfCloseWithLinger(t *testing.T) {
	target := startBackend(t, func(conn net.Conn) {
		data, err := io.ReadAll(conn)
		if err != nil || string(data) != "done" {
			return
		}
		conn.Write([]byte("bye"))
	})

	client, inbound := tcpPair(t)
	res := runTransfer(context.Background(), inbound, Config{
		TargetAddress: target,
		Linger:        5 * time.Second,
	})

	client.Write([]byte("done"))
	client.(*net.TCPConn).CloseWrite()

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	reply, err := io.ReadAll(client)
	if err != nil {
		t.Fatalf("Client read: %v", err)
	}
	if string(reply) != "bye" {
		t.Errorf("Expected bye, got %q", reply)
	}

	r := waitTransfer(t, res)
	if r.err != nil {
		t.Errorf("Transfer failed: %v", r.err)
	}
	if r.stats.Upstream != 4 || r.stats.Downstream != 3 {
		t.Errorf("Expected 4/3 bytes, got %d/%d", r.stats.Upstream, r.stats.Downstream)
	}
}

func TestTransfer_OneDirectionEndsTearsDownBoth(t *testing.T) {
	backendGot := make(chan []byte, 1)
	target := startBackend(t, func(conn net.Conn) {
		// Reads to end-of-stream but never writes and never closes first.
		data, _ := io.ReadAll(conn)
		backendGot <- data
		time.Sleep(10 * time.Second)
	})

	client, inbound := tcpPair(t)
	res := runTransfer(context.Background(), inbound, Config{TargetAddress: target})

	client.Write([]byte("done"))
	client.(*net.TCPConn).CloseWrite()

	select {
	case r := <-res:
		if r.err != nil {
			t.Errorf("Transfer failed: %v", r.err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Idle downstream kept the connection alive after upstream ended")
	}

	select {
	case data := <-backendGot:
		if string(data) != "done" {
			t.Errorf("Expected backend to receive done, got %q", data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Backend did not observe end-of-stream")
	}

	// Client observes the teardown instead of blocking forever.
	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := client.Read(make([]byte, 1)); err == nil {
		t.Error("Expected client read to end after teardown")
	} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Error("Client read blocked after teardown")
	}
}

func TestTransfer_DialFailure(t *testing.T) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	target := l.Addr().String()
	l.Close()

	client, inbound := tcpPair(t)
	stats, err := Transfer(context.Background(), inbound, Config{
		TargetAddress: target,
		DialTimeout:   time.Second,
	})
	if !errors.Is(err, rerrors.ErrDial) {
		t.Fatalf("Expected dial error, got %v", err)
	}
	if stats != (Stats{}) {
		t.Errorf("Expected no bytes relayed, got %+v", stats)
	}

	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := client.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("Expected inbound to be closed, got %v", err)
	}
}

func TestTransfer_OnConnect(t *testing.T) {
	target := startBackend(t, func(conn net.Conn) {})

	client, inbound := tcpPair(t)
	client.Close()

	var called bool
	_, err := Transfer(context.Background(), inbound, Config{
		TargetAddress: target,
		OnConnect: func(outbound net.Conn) {
			called = outbound != nil
		},
	})
	if err != nil {
		t.Errorf("Transfer failed: %v", err)
	}
	if !called {
		t.Error("Expected OnConnect to be called with the outbound connection")
	}
}

// failingWriteConn fails every Write with err.
type failingWriteConn struct {
	net.Conn
	err error
}

func (c *failingWriteConn) Write(p []byte) (int, error) {
	return 0, c.err
}

func TestPipe_WriteFailure(t *testing.T) {
	errBoom := errors.New("boom")

	client, inbound := net.Pipe()
	backend, outbound := net.Pipe()
	defer client.Close()
	defer backend.Close()

	res := make(chan error, 1)
	go func() {
		_, err := Pipe(context.Background(), inbound, &failingWriteConn{Conn: outbound, err: errBoom}, 0)
		res <- err
	}()

	go client.Write([]byte("hello"))

	select {
	case err := <-res:
		if !errors.Is(err, rerrors.ErrRelay) || !errors.Is(err, errBoom) {
			t.Fatalf("Expected relay error wrapping %v, got %v", errBoom, err)
		}
		var re *rerrors.RelayError
		if !errors.As(err, &re) || re.Direction != Upstream.String() {
			t.Errorf("Expected upstream relay error, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Pipe did not fail on write error")
	}
}

func TestPipe_ContextCancellation(t *testing.T) {
	client, inbound := net.Pipe()
	backend, outbound := net.Pipe()
	defer client.Close()
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	res := make(chan error, 1)
	go func() {
		_, err := Pipe(ctx, inbound, outbound, 0)
		res <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-res:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Pipe did not stop on cancellation")
	}
}
