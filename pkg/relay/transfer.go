// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	rerrors "github.com/absmach/mrelay/pkg/errors"
	"github.com/absmach/mrelay/pkg/split"
	"golang.org/x/sync/errgroup"
)

// Dialer opens outbound connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config holds the per-connection relay settings.
type Config struct {
	// TargetAddress is the upstream address (host:port)
	TargetAddress string

	// Dialer opens the upstream connection. Defaults to a net.Dialer with DialTimeout.
	Dialer Dialer

	// DialTimeout bounds the upstream dial. Zero means no timeout.
	DialTimeout time.Duration

	// Linger is how long the other direction may keep running after one
	// direction reached end-of-stream. Zero tears both connections down at once.
	Linger time.Duration

	// OnConnect, if set, is called once the upstream connection is established.
	OnConnect func(outbound net.Conn)
}

// Stats holds the byte counts of one relayed connection.
type Stats struct {
	Upstream   int64
	Downstream int64
}

// Dial opens the upstream connection. Failures are reported as ErrDial and
// never retried.
func Dial(ctx context.Context, d Dialer, target string, timeout time.Duration) (net.Conn, error) {
	if d == nil {
		d = &net.Dialer{}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrDial, "dial", "", target, err)
	}
	return conn, nil
}

// Transfer dials the upstream for inbound and relays bytes both ways until
// the connection ends. Transfer owns inbound: it is closed before Transfer
// returns, including when the dial fails.
func Transfer(ctx context.Context, inbound split.Conn, cfg Config) (Stats, error) {
	outbound, err := Dial(ctx, cfg.Dialer, cfg.TargetAddress, cfg.DialTimeout)
	if err != nil {
		inbound.Close()
		return Stats{}, err
	}

	if cfg.OnConnect != nil {
		cfg.OnConnect(outbound)
	}

	return Pipe(ctx, inbound, outbound, cfg.Linger)
}

// pair holds the four halves of one proxied connection.
type pair struct {
	inR  *split.ReadHalf
	inW  *split.WriteHalf
	outR *split.ReadHalf
	outW *split.WriteHalf
}

func (p *pair) shutdown() {
	p.inR.Shutdown()
	p.outR.Shutdown()
}

func (p *pair) close() {
	p.inR.Close()
	p.inW.Close()
	p.outR.Close()
	p.outW.Close()
}

// Pipe splits both connections and runs the upstream and downstream copies
// concurrently. Once either direction finishes, and after linger if set, both
// connections are shut down so the other copy cannot block forever. It
// returns nil only if both directions ended cleanly. Both connections are
// closed on return.
func Pipe(ctx context.Context, inbound, outbound split.Conn, linger time.Duration) (Stats, error) {
	inR, inW := split.Split(inbound)
	outR, outW := split.Split(outbound)
	p := &pair{inR: inR, inW: inW, outR: outR, outW: outW}
	defer p.close()

	var (
		stats    Stats
		tornDown atomic.Bool
		finished = make(chan struct{}, 2)
	)

	g, gctx := errgroup.WithContext(ctx)

	run := func(dir Direction, dst *split.WriteHalf, src *split.ReadHalf, n *int64) func() error {
		return func() error {
			defer func() { finished <- struct{}{} }()

			written, err := Copy(dst, src)
			*n = written
			if err == nil {
				// Forward end-of-stream to the peer.
				dst.CloseWrite()
				return nil
			}
			if tornDown.Load() {
				return nil
			}
			return &rerrors.RelayError{
				Kind:      rerrors.ErrRelay,
				Op:        "copy",
				Direction: dir.String(),
				Err:       err,
			}
		}
	}

	g.Go(run(Upstream, outW, inR, &stats.Upstream))
	g.Go(run(Downstream, inW, outR, &stats.Downstream))

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-gctx.Done():
		case <-finished:
			if linger > 0 {
				timer := time.NewTimer(linger)
				defer timer.Stop()
				select {
				case <-gctx.Done():
				case <-finished:
				case <-timer.C:
				}
			}
		}
		tornDown.Store(true)
		p.shutdown()
	}()

	err := g.Wait()
	<-stopped

	if err == nil && ctx.Err() != nil {
		err = &rerrors.RelayError{
			Kind: rerrors.ErrRelay,
			Op:   "copy",
			Err:  ctx.Err(),
		}
	}
	return stats, err
}
