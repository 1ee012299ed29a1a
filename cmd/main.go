// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/mrelay"
	"github.com/absmach/mrelay/examples/simple"
	"github.com/absmach/mrelay/pkg/api"
	"github.com/absmach/mrelay/pkg/health"
	"github.com/absmach/mrelay/pkg/metrics"
	"github.com/absmach/mrelay/pkg/server/tcp"
	"github.com/caarlos0/env/v11"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const (
	envPrefix       = "MRELAY_"
	healthCacheTTL  = 10 * time.Second
	healthDialLimit = 2 * time.Second
	maxMemoryUsage  = 95.0
	runtimeInterval = 15 * time.Second
)

func main() {
	startedAt := time.Now()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := mrelay.NewConfig(env.Options{Prefix: envPrefix})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load mRelay configuration: %s\n", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	if envErr != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	m := metrics.New("mrelay", prometheus.DefaultRegisterer)

	keepAlive := cfg.TCPKeepAlive
	if keepAlive == 0 {
		keepAlive = -1
	}

	server := tcp.New(tcp.Config{
		Address:         cfg.Address,
		TargetAddress:   cfg.TargetAddress,
		DialTimeout:     cfg.DialTimeout,
		Linger:          cfg.Linger,
		TCPKeepAlive:    keepAlive,
		DisableNoDelay:  !cfg.NoDelay,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Metrics:         m,
		Logger:          logger,
	}, simple.New(logger))

	checker := health.NewChecker(healthCacheTTL)
	checker.Register("upstream", health.DialCheck(cfg.TargetAddress, healthDialLimit))
	checker.Register("listener", func(ctx context.Context) error {
		if server.Addr() == nil {
			return errors.New("relay listener not bound")
		}
		return nil
	})
	checker.Register("goroutines", health.GoroutineCheck(cfg.MaxGoroutines))
	checker.Register("host", health.MemoryCheck(maxMemoryUsage))

	g.Go(func() error {
		return server.Listen(ctx)
	})

	g.Go(func() error {
		return m.Run(ctx, runtimeInterval)
	})

	if cfg.AdminAddress != "" {
		gin.SetMode(gin.ReleaseMode)
		router := api.NewRouter(api.Config{
			Checker:   checker,
			Gatherer:  prometheus.DefaultGatherer,
			Sessions:  server,
			StartedAt: startedAt,
			Logger:    logger,
		})
		g.Go(func() error {
			return serveAdmin(ctx, cfg.AdminAddress, router, logger)
		})
	}

	// Signal handler
	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("mRelay service terminated with error: %s", err))
		os.Exit(1)
	}
	logger.Info("mRelay service stopped")
}

func serveAdmin(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin API started", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
