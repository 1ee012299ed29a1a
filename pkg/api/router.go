// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"log/slog"
	"time"

	"github.com/absmach/mrelay/pkg/handler"
	"github.com/absmach/mrelay/pkg/health"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionLister returns a snapshot of the connections being relayed.
type SessionLister interface {
	Sessions() []handler.Context
}

// Config holds the admin API dependencies.
type Config struct {
	// Checker backs /health and /ready. Nil reports healthy with no checks.
	Checker *health.Checker

	// Gatherer backs /metrics (default: prometheus.DefaultGatherer)
	Gatherer prometheus.Gatherer

	// Sessions backs /sessions. Nil serves an empty list.
	Sessions SessionLister

	// StartedAt is reported as process uptime by /status
	StartedAt time.Time

	Logger *slog.Logger
}

// NewRouter sets up the admin API routes.
func NewRouter(cfg Config) *gin.Engine {
	if cfg.Checker == nil {
		cfg.Checker = health.NewChecker(0)
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(cfg.Logger))

	// Probes
	router.GET("/health", gin.WrapF(cfg.Checker.HTTPHandler()))
	router.GET("/ready", gin.WrapF(cfg.Checker.ReadinessHandler()))
	router.GET("/live", gin.WrapF(health.LivenessHandler()))

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))

	router.GET("/status", statusHandler(cfg.StartedAt))
	router.GET("/sessions", sessionsHandler(cfg.Sessions))

	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("admin request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}
