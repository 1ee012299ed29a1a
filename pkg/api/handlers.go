// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
)

type session struct {
	ID              string    `json:"id"`
	RemoteAddr      string    `json:"remote_addr"`
	LocalAddr       string    `json:"local_addr"`
	TargetAddr      string    `json:"target_addr"`
	UpstreamAddr    string    `json:"upstream_addr,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

func sessionsHandler(lister SessionLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions := []session{}
		if lister != nil {
			for _, hctx := range lister.Sessions() {
				sessions = append(sessions, session{
					ID:              hctx.SessionID,
					RemoteAddr:      hctx.RemoteAddr,
					LocalAddr:       hctx.LocalAddr,
					TargetAddr:      hctx.TargetAddr,
					UpstreamAddr:    hctx.UpstreamAddr,
					StartedAt:       hctx.StartedAt,
					DurationSeconds: hctx.Duration().Seconds(),
				})
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"count":    len(sessions),
			"sessions": sessions,
		})
	}
}

// statusHandler reports process and host statistics. Host statistics that
// cannot be read are listed under "errors" instead of failing the request.
func statusHandler(startedAt time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)

		status := gin.H{
			"status":     "running",
			"uptime":     time.Since(startedAt).Round(time.Second).String(),
			"goroutines": runtime.NumGoroutine(),
			"heap_alloc": ms.HeapAlloc,
		}
		errs := gin.H{}

		if cpuPercent, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
			errs["cpu"] = err.Error()
		} else if len(cpuPercent) > 0 {
			status["cpu_usage_percent"] = cpuPercent[0]
		}

		if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
			errs["memory"] = err.Error()
		} else {
			status["memory_usage_percent"] = vm.UsedPercent
		}

		if avg, err := load.AvgWithContext(ctx); err != nil {
			errs["load"] = err.Error()
		} else {
			status["load_average"] = avg.Load1
		}

		if len(errs) > 0 {
			status["errors"] = errs
		}

		c.JSON(http.StatusOK, status)
	}
}
