// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveConnection(t *testing.T) {
	m := New("test", prometheus.NewRegistry())

	if err := m.ObserveConnection(func() error {
		if got := testutil.ToFloat64(m.ActiveConnections); got != 1 {
			t.Errorf("Expected 1 active connection, got %v", got)
		}
		return nil
	}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	errFailed := errors.New("failed")
	if err := m.ObserveConnection(func() error { return errFailed }); !errors.Is(err, errFailed) {
		t.Errorf("Expected wrapped error to be returned, got %v", err)
	}

	if got := testutil.ToFloat64(m.ActiveConnections); got != 0 {
		t.Errorf("Expected 0 active connections, got %v", got)
	}
	if got := testutil.ToFloat64(m.TotalConnections.WithLabelValues("success")); got != 1 {
		t.Errorf("Expected 1 successful connection, got %v", got)
	}
	if got := testutil.ToFloat64(m.TotalConnections.WithLabelValues("error")); got != 1 {
		t.Errorf("Expected 1 failed connection, got %v", got)
	}
}

func TestNew_SeparateRegistries(t *testing.T) {
	reg := prometheus.NewRegistry()
	New("", reg)

	// A second registration with the same registry would panic.
	New("", prometheus.NewRegistry())

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather: %v", err)
	}
	for _, f := range families {
		if !strings.HasPrefix(f.GetName(), "mrelay_") {
			t.Errorf("Expected default namespace, got %s", f.GetName())
		}
	}
}

func TestRun(t *testing.T) {
	m := New("test", prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, 10*time.Millisecond) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if got := testutil.ToFloat64(m.GoroutinesActive.WithLabelValues("total")); got <= 0 {
		t.Errorf("Expected goroutine count sampled, got %v", got)
	}
	if got := testutil.ToFloat64(m.MemoryAllocated.WithLabelValues("heap")); got <= 0 {
		t.Errorf("Expected heap usage sampled, got %v", got)
	}
}
