// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package api serves the mRelay admin HTTP API: health probes, Prometheus
// metrics, process status and the list of connections being relayed.
package api
