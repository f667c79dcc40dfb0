/*
SPDX-FileCopyrightText: Copyright (c) 2026 NVIDIA CORPORATION & AFFILIATES. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

// Package metrics defines the service's Prometheus instruments, exposed on
// the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpenNotebooks tracks notebooks with a live kernel.
	OpenNotebooks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "labbook_open_notebooks",
		Help: "Notebooks currently open with a running kernel.",
	})

	// LiveObservers tracks attached live-channel sessions.
	LiveObservers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "labbook_live_observers",
		Help: "Websocket sessions currently attached to a notebook.",
	})

	// CellExecutions counts finished cell executions by outcome.
	CellExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labbook_cell_executions_total",
		Help: "Cell executions by final status.",
	}, []string{"status"})

	// KernelRestarts counts kernel respawns after unexpected exits.
	KernelRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "labbook_kernel_restarts_total",
		Help: "Kernel processes respawned after dying.",
	})

	// EventsDropped counts live-channel events dropped for slow observers.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "labbook_events_dropped_total",
		Help: "Live-channel events dropped because an observer queue was full.",
	})
)
