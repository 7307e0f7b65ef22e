/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package kernel

import "github.com/prometheus/client_golang/prometheus"

var (
	kernelsLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kernel_bridge_kernels",
		Help: "Number of live kernel controllers.",
	})

	updatesScheduled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kernel_bridge_updates_scheduled_total",
		Help: "Metadata mutations that scheduled a coalesced update.",
	})

	updatesPushed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kernel_bridge_updates_pushed_total",
		Help: "Coalesced metadata snapshots pushed to the remote side.",
	})

	dispatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kernel_bridge_dispatch_total",
		Help: "Inbound dispatch calls by kind.",
	}, []string{"kind"})

	handlerFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kernel_bridge_handler_failures_total",
		Help: "Extension handler errors and panics caught at the dispatch boundary.",
	})

	registrationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kernel_bridge_registration_failures_total",
		Help: "Remote registrations that were rejected or exhausted retries.",
	})
)

func init() {
	prometheus.MustRegister(
		kernelsLive,
		updatesScheduled,
		updatesPushed,
		dispatches,
		handlerFailures,
		registrationFailures,
	)
}
