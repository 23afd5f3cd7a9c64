// Copyright 2025 PGFleet Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	instanceUpGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgfleet_instance_up",
			Help: "Set to 1 if the managed postgres instance answers sql probes",
		},
	)
	lastCheckSuccessSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgfleet_last_check_success_seconds",
			Help: "Last time a supervision loop iteration completed without errors as seconds since unix epoch",
		},
	)
	instanceStartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgfleet_instance_starts_total",
			Help: "Number of times the supervision loop started the instance",
		},
	)
	instanceRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgfleet_instance_restarts_total",
			Help: "Number of restarts triggered by managed settings changes a reload cannot apply",
		},
	)
	configReloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgfleet_config_reloads_total",
			Help: "Number of configuration reloads triggered by managed settings changes",
		},
	)
	checkErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgfleet_check_errors_total",
			Help: "Number of supervision loop iterations that ended with an error",
		},
	)
	shutdownSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgfleet_shutdown_seconds",
			Help: "Shutdown time (received termination signal) since unix epoch in seconds",
		},
	)
)

func init() {
	prometheus.MustRegister(instanceUpGauge)
	prometheus.MustRegister(lastCheckSuccessSeconds)
	prometheus.MustRegister(instanceStartsTotal)
	prometheus.MustRegister(instanceRestartsTotal)
	prometheus.MustRegister(configReloadsTotal)
	prometheus.MustRegister(checkErrorsTotal)
	prometheus.MustRegister(shutdownSeconds)
}
