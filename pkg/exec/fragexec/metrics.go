// Copyright 2018 The Ember Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package fragexec

import "github.com/prometheus/client_golang/prometheus"

var (
	fragmentsPrepared = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ember",
		Subsystem: "fragexec",
		Name:      "fragments_prepared_total",
		Help:      "Fragment instances that completed prepare.",
	})
	fragmentsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ember",
		Subsystem: "fragexec",
		Name:      "fragments_failed_total",
		Help:      "Fragment instances that recorded a non-OK status.",
	})
	fragmentsCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ember",
		Subsystem: "fragexec",
		Name:      "fragments_cancelled_total",
		Help:      "Fragment instances that were cancelled.",
	})
	fragmentsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ember",
		Subsystem: "fragexec",
		Name:      "fragments_active",
		Help:      "Fragment instances between prepare and close.",
	})
)

func init() {
	prometheus.MustRegister(
		fragmentsPrepared, fragmentsFailed, fragmentsCancelled, fragmentsActive)
}
