// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package decode

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	callsDecoded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gfxr_decode_calls",
		Help: "Count of decoded API calls, by function.",
	}, []string{"function"})

	unknownCallsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gfxr_decode_unknown_calls_skipped",
		Help: "Count of calls to unknown functions that were skipped.",
	})

	dispatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gfxr_decode_dispatches",
		Help: "Count of call records dispatched to observers.",
	})

	observerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gfxr_decode_observer_errors",
		Help: "Count of errors returned by observers.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		callsDecoded,
		unknownCallsSkipped,
		dispatches,
		observerErrors,
	)
}
