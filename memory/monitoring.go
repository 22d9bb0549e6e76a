// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package memory

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	trackerAllocations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gfxr_memory_tracked_allocations",
		Help: "Count of memory allocations recorded by resource trackers.",
	})

	trackerBinds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gfxr_memory_tracked_binds",
		Help: "Count of resource binds recorded by resource trackers.",
	})

	remapTables = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gfxr_memory_remap_tables",
		Help: "Count of remap tables computed.",
	})

	remapEntries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gfxr_memory_remap_entries",
		Help: "Count of remap entries computed.",
	})

	onlinePlacements = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gfxr_memory_online_placements",
		Help: "Count of binds placed by online translation.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		// Tracker
		trackerAllocations,
		trackerBinds,

		// Remap
		remapTables,
		remapEntries,
		onlinePlacements,
	)
}
