// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package memory reconstructs a portable memory layout for a trace.
//
// A Tracker observes a full pass over a trace without touching any device,
// recording every memory allocation and every resource bound into it. Once
// the pass completes, its binds are sorted by captured offset and a RemapTable
// is computed against the replay device's constraints. The table tells the
// replayer where each bind lands on the replay device, and how large each
// allocation must be.
package memory

import (
	"sort"

	"github.com/xooiamd/gfxreconstruct/decode"
	"github.com/xooiamd/gfxreconstruct/support/logging"
)

// Tracker is a decode.Observer that records memory allocations and binds.
//
// Tracker issues no device calls.
type Tracker struct {
	// Logger, if not nil, is used to log tracker events.
	Logger logging.L

	resources Resources

	allocations map[decode.Handle]*AllocationRecord
	// order holds allocations in the order they were first seen.
	order []*AllocationRecord

	numBinds int
}

var _ decode.Observer = (*Tracker)(nil)

// OnCall implements decode.Observer.
func (t *Tracker) OnCall(cr *decode.CallRecord) error {
	switch cr.FunctionID {
	case decode.FnAllocateMemory:
		info, err := cr.Struct(decode.ArgCreateInfo)
		if err != nil {
			return err
		}
		h, err := cr.Handle(decode.ArgCreated)
		if err != nil {
			return err
		}

		ar := t.allocation(h)
		if ar.Allocated {
			logging.Must(t.Logger).Warnf("Memory 0x%x allocated again at call %d.", uint64(h), cr.Index)
		}
		ar.Allocated = true
		ar.Size = info.Uint(decode.AllocateInfoSize)
		ar.MemoryTypeIndex = uint32(info.Uint(decode.AllocateInfoMemoryTypeIndex))
		trackerAllocations.Inc()

	case decode.FnFreeMemory:
		h, err := cr.Handle(decode.ArgMemory)
		if err != nil {
			return err
		}
		if ar := t.allocations[h]; ar != nil {
			ar.Freed = true
		}

	case decode.FnBindBufferMemory, decode.FnBindImageMemory:
		br, err := t.resources.BindRecord(cr)
		if err != nil {
			return err
		}
		ar := t.allocation(br.Allocation)
		ar.Binds = append(ar.Binds, br)
		ar.sorted = false
		t.numBinds++
		trackerBinds.Inc()

	default:
		if _, err := t.resources.Observe(cr); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) allocation(h decode.Handle) *AllocationRecord {
	if ar := t.allocations[h]; ar != nil {
		return ar
	}
	if t.allocations == nil {
		t.allocations = make(map[decode.Handle]*AllocationRecord)
	}
	ar := &AllocationRecord{ID: h}
	t.allocations[h] = ar
	t.order = append(t.order, ar)
	return ar
}

// Allocation returns the record for the captured memory handle h, or nil.
func (t *Tracker) Allocation(h decode.Handle) *AllocationRecord { return t.allocations[h] }

// Allocations returns every allocation record, in the order they were first
// seen.
func (t *Tracker) Allocations() []*AllocationRecord { return t.order }

// NumBinds returns the total number of binds recorded.
func (t *Tracker) NumBinds() int { return t.numBinds }

// SortBindsByOffset sorts every allocation's binds by captured offset. Binds
// at the same offset keep their stream order.
//
// SortBindsByOffset is idempotent.
func (t *Tracker) SortBindsByOffset() {
	for _, ar := range t.order {
		sortBinds(ar)
	}
}

func sortBinds(ar *AllocationRecord) {
	if ar.sorted {
		return
	}
	binds := ar.Binds
	sort.SliceStable(binds, func(i, j int) bool {
		if binds[i].Offset != binds[j].Offset {
			return binds[i].Offset < binds[j].Offset
		}
		return binds[i].Call < binds[j].Call
	})
	ar.sorted = true
}
