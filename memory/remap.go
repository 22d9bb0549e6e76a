// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package memory

import (
	"sort"

	"github.com/xooiamd/gfxreconstruct/decode"

	"github.com/pkg/errors"
)

// RemapEntry is the replay placement of one bind.
type RemapEntry struct {
	Allocation decode.Handle
	Resource   decode.Handle
	Kind       ResourceKind
	// Call is the index of the bind call.
	Call int64

	// CaptureOffset is the bind's captured offset.
	CaptureOffset uint64
	// ReplayOffset is where the bind is placed on the replay device.
	ReplayOffset uint64
	// Size is the bind's captured size.
	Size uint64

	// ReplayAllocationSize is the replay size of the bind's allocation.
	ReplayAllocationSize uint64
}

// ReplayEnd returns the end of the bind's replay byte range.
func (e *RemapEntry) ReplayEnd() uint64 { return e.ReplayOffset + e.Size }

type resourceKey struct {
	allocation decode.Handle
	resource   decode.Handle
}

// RemapTable maps captured binds to their replay placement.
//
// A RemapTable is read-only once computed.
type RemapTable struct {
	byCall     map[int64]*RemapEntry
	byResource map[resourceKey]*RemapEntry
	// byAllocation holds each allocation's entries, sorted by replay offset.
	byAllocation map[decode.Handle][]*RemapEntry
	sizes        map[decode.Handle]uint64
	allocations  []decode.Handle
}

// Lookup returns the placement of resource within allocation. If the resource
// was bound to the allocation more than once, the last bind is returned.
func (rt *RemapTable) Lookup(allocation, resource decode.Handle) (RemapEntry, bool) {
	if e := rt.byResource[resourceKey{allocation, resource}]; e != nil {
		return *e, true
	}
	return RemapEntry{}, false
}

// ForCall returns the placement of the bind made by the call at index.
func (rt *RemapTable) ForCall(index int64) (RemapEntry, bool) {
	if e := rt.byCall[index]; e != nil {
		return *e, true
	}
	return RemapEntry{}, false
}

// AllocationSize returns the replay size of allocation.
func (rt *RemapTable) AllocationSize(allocation decode.Handle) (uint64, bool) {
	size, ok := rt.sizes[allocation]
	return size, ok
}

// Entries returns allocation's entries, sorted by replay offset.
func (rt *RemapTable) Entries(allocation decode.Handle) []RemapEntry {
	src := rt.byAllocation[allocation]
	entries := make([]RemapEntry, len(src))
	for i, e := range src {
		entries[i] = *e
	}
	return entries
}

// Allocations returns every allocation in the table, in the order they were
// first seen in the trace.
func (rt *RemapTable) Allocations() []decode.Handle {
	return append([]decode.Handle(nil), rt.allocations...)
}

// Len returns the number of entries in the table.
func (rt *RemapTable) Len() int { return len(rt.byCall) }

// ComputeRemap sorts the recorded binds and computes their replay placement
// under dc.
//
// Each allocation's binds are walked in captured offset order with a cursor
// starting at zero. A bind that does not overlap the binds before it is placed
// at the cursor, rounded up to its alignment. A bind that overlaps, at capture
// time, the group of binds it follows is aliased: it is placed at the same
// relative position within that group's replay range, rounded up to its
// alignment, and moved further if that would newly overlap any bind it did not
// overlap at capture time. The cursor advances past every placed bind by its
// captured size. The allocation's replay size is computed by dc from the final
// cursor; allocations with no binds keep their captured size as the minimum.
func (t *Tracker) ComputeRemap(dc DeviceConstraints) (*RemapTable, error) {
	if dc == nil {
		dc = IdentityConstraints{}
	}
	t.SortBindsByOffset()

	rt := RemapTable{
		byCall:       make(map[int64]*RemapEntry, t.numBinds),
		byResource:   make(map[resourceKey]*RemapEntry, t.numBinds),
		byAllocation: make(map[decode.Handle][]*RemapEntry, len(t.order)),
		sizes:        make(map[decode.Handle]uint64, len(t.order)),
		allocations:  make([]decode.Handle, 0, len(t.order)),
	}

	for _, ar := range t.order {
		entries, minSize := placeBinds(ar.Binds, dc)
		if len(ar.Binds) == 0 {
			minSize = ar.Size
		}

		size, err := dc.AllocationSize(ar, minSize)
		if err != nil {
			return nil, errors.Wrapf(err, "sizing allocation 0x%x", uint64(ar.ID))
		}
		if size < minSize {
			return nil, errors.Errorf("device constraints sized allocation 0x%x to %d bytes, below its minimum %d",
				uint64(ar.ID), size, minSize)
		}

		for _, e := range entries {
			e.ReplayAllocationSize = size
			rt.byCall[e.Call] = e
			rt.byResource[resourceKey{e.Allocation, e.Resource}] = e
		}
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].ReplayOffset < entries[j].ReplayOffset })

		rt.byAllocation[ar.ID] = entries
		rt.sizes[ar.ID] = size
		rt.allocations = append(rt.allocations, ar.ID)
	}

	remapTables.Inc()
	remapEntries.Add(float64(len(rt.byCall)))
	return &rt, nil
}

// placeBinds places binds, which are sorted by captured offset, and returns
// their entries in the same order along with the final cursor.
//
// An alias group's replay base is aligned to every member's alignment, so
// members whose captured relative offsets satisfy their own alignment keep
// those offsets, and with them their captured overlap.
func placeBinds(binds []*BindRecord, dc DeviceConstraints) ([]*RemapEntry, uint64) {
	entries := make([]*RemapEntry, len(binds))
	groupAligns := groupAlignments(binds, dc)

	var (
		cursor uint64

		// The current alias group: binds whose captured ranges overlap, directly
		// or transitively. It spans [groupStart, groupEnd) at capture time, and
		// starts at groupBase at replay time.
		group      []int
		groupStart uint64
		groupEnd   uint64
		groupBase  uint64
	)

	for i, b := range binds {
		align := dc.BindAlignment(b)

		var offset uint64
		if len(group) > 0 && b.Offset < groupEnd {
			offset = alignUp(groupBase+(b.Offset-groupStart), align)
			offset = avoidNewOverlap(offset, align, b, group, binds, entries)
			if b.End() > groupEnd {
				groupEnd = b.End()
			}
			group = append(group, i)
		} else {
			offset = alignUp(cursor, groupAligns[i])
			group = append(group[:0], i)
			groupStart, groupEnd, groupBase = b.Offset, b.End(), offset
		}

		entries[i] = &RemapEntry{
			Allocation:    b.Allocation,
			Resource:      b.Resource,
			Kind:          b.Kind,
			Call:          b.Call,
			CaptureOffset: b.Offset,
			ReplayOffset:  offset,
			Size:          b.Size,
		}
		if end := offset + b.Size; end > cursor {
			cursor = end
		}
	}
	return entries, cursor
}

// groupAlignments returns, for the first bind of each alias group, the least
// common multiple of the group members' alignments. Other entries are zero.
func groupAlignments(binds []*BindRecord, dc DeviceConstraints) []uint64 {
	aligns := make([]uint64, len(binds))

	first, groupEnd := -1, uint64(0)
	for i, b := range binds {
		if first < 0 || b.Offset >= groupEnd {
			first, groupEnd = i, b.End()
			aligns[first] = 1
		} else if b.End() > groupEnd {
			groupEnd = b.End()
		}
		aligns[first] = lcm(aligns[first], dc.BindAlignment(b))
	}
	return aligns
}

// avoidNewOverlap moves offset forward, keeping it aligned, until b's replay
// range does not overlap any member of group that b did not overlap at
// capture time.
func avoidNewOverlap(offset, align uint64, b *BindRecord, group []int, binds []*BindRecord, entries []*RemapEntry) uint64 {
	for moved := true; moved; {
		moved = false
		for _, j := range group {
			other, placed := binds[j], entries[j]
			if overlaps(b.Offset, b.End(), other.Offset, other.End()) {
				continue
			}
			if overlaps(offset, offset+b.Size, placed.ReplayOffset, placed.ReplayEnd()) {
				offset = alignUp(placed.ReplayEnd(), align)
				moved = true
			}
		}
	}
	return offset
}

// overlaps returns true if [aStart, aEnd) and [bStart, bEnd) share a byte.
// Empty ranges overlap nothing.
func overlaps(aStart, aEnd, bStart, bEnd uint64) bool {
	return aStart < bEnd && bStart < aEnd
}
