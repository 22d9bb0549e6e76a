// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package memory

import (
	"github.com/xooiamd/gfxreconstruct/decode"

	"github.com/pkg/errors"
)

// ResourceKind is the kind of a resource bound to memory.
type ResourceKind int

const (
	// Buffer is a linear buffer resource.
	Buffer ResourceKind = iota
	// Image is an image resource.
	Image
)

func (k ResourceKind) String() string {
	if k == Image {
		return "Image"
	}
	return "Buffer"
}

// AllocationRecord describes one device memory allocation seen in a trace.
type AllocationRecord struct {
	// ID is the captured memory handle.
	ID decode.Handle
	// Size is the captured allocation size. It is zero if the allocation call
	// was never seen.
	Size uint64
	// MemoryTypeIndex is the captured memory type index.
	MemoryTypeIndex uint32

	// Allocated is true if the allocation call was seen. Allocations can also
	// be created by a bind that references an unseen allocation.
	Allocated bool
	// Freed is true once the allocation has been freed. Freed records are
	// retained.
	Freed bool

	// Binds are the resources bound to this allocation, in stream order until
	// sorted.
	Binds []*BindRecord

	sorted bool
}

// BindRecord describes one resource-to-memory bind seen in a trace.
type BindRecord struct {
	// Allocation is the captured memory handle the resource is bound to.
	Allocation decode.Handle
	// Resource is the captured buffer or image handle.
	Resource decode.Handle
	// Kind is the kind of Resource.
	Kind ResourceKind

	// Offset is the captured offset of the resource within the allocation.
	Offset uint64
	// Size is the captured size of the resource.
	Size uint64
	// Alignment is the captured alignment requirement of the resource. It is
	// always at least 1.
	Alignment uint64

	// Call is the index of the bind call. It orders binds by their position in
	// the stream.
	Call int64
}

// End returns the end of the captured byte range of b.
func (b *BindRecord) End() uint64 { return b.Offset + b.Size }

// resourceInfo is what is known about a resource before it is bound.
type resourceInfo struct {
	kind ResourceKind

	createSize uint64

	hasRequirements bool
	reqSize         uint64
	reqAlignment    uint64
}

func (ri *resourceInfo) size() uint64 {
	if ri.hasRequirements {
		return ri.reqSize
	}
	return ri.createSize
}

func (ri *resourceInfo) alignment() uint64 {
	if ri.hasRequirements && ri.reqAlignment > 0 {
		return ri.reqAlignment
	}
	return 1
}

// Resources tracks resource creation and memory requirement calls, so that
// bind calls can be turned into BindRecords.
//
// The zero value is ready to use.
type Resources struct {
	resources map[decode.Handle]*resourceInfo
}

// Observe updates r from cr. It returns true if cr was a resource call.
func (r *Resources) Observe(cr *decode.CallRecord) (bool, error) {
	switch cr.FunctionID {
	case decode.FnCreateBuffer:
		info, err := cr.Struct(decode.ArgCreateInfo)
		if err != nil {
			return true, err
		}
		return true, r.create(cr, Buffer, info.Uint(decode.BufferInfoSize))

	case decode.FnCreateImage:
		info, err := cr.Struct(decode.ArgCreateInfo)
		if err != nil {
			return true, err
		}
		size := info.Uint(decode.ImageInfoWidth) * info.Uint(decode.ImageInfoHeight) *
			info.Uint(decode.ImageInfoBytesPerPixel)
		return true, r.create(cr, Image, size)

	case decode.FnGetBufferMemoryRequirements, decode.FnGetImageMemoryRequirements:
		h, err := cr.Handle(decode.ArgResource)
		if err != nil {
			return true, err
		}
		reqs, err := cr.Struct(decode.ArgRequirements)
		if err != nil {
			return true, err
		}

		ri := r.get(h, kindFor(cr.FunctionID))
		ri.hasRequirements = true
		ri.reqSize = reqs.Uint(decode.RequirementsSize)
		ri.reqAlignment = reqs.Uint(decode.RequirementsAlignment)
		return true, nil

	case decode.FnDestroyBuffer, decode.FnDestroyImage:
		h, err := cr.Handle(decode.ArgResource)
		if err != nil {
			return true, err
		}
		delete(r.resources, h)
		return true, nil

	default:
		return false, nil
	}
}

// IsBind returns true if cr is a bind call.
func IsBind(cr *decode.CallRecord) bool {
	return cr.FunctionID == decode.FnBindBufferMemory || cr.FunctionID == decode.FnBindImageMemory
}

// BindRecord builds the BindRecord for the bind call cr.
//
// The bind's size comes from the resource's memory requirements if they were
// queried, and otherwise from its create info. Its alignment comes from the
// memory requirements, and is otherwise 1.
func (r *Resources) BindRecord(cr *decode.CallRecord) (*BindRecord, error) {
	if !IsBind(cr) {
		return nil, errors.Errorf("call %d (%s) is not a bind call", cr.Index, cr.FunctionID)
	}

	resource, err := cr.Handle(decode.ArgResource)
	if err != nil {
		return nil, err
	}
	mem, err := cr.Handle(decode.ArgBindMemory)
	if err != nil {
		return nil, err
	}
	offset, err := cr.Uint(decode.ArgBindOffset)
	if err != nil {
		return nil, err
	}

	ri := r.get(resource, kindFor(cr.FunctionID))
	return &BindRecord{
		Allocation: mem,
		Resource:   resource,
		Kind:       ri.kind,
		Offset:     offset,
		Size:       ri.size(),
		Alignment:  ri.alignment(),
		Call:       cr.Index,
	}, nil
}

func (r *Resources) create(cr *decode.CallRecord, kind ResourceKind, size uint64) error {
	h, err := cr.Handle(decode.ArgCreated)
	if err != nil {
		return err
	}
	ri := r.get(h, kind)
	*ri = resourceInfo{kind: kind, createSize: size}
	return nil
}

func (r *Resources) get(h decode.Handle, kind ResourceKind) *resourceInfo {
	if r.resources == nil {
		r.resources = make(map[decode.Handle]*resourceInfo)
	}
	ri := r.resources[h]
	if ri == nil {
		ri = &resourceInfo{kind: kind}
		r.resources[h] = ri
	}
	return ri
}

func kindFor(id decode.FunctionID) ResourceKind {
	switch id {
	case decode.FnCreateImage, decode.FnDestroyImage, decode.FnGetImageMemoryRequirements, decode.FnBindImageMemory:
		return Image
	default:
		return Buffer
	}
}

// alignUp rounds v up to a multiple of align. An alignment of 0 is treated as 1.
func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	if rem := v % align; rem != 0 {
		return v + (align - rem)
	}
	return v
}
