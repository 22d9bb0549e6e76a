// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package device replays decoded calls against a live device.
//
// This package offers a definition of a live device, Device, along with
// Simulated, an in-process implementation that enforces a configurable set of
// Limits. Replayer is a decode.Observer that translates captured handles,
// memory sizes and bind offsets into calls on a Device.
//
// Optional Prometheus monitoring can be enabled by registering on startup
// (generally init()) via RegisterMonitoring.
package device

import (
	"fmt"

	"github.com/xooiamd/gfxreconstruct/application"
)

// Handle is a live device object handle. The zero Handle is never valid.
type Handle uint64

func (h Handle) String() string { return fmt.Sprintf("0x%x", uint64(h)) }

// Limits are a device's memory constraints.
type Limits struct {
	// Alignment is the alignment required of every bind offset. Zero and one
	// both mean no alignment is required.
	Alignment uint64
	// AllocationGranularity, if >1, is the multiple that resource memory sizes
	// are rounded up to.
	AllocationGranularity uint64
	// MaxAllocationSize, if >0, is the largest allocation the device supports.
	MaxAllocationSize uint64
}

// Requirements are the memory requirements of a live resource.
type Requirements struct {
	Size      uint64
	Alignment uint64
}

// Info is a set of stats collected for a device.
type Info struct {
	Instances int64
	Devices   int64

	Allocations     int64
	LiveAllocations int64
	AllocatedBytes  int64

	Resources int64
	Binds     int64
	Surfaces  int64

	Submits  int64
	Presents int64
}

// Device is a live device. It implements a small graphics/compute API.
//
// A Device need not be safe for concurrent use.
type Device interface {
	// CreateInstance creates an API instance.
	CreateInstance(appName string) (Handle, error)
	// CreateDevice creates a logical device on instance.
	CreateDevice(instance Handle, name string) (Handle, error)

	// AllocateMemory allocates size bytes of memory of the given type.
	AllocateMemory(size uint64, memoryTypeIndex uint32) (Handle, error)
	// FreeMemory frees an allocation. Resources bound to it may no longer be
	// submitted.
	FreeMemory(mem Handle) error
	// MapMemory maps a range of mem and returns the mapped size. A range that
	// extends past the end of the allocation is clamped to it.
	MapMemory(mem Handle, offset, size uint64) (uint64, error)
	// UnmapMemory unmaps mem.
	UnmapMemory(mem Handle) error

	// CreateBuffer creates a buffer of size bytes.
	CreateBuffer(size uint64) (Handle, error)
	// CreateImage creates an image.
	CreateImage(width, height, bytesPerPixel uint64) (Handle, error)
	// DestroyResource destroys a buffer or image.
	DestroyResource(res Handle) error
	// MemoryRequirements returns the memory requirements of a buffer or image.
	MemoryRequirements(res Handle) (Requirements, error)
	// BindMemory binds a buffer or image to mem at offset.
	BindMemory(res, mem Handle, offset uint64) error

	// CreateSurface creates a presentable surface backed by a window surface.
	CreateSurface(s application.Surface) (Handle, error)
	// Submit submits work that uses the given resources.
	Submit(resources []Handle) error
	// Present presents an image of a surface.
	Present(surface Handle, imageIndex uint64) error

	// Limits returns the device's memory constraints.
	Limits() Limits
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	if rem := v % align; rem != 0 {
		return v + (align - rem)
	}
	return v
}
