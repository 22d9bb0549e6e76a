// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package capture

import (
	"github.com/xooiamd/gfxreconstruct/decode"

	"github.com/pkg/errors"
)

// Captured handles used by Workload.
const (
	WorkloadInstance = decode.Handle(0x1)
	WorkloadDevice   = decode.Handle(0x2)
	WorkloadSurface  = decode.Handle(0x3)
	WorkloadMemory   = decode.Handle(0x100)

	// workloadBufferBase is the handle of the first buffer.
	workloadBufferBase = decode.Handle(0x1000)
)

// UnknownFunction is a function ID that no decoder knows. Workload records
// calls to it when asked to.
const UnknownFunction = decode.FunctionID(0xFFFF)

// Workload is a synthetic capture. It allocates one block of memory, packs
// buffers into it back to back, and then submits and presents them once per
// frame.
//
// Buffers are bound at multiples of BufferSize, which is their captured
// alignment; a replay device with a stricter alignment cannot use the
// captured offsets as-is.
type Workload struct {
	// Frames is the number of frames to record.
	Frames int
	// Buffers is the number of buffers bound into the allocation. If <= 0, one
	// buffer is used.
	Buffers int
	// BufferSize is the size of each buffer. If zero, 64 is used.
	BufferSize uint64
	// AliasLast, if true, binds one extra buffer over the range of the last
	// buffer.
	AliasLast bool
	// UnknownCalls, if true, records a call to UnknownFunction in every frame.
	UnknownCalls bool

	// Width and Height are the surface size. If zero, 640x480 is used.
	Width, Height uint64
}

func (wl *Workload) buffers() int {
	if wl.Buffers <= 0 {
		return 1
	}
	return wl.Buffers
}

func (wl *Workload) bufferSize() uint64 {
	if wl.BufferSize == 0 {
		return 64
	}
	return wl.BufferSize
}

// BufferHandle returns the captured handle of the i'th buffer.
func (wl *Workload) BufferHandle(i int) decode.Handle { return workloadBufferBase + decode.Handle(i) }

// NumBinds returns the number of binds Workload records.
func (wl *Workload) NumBinds() int {
	if wl.AliasLast {
		return wl.buffers() + 1
	}
	return wl.buffers()
}

// Record records wl into r.
func (wl *Workload) Record(r *Recorder) error {
	width, height := wl.Width, wl.Height
	if width == 0 || height == 0 {
		width, height = 640, 480
	}
	size := wl.bufferSize()
	numBuffers := wl.buffers()

	calls := []struct {
		id   decode.FunctionID
		args []decode.Value
	}{
		{decode.FnCreateInstance, []decode.Value{
			decode.StringValue("synthetic"),
			decode.HandleValue(WorkloadInstance),
		}},
		{decode.FnCreateDevice, []decode.Value{
			decode.HandleValue(WorkloadInstance),
			decode.StringValue("capture device"),
			decode.HandleValue(WorkloadDevice),
		}},
		{decode.FnCreateSurface, []decode.Value{
			decode.HandleValue(WorkloadInstance),
			decode.StructValue(&decode.Struct{
				Type: decode.StructSurfaceCreateInfo,
				Fields: []decode.Value{
					decode.IntValue(0), decode.IntValue(0), decode.UintValue(width), decode.UintValue(height),
				},
			}),
			decode.HandleValue(WorkloadSurface),
		}},
		{decode.FnAllocateMemory, []decode.Value{
			decode.HandleValue(WorkloadDevice),
			decode.StructValue(&decode.Struct{
				Type:   decode.StructMemoryAllocateInfo,
				Fields: []decode.Value{decode.UintValue(size * uint64(numBuffers)), decode.UintValue(0)},
			}),
			decode.HandleValue(WorkloadMemory),
		}},
	}
	for _, c := range calls {
		if err := r.RecordCall(c.id, c.args...); err != nil {
			return errors.Wrapf(err, "recording %s", c.id)
		}
	}

	var resources []decode.Value
	bind := func(buf decode.Handle, offset uint64) error {
		if err := wl.recordBuffer(r, buf, offset, size); err != nil {
			return errors.Wrapf(err, "recording buffer 0x%x", uint64(buf))
		}
		resources = append(resources, decode.HandleValue(buf))
		return nil
	}
	for i := 0; i < numBuffers; i++ {
		if err := bind(wl.BufferHandle(i), uint64(i)*size); err != nil {
			return err
		}
	}
	if wl.AliasLast {
		if err := bind(wl.BufferHandle(numBuffers), uint64(numBuffers-1)*size); err != nil {
			return err
		}
	}

	for f := 0; f < wl.Frames; f++ {
		if err := wl.recordFrame(r, f, size*uint64(numBuffers), resources); err != nil {
			return errors.Wrapf(err, "recording frame %d", f+1)
		}
	}

	for i := range resources {
		if err := r.RecordCall(decode.FnDestroyBuffer, decode.HandleValue(WorkloadDevice),
			decode.HandleValue(wl.BufferHandle(i))); err != nil {
			return err
		}
	}
	return r.RecordCall(decode.FnFreeMemory, decode.HandleValue(WorkloadDevice), decode.HandleValue(WorkloadMemory))
}

func (wl *Workload) recordBuffer(r *Recorder, buf decode.Handle, offset, size uint64) error {
	err := r.RecordCall(decode.FnCreateBuffer,
		decode.HandleValue(WorkloadDevice),
		decode.StructValue(&decode.Struct{
			Type:   decode.StructBufferCreateInfo,
			Fields: []decode.Value{decode.UintValue(size), decode.UintValue(0)},
		}),
		decode.HandleValue(buf))
	if err != nil {
		return err
	}

	err = r.RecordCall(decode.FnGetBufferMemoryRequirements,
		decode.HandleValue(WorkloadDevice),
		decode.HandleValue(buf),
		decode.StructValue(&decode.Struct{
			Type:   decode.StructMemoryRequirements,
			Fields: []decode.Value{decode.UintValue(size), decode.UintValue(size), decode.UintValue(0x1)},
		}))
	if err != nil {
		return err
	}

	return r.RecordCall(decode.FnBindBufferMemory,
		decode.HandleValue(WorkloadDevice),
		decode.HandleValue(buf),
		decode.HandleValue(WorkloadMemory),
		decode.UintValue(offset))
}

func (wl *Workload) recordFrame(r *Recorder, f int, memSize uint64, resources []decode.Value) error {
	if err := r.RecordCall(decode.FnMapMemory, decode.HandleValue(WorkloadDevice),
		decode.HandleValue(WorkloadMemory), decode.UintValue(0), decode.UintValue(memSize)); err != nil {
		return err
	}
	if err := r.RecordCall(decode.FnUnmapMemory, decode.HandleValue(WorkloadDevice),
		decode.HandleValue(WorkloadMemory)); err != nil {
		return err
	}
	if wl.UnknownCalls {
		if err := r.RecordCall(UnknownFunction); err != nil {
			return err
		}
	}
	if err := r.RecordCall(decode.FnQueueSubmit, decode.HandleValue(WorkloadDevice),
		decode.ArrayValue(resources...)); err != nil {
		return err
	}
	if err := r.RecordCall(decode.FnQueuePresent, decode.HandleValue(WorkloadDevice),
		decode.HandleValue(WorkloadSurface), decode.UintValue(uint64(f%2))); err != nil {
		return err
	}
	return r.EndFrame()
}
