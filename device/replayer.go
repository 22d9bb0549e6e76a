// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package device

import (
	"github.com/xooiamd/gfxreconstruct/application"
	"github.com/xooiamd/gfxreconstruct/decode"
	"github.com/xooiamd/gfxreconstruct/memory"
	"github.com/xooiamd/gfxreconstruct/support/logging"

	"github.com/pkg/errors"
)

// ReplayerConfig configures a Replayer.
type ReplayerConfig struct {
	// Device is the live device to replay against. It must not be nil.
	Device Device

	// WindowFactory, if not nil, creates the windows that back captured
	// surfaces. If nil, replaying a surface creation fails.
	WindowFactory application.WindowFactory

	// Allocator selects how captured memory is placed. It is ignored once a
	// remap table is installed.
	Allocator Allocator

	// Constraints, if not nil, sizes dedicated allocations for AllocatorRebind.
	// If nil, constraints are derived from the Device's Limits.
	Constraints memory.DeviceConstraints

	// Logger, if not nil, is used to log replay events.
	Logger logging.L
}

// Replayer is a decode.Observer that replays calls against a live Device.
//
// Captured handles are translated through a handle table. Memory placement
// follows the configured Allocator, or a RemapTable if one was installed with
// SetRemapTable.
type Replayer struct {
	cfg    ReplayerConfig
	logger logging.L

	// handles maps captured handles to live handles.
	handles map[decode.Handle]Handle
	// memoryTypes holds the memory type of each captured allocation.
	memoryTypes map[decode.Handle]uint32
	// dedicated maps captured resources to their AllocatorRebind allocation.
	dedicated map[decode.Handle]Handle
	// windows maps captured surfaces to the windows that back them.
	windows map[decode.Handle]application.Window

	resources memory.Resources
	online    memory.OnlineTranslator
	remap     *memory.RemapTable

	fatal func(string)

	calls  int64
	frames int64
}

var _ interface {
	decode.FrameObserver
	decode.FatalErrorSource
} = (*Replayer)(nil)

// NewReplayer creates a Replayer from cfg.
func NewReplayer(cfg ReplayerConfig) (*Replayer, error) {
	if cfg.Device == nil {
		return nil, errors.New("a device is required")
	}
	if cfg.Allocator < AllocatorDefault || cfg.Allocator > AllocatorRebind {
		return nil, errors.Errorf("unknown allocator %d", cfg.Allocator)
	}

	constraints := cfg.Constraints
	if constraints == nil {
		lim := cfg.Device.Limits()
		constraints = &memory.ProfileConstraints{
			Name:                  "live",
			MinAlignment:          lim.Alignment,
			AllocationGranularity: lim.AllocationGranularity,
			MaxAllocationSize:     lim.MaxAllocationSize,
		}
	}

	return &Replayer{
		cfg:         cfg,
		logger:      logging.Must(cfg.Logger),
		handles:     make(map[decode.Handle]Handle),
		memoryTypes: make(map[decode.Handle]uint32),
		dedicated:   make(map[decode.Handle]Handle),
		windows:     make(map[decode.Handle]application.Window),
		online:      memory.OnlineTranslator{Constraints: constraints},
	}, nil
}

// SetRemapTable installs rt. Subsequent allocations are sized, and binds
// placed, according to rt.
func (r *Replayer) SetRemapTable(rt *memory.RemapTable) { r.remap = rt }

// SetFatalErrorHandler implements decode.FatalErrorSource.
func (r *Replayer) SetFatalErrorHandler(fn func(message string)) { r.fatal = fn }

// NumCalls returns the number of calls replayed.
func (r *Replayer) NumCalls() int64 { return r.calls }

// NumFrames returns the number of frames replayed.
func (r *Replayer) NumFrames() int64 { return r.frames }

// LiveHandle returns the live handle for a captured handle.
func (r *Replayer) LiveHandle(h decode.Handle) (Handle, bool) {
	lh, ok := r.handles[h]
	return lh, ok
}

// OnCall implements decode.Observer.
func (r *Replayer) OnCall(cr *decode.CallRecord) error {
	if err := r.replay(cr); err != nil {
		err = errors.Wrapf(err, "replaying call %d (%s)", cr.Index, cr.FunctionID)
		replayFailures.WithLabelValues(cr.FunctionID.String()).Inc()
		if r.fatal != nil {
			r.fatal(err.Error())
		}
		return err
	}

	r.calls++
	callsReplayed.WithLabelValues(cr.FunctionID.String()).Inc()
	return nil
}

// OnFrameBoundary implements decode.FrameObserver.
func (r *Replayer) OnFrameBoundary(frame uint64) error {
	r.frames++
	framesReplayed.Inc()
	r.logger.Debugf("Finished frame %d.", frame)
	return nil
}

// Close destroys every window and dedicated allocation created by r.
func (r *Replayer) Close() error {
	var firstErr error
	for h, w := range r.windows {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "closing window of surface 0x%x", uint64(h))
		}
	}
	r.windows = make(map[decode.Handle]application.Window)

	for res, mem := range r.dedicated {
		if err := r.cfg.Device.FreeMemory(mem); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "freeing dedicated memory of resource 0x%x", uint64(res))
		}
	}
	r.dedicated = make(map[decode.Handle]Handle)
	return firstErr
}

func (r *Replayer) replay(cr *decode.CallRecord) error {
	dev := r.cfg.Device

	switch cr.FunctionID {
	case decode.FnCreateInstance:
		name, _ := cr.Arg(0).Str()
		lh, err := dev.CreateInstance(name)
		if err != nil {
			return err
		}
		return r.mapCreated(cr, 1, lh)

	case decode.FnCreateDevice:
		instance, err := r.live(cr, 0)
		if err != nil {
			return err
		}
		name, _ := cr.Arg(1).Str()
		lh, err := dev.CreateDevice(instance, name)
		if err != nil {
			return err
		}
		return r.mapCreated(cr, decode.ArgCreated, lh)

	case decode.FnAllocateMemory:
		return r.allocateMemory(cr)

	case decode.FnFreeMemory:
		h, err := cr.Handle(decode.ArgMemory)
		if err != nil || h == decode.NullHandle {
			return err
		}
		mem, err := r.live(cr, decode.ArgMemory)
		if err != nil {
			return err
		}
		if err := dev.FreeMemory(mem); err != nil {
			return err
		}
		delete(r.handles, h)
		return nil

	case decode.FnMapMemory:
		mem, err := r.live(cr, decode.ArgMemory)
		if err != nil {
			return err
		}
		offset, err := cr.Uint(2)
		if err != nil {
			return err
		}
		size, err := cr.Uint(3)
		if err != nil {
			return err
		}
		mapped, err := dev.MapMemory(mem, offset, size)
		if err != nil {
			return err
		}
		if mapped != size {
			r.logger.Debugf("Call %d: mapped %d of %d requested bytes.", cr.Index, mapped, size)
		}
		return nil

	case decode.FnUnmapMemory:
		mem, err := r.live(cr, decode.ArgMemory)
		if err != nil {
			return err
		}
		return dev.UnmapMemory(mem)

	case decode.FnCreateBuffer, decode.FnCreateImage:
		return r.createResource(cr)

	case decode.FnDestroyBuffer, decode.FnDestroyImage:
		return r.destroyResource(cr)

	case decode.FnGetBufferMemoryRequirements, decode.FnGetImageMemoryRequirements:
		if _, err := r.resources.Observe(cr); err != nil {
			return err
		}
		res, err := r.live(cr, decode.ArgResource)
		if err != nil {
			return err
		}
		reqs, err := dev.MemoryRequirements(res)
		if err != nil {
			return err
		}
		if captured, _ := cr.Struct(decode.ArgRequirements); captured != nil {
			if captured.Uint(decode.RequirementsSize) != reqs.Size ||
				captured.Uint(decode.RequirementsAlignment) != reqs.Alignment {
				r.logger.Debugf("Call %d: captured requirements %s differ from live %+v.", cr.Index, captured, reqs)
			}
		}
		return nil

	case decode.FnBindBufferMemory, decode.FnBindImageMemory:
		return r.bindMemory(cr)

	case decode.FnCreateSurface:
		return r.createSurface(cr)

	case decode.FnQueueSubmit:
		arr := cr.Arg(1).Array
		live := make([]Handle, 0, len(arr))
		for i, v := range arr {
			h, ok := v.Handle()
			if !ok {
				return errors.Errorf("submitted resource #%d is %s, not a handle", i, v.Kind)
			}
			lh, err := r.liveHandle(h)
			if err != nil {
				return errors.Wrapf(err, "submitted resource #%d", i)
			}
			live = append(live, lh)
		}
		return dev.Submit(live)

	case decode.FnQueuePresent:
		surface, err := r.live(cr, 1)
		if err != nil {
			return err
		}
		imageIndex, err := cr.Uint(2)
		if err != nil {
			return err
		}
		return dev.Present(surface, imageIndex)

	default:
		r.logger.Debugf("Call %d: nothing to replay for %s.", cr.Index, cr.FunctionID)
		return nil
	}
}

func (r *Replayer) allocateMemory(cr *decode.CallRecord) error {
	info, err := cr.Struct(decode.ArgCreateInfo)
	if err != nil {
		return err
	}
	h, err := cr.Handle(decode.ArgCreated)
	if err != nil {
		return err
	}

	size := info.Uint(decode.AllocateInfoSize)
	memType := uint32(info.Uint(decode.AllocateInfoMemoryTypeIndex))
	switch {
	case r.remap != nil:
		if replaySize, ok := r.remap.AllocationSize(h); ok {
			size = replaySize
		}
	case r.cfg.Allocator == AllocatorRemap:
		// Leave room for the first bind to move up to the next aligned offset.
		lim := r.cfg.Device.Limits()
		size = alignUp(size, lim.AllocationGranularity) + lim.Alignment
	}

	lh, err := r.cfg.Device.AllocateMemory(size, memType)
	if err != nil {
		return err
	}
	r.memoryTypes[h] = memType
	return r.mapCreated(cr, decode.ArgCreated, lh)
}

func (r *Replayer) createResource(cr *decode.CallRecord) error {
	if _, err := r.resources.Observe(cr); err != nil {
		return err
	}
	info, err := cr.Struct(decode.ArgCreateInfo)
	if err != nil {
		return err
	}

	var lh Handle
	if cr.FunctionID == decode.FnCreateImage {
		lh, err = r.cfg.Device.CreateImage(info.Uint(decode.ImageInfoWidth), info.Uint(decode.ImageInfoHeight),
			info.Uint(decode.ImageInfoBytesPerPixel))
	} else {
		lh, err = r.cfg.Device.CreateBuffer(info.Uint(decode.BufferInfoSize))
	}
	if err != nil {
		return err
	}
	return r.mapCreated(cr, decode.ArgCreated, lh)
}

func (r *Replayer) destroyResource(cr *decode.CallRecord) error {
	h, err := cr.Handle(decode.ArgResource)
	if err != nil || h == decode.NullHandle {
		return err
	}
	if _, err := r.resources.Observe(cr); err != nil {
		return err
	}
	res, err := r.live(cr, decode.ArgResource)
	if err != nil {
		return err
	}
	if err := r.cfg.Device.DestroyResource(res); err != nil {
		return err
	}
	delete(r.handles, h)

	if mem, ok := r.dedicated[h]; ok {
		delete(r.dedicated, h)
		r.online.Release(h)
		if err := r.cfg.Device.FreeMemory(mem); err != nil {
			return errors.Wrap(err, "freeing dedicated memory")
		}
	}
	return nil
}

func (r *Replayer) bindMemory(cr *decode.CallRecord) error {
	br, err := r.resources.BindRecord(cr)
	if err != nil {
		return err
	}
	res, err := r.liveHandle(br.Resource)
	if err != nil {
		return err
	}

	dev := r.cfg.Device
	switch {
	case r.remap != nil:
		e, ok := r.remap.ForCall(cr.Index)
		if !ok {
			if e, ok = r.remap.Lookup(br.Allocation, br.Resource); !ok {
				return errors.Errorf("no remap entry for %s 0x%x in memory 0x%x",
					br.Kind, uint64(br.Resource), uint64(br.Allocation))
			}
		}
		mem, err := r.liveHandle(br.Allocation)
		if err != nil {
			return err
		}
		bindsPlaced.WithLabelValues("table").Inc()
		return dev.BindMemory(res, mem, e.ReplayOffset)

	case r.cfg.Allocator == AllocatorRebind:
		reqs, err := dev.MemoryRequirements(res)
		if err != nil {
			return err
		}
		if reqs.Size > br.Size {
			br.Size = reqs.Size
		}
		p, err := r.online.Place(br)
		if err != nil {
			return err
		}
		mem, err := dev.AllocateMemory(p.AllocationSize, r.memoryTypes[br.Allocation])
		if err != nil {
			return err
		}
		if err := dev.BindMemory(res, mem, p.Offset); err != nil {
			_ = dev.FreeMemory(mem)
			return err
		}
		r.dedicated[br.Resource] = mem
		bindsPlaced.WithLabelValues(AllocatorRebind.String()).Inc()
		return nil

	case r.cfg.Allocator == AllocatorRemap:
		mem, err := r.liveHandle(br.Allocation)
		if err != nil {
			return err
		}
		reqs, err := dev.MemoryRequirements(res)
		if err != nil {
			return err
		}
		offset := alignUp(br.Offset, reqs.Alignment)
		if offset != br.Offset {
			r.logger.Debugf("Call %d: realigned bind offset %d to %d.", cr.Index, br.Offset, offset)
		}
		bindsPlaced.WithLabelValues(AllocatorRemap.String()).Inc()
		return dev.BindMemory(res, mem, offset)

	default:
		mem, err := r.liveHandle(br.Allocation)
		if err != nil {
			return err
		}
		bindsPlaced.WithLabelValues(AllocatorDefault.String()).Inc()
		return dev.BindMemory(res, mem, br.Offset)
	}
}

func (r *Replayer) createSurface(cr *decode.CallRecord) error {
	if r.cfg.WindowFactory == nil {
		return errors.New("no window factory to create a surface with")
	}
	info, err := cr.Struct(decode.ArgCreateInfo)
	if err != nil {
		return err
	}
	h, err := cr.Handle(decode.ArgCreated)
	if err != nil {
		return err
	}

	w, err := r.cfg.WindowFactory.CreateWindow(info.Field(decode.SurfaceInfoX).Int, info.Field(decode.SurfaceInfoY).Int,
		info.Uint(decode.SurfaceInfoWidth), info.Uint(decode.SurfaceInfoHeight))
	if err != nil {
		return errors.Wrap(err, "creating window")
	}
	lh, err := r.cfg.Device.CreateSurface(w.Surface())
	if err != nil {
		_ = w.Close()
		return err
	}
	r.windows[h] = w
	return r.mapCreated(cr, decode.ArgCreated, lh)
}

// live returns the live handle for the captured handle argument i.
func (r *Replayer) live(cr *decode.CallRecord, i int) (Handle, error) {
	h, err := cr.Handle(i)
	if err != nil {
		return 0, err
	}
	return r.liveHandle(h)
}

func (r *Replayer) liveHandle(h decode.Handle) (Handle, error) {
	lh, ok := r.handles[h]
	if !ok {
		return 0, errors.Errorf("no live object for captured handle 0x%x", uint64(h))
	}
	return lh, nil
}

func (r *Replayer) mapCreated(cr *decode.CallRecord, i int, lh Handle) error {
	h, err := cr.Handle(i)
	if err != nil {
		return err
	}
	if h == decode.NullHandle {
		return errors.New("captured a null handle for a created object")
	}
	r.handles[h] = lh
	return nil
}
