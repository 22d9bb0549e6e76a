// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package device

import (
	"sync"

	"github.com/xooiamd/gfxreconstruct/application"

	"github.com/pkg/errors"
)

// Simulated is an in-process Device. It performs no work, but validates every
// call against its Limits and its own object state, failing the way a real
// device would.
//
// Simulated is safe for concurrent use. Its exported fields must not be
// changed after first use.
type Simulated struct {
	// DeviceLimits are the limits the device enforces.
	DeviceLimits Limits

	// FailOn, if not nil, is called with the name of each operation before it
	// runs. If it returns an error, the operation fails with that error.
	FailOn func(op string) error

	mu      sync.Mutex
	next    Handle
	objects map[Handle]interface{}
	info    Info
}

var _ Device = (*Simulated)(nil)

type simInstance struct{}

type simDevice struct{ instance Handle }

type simMemory struct {
	size    uint64
	typ     uint32
	mapped  bool
	freed   bool
	binders int
}

type simResource struct {
	size uint64

	bound  bool
	mem    Handle
	offset uint64
}

type simSurface struct {
	surface application.Surface
}

func (d *Simulated) check(op string) error {
	if d.FailOn != nil {
		if err := d.FailOn(op); err != nil {
			return errors.Wrapf(err, "%s", op)
		}
	}
	return nil
}

func (d *Simulated) add(obj interface{}) Handle {
	if d.objects == nil {
		d.objects = make(map[Handle]interface{})
	}
	d.next++
	d.objects[d.next] = obj
	return d.next
}

func (d *Simulated) memory(h Handle) (*simMemory, error) {
	m, ok := d.objects[h].(*simMemory)
	switch {
	case !ok:
		return nil, errors.Errorf("%s is not a memory object", h)
	case m.freed:
		return nil, errors.Errorf("memory %s has been freed", h)
	}
	return m, nil
}

func (d *Simulated) resource(h Handle) (*simResource, error) {
	r, ok := d.objects[h].(*simResource)
	if !ok {
		return nil, errors.Errorf("%s is not a buffer or image", h)
	}
	return r, nil
}

// Limits implements Device.
func (d *Simulated) Limits() Limits { return d.DeviceLimits }

// Info returns the device's current stats.
func (d *Simulated) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// CreateInstance implements Device.
func (d *Simulated) CreateInstance(appName string) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check("CreateInstance"); err != nil {
		return 0, err
	}
	d.info.Instances++
	return d.add(&simInstance{}), nil
}

// CreateDevice implements Device.
func (d *Simulated) CreateDevice(instance Handle, name string) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check("CreateDevice"); err != nil {
		return 0, err
	}
	if _, ok := d.objects[instance].(*simInstance); !ok {
		return 0, errors.Errorf("%s is not an instance", instance)
	}
	d.info.Devices++
	return d.add(&simDevice{instance: instance}), nil
}

// AllocateMemory implements Device.
func (d *Simulated) AllocateMemory(size uint64, memoryTypeIndex uint32) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check("AllocateMemory"); err != nil {
		return 0, err
	}
	if size == 0 {
		return 0, errors.New("cannot allocate zero bytes")
	}
	if limit := d.DeviceLimits.MaxAllocationSize; limit > 0 && size > limit {
		return 0, errors.Errorf("allocation of %d bytes exceeds the device maximum of %d", size, limit)
	}

	d.info.Allocations++
	d.info.LiveAllocations++
	d.info.AllocatedBytes += int64(size)
	simAllocatedBytes.Add(float64(size))
	return d.add(&simMemory{size: size, typ: memoryTypeIndex}), nil
}

// FreeMemory implements Device.
func (d *Simulated) FreeMemory(mem Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check("FreeMemory"); err != nil {
		return err
	}
	m, err := d.memory(mem)
	if err != nil {
		return err
	}
	m.freed = true
	d.info.LiveAllocations--
	d.info.AllocatedBytes -= int64(m.size)
	simAllocatedBytes.Sub(float64(m.size))
	return nil
}

// MapMemory implements Device.
func (d *Simulated) MapMemory(mem Handle, offset, size uint64) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check("MapMemory"); err != nil {
		return 0, err
	}
	m, err := d.memory(mem)
	if err != nil {
		return 0, err
	}
	switch {
	case m.mapped:
		return 0, errors.Errorf("memory %s is already mapped", mem)
	case offset >= m.size:
		return 0, errors.Errorf("map offset %d is outside of memory %s (%d bytes)", offset, mem, m.size)
	}
	if rem := m.size - offset; size > rem {
		size = rem
	}
	m.mapped = true
	return size, nil
}

// UnmapMemory implements Device.
func (d *Simulated) UnmapMemory(mem Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check("UnmapMemory"); err != nil {
		return err
	}
	m, err := d.memory(mem)
	if err != nil {
		return err
	}
	if !m.mapped {
		return errors.Errorf("memory %s is not mapped", mem)
	}
	m.mapped = false
	return nil
}

// CreateBuffer implements Device.
func (d *Simulated) CreateBuffer(size uint64) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check("CreateBuffer"); err != nil {
		return 0, err
	}
	return d.createResource(size)
}

// CreateImage implements Device.
func (d *Simulated) CreateImage(width, height, bytesPerPixel uint64) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check("CreateImage"); err != nil {
		return 0, err
	}
	return d.createResource(width * height * bytesPerPixel)
}

func (d *Simulated) createResource(size uint64) (Handle, error) {
	if size == 0 {
		return 0, errors.New("cannot create a zero-sized resource")
	}
	d.info.Resources++
	return d.add(&simResource{size: alignUp(size, d.DeviceLimits.AllocationGranularity)}), nil
}

// DestroyResource implements Device.
func (d *Simulated) DestroyResource(res Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check("DestroyResource"); err != nil {
		return err
	}
	r, err := d.resource(res)
	if err != nil {
		return err
	}
	if r.bound {
		if m, ok := d.objects[r.mem].(*simMemory); ok {
			m.binders--
		}
	}
	delete(d.objects, res)
	d.info.Resources--
	return nil
}

// MemoryRequirements implements Device.
func (d *Simulated) MemoryRequirements(res Handle) (Requirements, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check("MemoryRequirements"); err != nil {
		return Requirements{}, err
	}
	r, err := d.resource(res)
	if err != nil {
		return Requirements{}, err
	}

	align := d.DeviceLimits.Alignment
	if align == 0 {
		align = 1
	}
	return Requirements{Size: r.size, Alignment: align}, nil
}

// BindMemory implements Device.
func (d *Simulated) BindMemory(res, mem Handle, offset uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check("BindMemory"); err != nil {
		return err
	}
	r, err := d.resource(res)
	if err != nil {
		return err
	}
	m, err := d.memory(mem)
	if err != nil {
		return err
	}

	switch {
	case r.bound:
		return errors.Errorf("resource %s is already bound", res)
	case alignUp(offset, d.DeviceLimits.Alignment) != offset:
		return errors.Errorf("bind offset %d of resource %s is not aligned to %d", offset, res, d.DeviceLimits.Alignment)
	case offset > m.size || r.size > m.size-offset:
		return errors.Errorf("resource %s (%d bytes) at offset %d does not fit in memory %s (%d bytes)",
			res, r.size, offset, mem, m.size)
	}

	r.bound, r.mem, r.offset = true, mem, offset
	m.binders++
	d.info.Binds++
	return nil
}

// CreateSurface implements Device.
func (d *Simulated) CreateSurface(s application.Surface) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check("CreateSurface"); err != nil {
		return 0, err
	}
	if s.Width == 0 || s.Height == 0 {
		return 0, errors.Errorf("surface %d has no area", s.ID)
	}
	d.info.Surfaces++
	return d.add(&simSurface{surface: s}), nil
}

// Submit implements Device.
func (d *Simulated) Submit(resources []Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check("Submit"); err != nil {
		return err
	}
	for _, res := range resources {
		r, err := d.resource(res)
		if err != nil {
			return err
		}
		if !r.bound {
			return errors.Errorf("submitted resource %s is not bound to memory", res)
		}
		if _, err := d.memory(r.mem); err != nil {
			return errors.Wrapf(err, "submitted resource %s", res)
		}
	}
	d.info.Submits++
	return nil
}

// Present implements Device.
func (d *Simulated) Present(surface Handle, imageIndex uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check("Present"); err != nil {
		return err
	}
	if _, ok := d.objects[surface].(*simSurface); !ok {
		return errors.Errorf("%s is not a surface", surface)
	}
	d.info.Presents++
	return nil
}
