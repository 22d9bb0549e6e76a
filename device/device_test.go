// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package device

import (
	"testing"

	"github.com/xooiamd/gfxreconstruct/application"
	"github.com/xooiamd/gfxreconstruct/decode"
	"github.com/xooiamd/gfxreconstruct/memory"
	"github.com/xooiamd/gfxreconstruct/tracefile"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

const (
	testInstance = decode.Handle(0x10)
	testDevice   = decode.Handle(0x11)
	testMemory   = decode.Handle(0x20)
	testSurface  = decode.Handle(0x30)
)

// callStream builds call records and feeds them to a set of observers.
type callStream struct {
	dec   decode.Decoder
	index int64
}

func (cs *callStream) call(id decode.FunctionID, args ...decode.Value) error {
	payload, err := decode.EncodeCall(id, args...)
	Expect(err).ToNot(HaveOccurred())

	cr, err := cs.dec.Decode(&tracefile.Block{Index: cs.index, Kind: tracefile.BlockAPICall, Payload: payload}, 1)
	Expect(err).ToNot(HaveOccurred())
	cs.index++
	return cs.dec.Dispatch(cr)
}

func (cs *callStream) setup() error {
	if err := cs.call(decode.FnCreateInstance, decode.StringValue("test"), decode.HandleValue(testInstance)); err != nil {
		return err
	}
	return cs.call(decode.FnCreateDevice, decode.HandleValue(testInstance), decode.NullValue(),
		decode.HandleValue(testDevice))
}

func (cs *callStream) allocate(mem decode.Handle, size uint64) error {
	return cs.call(decode.FnAllocateMemory, decode.HandleValue(testDevice),
		decode.StructValue(&decode.Struct{
			Type:   decode.StructMemoryAllocateInfo,
			Fields: []decode.Value{decode.UintValue(size), decode.UintValue(1)},
		}),
		decode.HandleValue(mem))
}

// buffer creates, queries, and binds a buffer of size bytes at offset.
func (cs *callStream) buffer(buf, mem decode.Handle, offset, size uint64) error {
	err := cs.call(decode.FnCreateBuffer, decode.HandleValue(testDevice),
		decode.StructValue(&decode.Struct{
			Type:   decode.StructBufferCreateInfo,
			Fields: []decode.Value{decode.UintValue(size), decode.UintValue(0)},
		}),
		decode.HandleValue(buf))
	if err != nil {
		return err
	}
	err = cs.call(decode.FnGetBufferMemoryRequirements, decode.HandleValue(testDevice), decode.HandleValue(buf),
		decode.StructValue(&decode.Struct{
			Type:   decode.StructMemoryRequirements,
			Fields: []decode.Value{decode.UintValue(size), decode.UintValue(64), decode.UintValue(0xFF)},
		}))
	if err != nil {
		return err
	}
	return cs.bind(buf, mem, offset)
}

func (cs *callStream) bind(buf, mem decode.Handle, offset uint64) error {
	return cs.call(decode.FnBindBufferMemory, decode.HandleValue(testDevice), decode.HandleValue(buf),
		decode.HandleValue(mem), decode.UintValue(offset))
}

func (cs *callStream) submit(resources ...decode.Handle) error {
	vs := make([]decode.Value, len(resources))
	for i, h := range resources {
		vs[i] = decode.HandleValue(h)
	}
	return cs.call(decode.FnQueueSubmit, decode.HandleValue(testDevice), decode.ArrayValue(vs...))
}

func (cs *callStream) surfaceAndPresent() error {
	err := cs.call(decode.FnCreateSurface, decode.HandleValue(testInstance),
		decode.StructValue(&decode.Struct{
			Type: decode.StructSurfaceCreateInfo,
			Fields: []decode.Value{
				decode.IntValue(0), decode.IntValue(0), decode.UintValue(640), decode.UintValue(480),
			},
		}),
		decode.HandleValue(testSurface))
	if err != nil {
		return err
	}
	return cs.call(decode.FnQueuePresent, decode.HandleValue(testDevice), decode.HandleValue(testSurface),
		decode.UintValue(0))
}

// twoBuffers replays two 64-byte buffers bound at offsets 0 and 64 of a
// 128-byte allocation, then submits and presents.
func (cs *callStream) twoBuffers() error {
	for _, fn := range []func() error{
		cs.setup,
		func() error { return cs.allocate(testMemory, 128) },
		func() error { return cs.buffer(0xB1, testMemory, 0, 64) },
		func() error { return cs.buffer(0xB2, testMemory, 64, 64) },
		func() error { return cs.submit(0xB1, 0xB2) },
		cs.surfaceAndPresent,
	} {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

var _ = Describe("Replayer", func() {
	var (
		sim     *Simulated
		app     application.Headless
		cs      *callStream
		fatal   []string
		newRepl func(Allocator) *Replayer
	)

	BeforeEach(func() {
		sim = &Simulated{}
		cs = &callStream{}
		fatal = nil

		newRepl = func(a Allocator) *Replayer {
			r, err := NewReplayer(ReplayerConfig{
				Device:        sim,
				WindowFactory: app.WindowFactory(),
				Allocator:     a,
			})
			Expect(err).ToNot(HaveOccurred())
			r.SetFatalErrorHandler(func(msg string) { fatal = append(fatal, msg) })
			cs.dec.AddObserver(r)
			return r
		}
	})

	It("requires a device", func() {
		_, err := NewReplayer(ReplayerConfig{})
		Expect(err).To(HaveOccurred())
	})

	It("rejects an unknown allocator", func() {
		_, err := NewReplayer(ReplayerConfig{Device: sim, Allocator: Allocator(9)})
		Expect(err).To(HaveOccurred())
	})

	It("replays captured offsets with the default allocator", func() {
		r := newRepl(AllocatorDefault)
		Expect(cs.twoBuffers()).To(Succeed())
		Expect(r.OnFrameBoundary(1)).To(Succeed())

		info := sim.Info()
		Expect(info.Allocations).To(Equal(int64(1)))
		Expect(info.AllocatedBytes).To(Equal(int64(128)))
		Expect(info.Binds).To(Equal(int64(2)))
		Expect(info.Submits).To(Equal(int64(1)))
		Expect(info.Presents).To(Equal(int64(1)))
		Expect(info.Surfaces).To(Equal(int64(1)))
		Expect(r.NumFrames()).To(Equal(int64(1)))
		Expect(fatal).To(BeEmpty())

		lh, ok := r.LiveHandle(testMemory)
		Expect(ok).To(BeTrue())
		Expect(lh).ToNot(BeZero())

		Expect(r.Close()).To(Succeed())
	})

	It("fails when captured offsets violate the live alignment", func() {
		sim.DeviceLimits.Alignment = 256
		newRepl(AllocatorDefault)

		err := cs.twoBuffers()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("not aligned"))
		Expect(fatal).To(HaveLen(1))
		Expect(fatal[0]).To(ContainSubstring("BindBufferMemory"))
	})

	It("realigns offsets in place with the remap allocator", func() {
		sim.DeviceLimits.Alignment = 256
		newRepl(AllocatorRemap)

		Expect(cs.twoBuffers()).To(Succeed())
		info := sim.Info()
		Expect(info.AllocatedBytes).To(Equal(int64(128 + 256)))
		Expect(info.Binds).To(Equal(int64(2)))
	})

	It("gives each resource its own allocation with the rebind allocator", func() {
		sim.DeviceLimits.Alignment = 256
		sim.DeviceLimits.AllocationGranularity = 4096
		r := newRepl(AllocatorRebind)

		Expect(cs.twoBuffers()).To(Succeed())
		info := sim.Info()
		Expect(info.Allocations).To(Equal(int64(3)))
		Expect(info.AllocatedBytes).To(Equal(int64(128 + 2*4096)))

		Expect(cs.call(decode.FnDestroyBuffer, decode.HandleValue(testDevice), decode.HandleValue(0xB1))).To(Succeed())
		Expect(sim.Info().LiveAllocations).To(Equal(int64(2)))

		Expect(r.Close()).To(Succeed())
		Expect(sim.Info().LiveAllocations).To(Equal(int64(1)))
	})

	It("places binds from a remap table", func() {
		sim.DeviceLimits.Alignment = 256

		// Track the stream first, as a lookahead pass would.
		var t memory.Tracker
		cs.dec.AddObserver(&t)
		Expect(cs.twoBuffers()).To(Succeed())
		Expect(cs.dec.RemoveObserver(&t)).To(BeTrue())

		rt, err := t.ComputeRemap(&memory.ProfileConstraints{MinAlignment: 256})
		Expect(err).ToNot(HaveOccurred())

		// Replay the same stream with the table installed.
		sim = &Simulated{DeviceLimits: Limits{Alignment: 256}}
		cs = &callStream{}
		r := newRepl(AllocatorDefault)
		r.SetRemapTable(rt)

		Expect(cs.twoBuffers()).To(Succeed())
		size, ok := rt.AllocationSize(testMemory)
		Expect(ok).To(BeTrue())
		Expect(size).To(Equal(uint64(256 + 64)))
		Expect(sim.Info().AllocatedBytes).To(Equal(int64(size)))
		Expect(sim.Info().Binds).To(Equal(int64(2)))
	})

	It("fails on a handle it never saw created", func() {
		newRepl(AllocatorDefault)
		Expect(cs.setup()).To(Succeed())

		err := cs.bind(0xB1, testMemory, 0)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("no live object"))
		Expect(fatal).To(HaveLen(1))
	})

	It("reports live device failures", func() {
		sim.FailOn = func(op string) error {
			if op == "Present" {
				return errors.New("surface lost")
			}
			return nil
		}
		newRepl(AllocatorDefault)

		err := cs.twoBuffers()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("surface lost"))
		Expect(fatal).To(HaveLen(1))
	})

	It("fails to create surfaces without a window factory", func() {
		r, err := NewReplayer(ReplayerConfig{Device: sim})
		Expect(err).ToNot(HaveOccurred())
		cs.dec.AddObserver(r)

		Expect(cs.setup()).To(Succeed())
		Expect(cs.surfaceAndPresent()).ToNot(Succeed())
	})

	It("ignores a null memory handle when freeing", func() {
		newRepl(AllocatorDefault)
		Expect(cs.setup()).To(Succeed())
		Expect(cs.call(decode.FnFreeMemory, decode.HandleValue(testDevice), decode.NullValue())).To(Succeed())
	})
})

var _ = Describe("Simulated", func() {
	var sim *Simulated

	BeforeEach(func() {
		sim = &Simulated{DeviceLimits: Limits{Alignment: 16, MaxAllocationSize: 1024}}
	})

	It("clamps mapped ranges to the allocation", func() {
		mem, err := sim.AllocateMemory(128, 0)
		Expect(err).ToNot(HaveOccurred())

		size, err := sim.MapMemory(mem, 100, 100)
		Expect(err).ToNot(HaveOccurred())
		Expect(size).To(Equal(uint64(28)))

		_, err = sim.MapMemory(mem, 0, 1)
		Expect(err).To(HaveOccurred())
		Expect(sim.UnmapMemory(mem)).To(Succeed())
		Expect(sim.UnmapMemory(mem)).ToNot(Succeed())

		_, err = sim.MapMemory(mem, 128, 1)
		Expect(err).To(HaveOccurred())
	})

	It("enforces its maximum allocation size", func() {
		_, err := sim.AllocateMemory(2048, 0)
		Expect(err).To(HaveOccurred())
		_, err = sim.AllocateMemory(0, 0)
		Expect(err).To(HaveOccurred())
	})

	It("validates binds", func() {
		mem, err := sim.AllocateMemory(64, 0)
		Expect(err).ToNot(HaveOccurred())
		buf, err := sim.CreateBuffer(32)
		Expect(err).ToNot(HaveOccurred())

		Expect(sim.BindMemory(buf, mem, 8)).ToNot(Succeed())
		Expect(sim.BindMemory(buf, mem, 48)).ToNot(Succeed())
		Expect(sim.BindMemory(buf, mem, 32)).To(Succeed())
		Expect(sim.BindMemory(buf, mem, 0)).ToNot(Succeed())

		reqs, err := sim.MemoryRequirements(buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(reqs).To(Equal(Requirements{Size: 32, Alignment: 16}))
	})

	It("refuses to submit resources without live memory", func() {
		mem, err := sim.AllocateMemory(64, 0)
		Expect(err).ToNot(HaveOccurred())
		buf, err := sim.CreateBuffer(32)
		Expect(err).ToNot(HaveOccurred())

		Expect(sim.Submit([]Handle{buf})).ToNot(Succeed())
		Expect(sim.BindMemory(buf, mem, 0)).To(Succeed())
		Expect(sim.Submit([]Handle{buf})).To(Succeed())

		Expect(sim.FreeMemory(mem)).To(Succeed())
		Expect(sim.FreeMemory(mem)).ToNot(Succeed())
		Expect(sim.Submit([]Handle{buf})).ToNot(Succeed())
	})

	It("rounds resource sizes up to its granularity", func() {
		sim.DeviceLimits.AllocationGranularity = 256
		img, err := sim.CreateImage(4, 4, 4)
		Expect(err).ToNot(HaveOccurred())

		reqs, err := sim.MemoryRequirements(img)
		Expect(err).ToNot(HaveOccurred())
		Expect(reqs.Size).To(Equal(uint64(256)))
		Expect(sim.DestroyResource(img)).To(Succeed())
		Expect(sim.DestroyResource(img)).ToNot(Succeed())
	})

	It("injects failures", func() {
		sim.FailOn = func(op string) error { return errors.Errorf("no %s today", op) }
		_, err := sim.CreateInstance("test")
		Expect(err).To(MatchError(ContainSubstring("no CreateInstance today")))
	})
})

var _ = DescribeTable("AllocatorFlag",
	func(v string, expected Allocator, ok bool) {
		var af AllocatorFlag
		err := af.Set(v)
		if !ok {
			Expect(err).To(HaveOccurred())
			return
		}
		Expect(err).ToNot(HaveOccurred())
		Expect(af.Value()).To(Equal(expected))
		Expect(af.String()).To(Equal(v))
	},
	Entry("default", "default", AllocatorDefault, true),
	Entry("remap", "remap", AllocatorRemap, true),
	Entry("rebind", "rebind", AllocatorRebind, true),
	Entry("unknown", "bogus", AllocatorDefault, false),
)

func TestDevice(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Testing device")
}
