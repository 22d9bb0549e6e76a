// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package replay

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xooiamd/gfxreconstruct/application"
	"github.com/xooiamd/gfxreconstruct/capture"
	"github.com/xooiamd/gfxreconstruct/decode"
	"github.com/xooiamd/gfxreconstruct/device"
	"github.com/xooiamd/gfxreconstruct/memory"
	"github.com/xooiamd/gfxreconstruct/tracefile"
	"github.com/xooiamd/gfxreconstruct/tracefile/codec"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

// recordingReplayer records the calls and frames it sees.
type recordingReplayer struct {
	calls  []int64
	frames []uint64
	remap  *memory.RemapTable
	fatal  func(string)

	// fatalAt, if >=0, is the call index at which the fatal handler is called.
	fatalAt int64
}

func (rr *recordingReplayer) OnCall(cr *decode.CallRecord) error {
	rr.calls = append(rr.calls, cr.Index)
	if cr.Index == rr.fatalAt {
		rr.fatal("device lost")
	}
	return nil
}

func (rr *recordingReplayer) OnFrameBoundary(frame uint64) error {
	rr.frames = append(rr.frames, frame)
	return nil
}

func (rr *recordingReplayer) SetFatalErrorHandler(fn func(string)) { rr.fatal = fn }
func (rr *recordingReplayer) SetRemapTable(rt *memory.RemapTable) { rr.remap = rt }

func writeWorkload(path string, wl capture.Workload) {
	cfg := tracefile.WriterConfig{Compression: codec.ZSTD, TempDir: filepath.Dir(path)}
	w, err := cfg.MakeWriter(path, "replay test")
	Expect(err).ToNot(HaveOccurred())

	var rec capture.Recorder
	rec.Start(w)
	Expect(wl.Record(&rec)).To(Succeed())
	Expect(rec.Stop()).To(Succeed())
}

func expectKind(err error, kind Kind) *Error {
	Expect(err).To(HaveOccurred())
	re, ok := err.(*Error)
	Expect(ok).To(BeTrue(), "not a replay error: %s", err)
	Expect(re.Kind).To(Equal(kind), "unexpected error: %s", err)
	return re
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx  context.Context
		tdir string
		path string
		app  *application.Headless
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		tdir, err = ioutil.TempDir("", "replay_test")
		Expect(err).ToNot(HaveOccurred())
		path = filepath.Join(tdir, "trace.gtrf")
		app = &application.Headless{}
	})

	AfterEach(func() {
		_ = os.RemoveAll(tdir)
	})

	liveReplayer := func(sim *device.Simulated) *device.Replayer {
		r, err := device.NewReplayer(device.ReplayerConfig{
			Device:        sim,
			WindowFactory: app.WindowFactory(),
		})
		Expect(err).ToNot(HaveOccurred())
		return r
	}

	It("reports configuration errors before reading anything", func() {
		o := NewOrchestrator(Options{MultiPassPortability: true, Allocator: device.AllocatorRebind})
		err := o.Run(ctx, filepath.Join(tdir, "does-not-exist"), &recordingReplayer{fatalAt: -1}, app)

		re := expectKind(err, KindConfiguration)
		Expect(re.Pass).To(Equal(0))
		Expect(o.State()).To(Equal(StateIdle))
	})

	It("reports a missing trace as an IO error", func() {
		o := NewOrchestrator(Options{})
		err := o.Run(ctx, filepath.Join(tdir, "does-not-exist"), &recordingReplayer{fatalAt: -1}, app)
		expectKind(err, KindIO)
		Expect(o.State()).To(Equal(StateFailed))
	})

	It("replays a trace in a single pass", func() {
		writeWorkload(path, capture.Workload{Frames: 3, Buffers: 4, UnknownCalls: true})

		sim := &device.Simulated{}
		o := NewOrchestrator(Options{})
		Expect(o.Run(ctx, path, liveReplayer(sim), app)).To(Succeed())

		Expect(o.State()).To(Equal(StateDone))
		Expect(o.RemapTable()).To(BeNil())
		Expect(o.PassState().Pass).To(Equal(2))
		Expect(o.PassState().ErrorState).To(Equal(tracefile.ErrorNone))

		s := o.Summary()
		Expect(s.Frames).To(Equal(uint64(3)))
		Expect(s.String()).To(HaveSuffix("3 frames, 1 loop, framerange 1-3"))
		Expect(sim.Info().Presents).To(Equal(int64(3)))
		Expect(o.RunID().IsNil()).To(BeFalse())
	})

	It("fails a single pass on a device with stricter alignment", func() {
		writeWorkload(path, capture.Workload{Frames: 3, Buffers: 4})

		sim := &device.Simulated{DeviceLimits: device.Limits{Alignment: 256}}
		o := NewOrchestrator(Options{})
		err := o.Run(ctx, path, liveReplayer(sim), app)

		re := expectKind(err, KindObserverFatal)
		Expect(re.Pass).To(Equal(2))
		Expect(re.Frame).To(Equal(uint64(1)))
		Expect(o.State()).To(Equal(StateFailed))
		Expect(o.Summary().String()).To(Equal("A failure has occurred during replay"))
	})

	It("replays on a device with stricter alignment in two passes", func() {
		writeWorkload(path, capture.Workload{Frames: 3, Buffers: 4})

		sim := &device.Simulated{DeviceLimits: device.Limits{Alignment: 256}}
		o := NewOrchestrator(Options{
			MultiPassPortability: true,
			DeviceConstraints:    &memory.ProfileConstraints{MinAlignment: 256},
		})
		Expect(o.Run(ctx, path, liveReplayer(sim), app)).To(Succeed())

		Expect(o.State()).To(Equal(StateDone))
		rt := o.RemapTable()
		Expect(rt).ToNot(BeNil())
		Expect(rt.Len()).To(Equal(4))

		size, ok := rt.AllocationSize(capture.WorkloadMemory)
		Expect(ok).To(BeTrue())
		Expect(size).To(Equal(uint64(3*256 + 64)))
		Expect(sim.Info().Binds).To(Equal(int64(4)))
		Expect(o.Summary().Frames).To(Equal(uint64(3)))
	})

	It("preserves capture aliasing across two passes", func() {
		writeWorkload(path, capture.Workload{Frames: 1, Buffers: 2, AliasLast: true})

		o := NewOrchestrator(Options{
			MultiPassPortability: true,
			DeviceConstraints:    &memory.ProfileConstraints{MinAlignment: 256},
		})
		Expect(o.Run(ctx, path, &recordingReplayer{fatalAt: -1}, app)).To(Succeed())

		var wl capture.Workload
		last, ok := o.RemapTable().Lookup(capture.WorkloadMemory, wl.BufferHandle(1))
		Expect(ok).To(BeTrue())
		alias, ok := o.RemapTable().Lookup(capture.WorkloadMemory, wl.BufferHandle(2))
		Expect(ok).To(BeTrue())
		Expect(alias.ReplayOffset).To(Equal(last.ReplayOffset))
	})

	It("dispatches the same calls in pass 2 as in a single pass", func() {
		writeWorkload(path, capture.Workload{Frames: 4, Buffers: 3, UnknownCalls: true})

		single := recordingReplayer{fatalAt: -1}
		Expect(NewOrchestrator(Options{}).Run(ctx, path, &single, app)).To(Succeed())

		multi := recordingReplayer{fatalAt: -1}
		o := NewOrchestrator(Options{MultiPassPortability: true})
		Expect(o.Run(ctx, path, &multi, app)).To(Succeed())

		Expect(multi.calls).To(Equal(single.calls))
		Expect(multi.frames).To(Equal([]uint64{1, 2, 3, 4}))
		Expect(multi.remap).To(BeIdenticalTo(o.RemapTable()))
		Expect(single.remap).To(BeNil())

		// A second lookahead over the same trace computes the same table.
		again := NewOrchestrator(Options{MultiPassPortability: true})
		Expect(again.Run(ctx, path, &recordingReplayer{fatalAt: -1}, app)).To(Succeed())
		Expect(again.RemapTable().Entries(capture.WorkloadMemory)).To(Equal(o.RemapTable().Entries(capture.WorkloadMemory)))
	})

	Context("with a truncated trace", func() {
		BeforeEach(func() {
			writeWorkload(path, capture.Workload{Frames: 2, Buffers: 2})

			data, err := ioutil.ReadFile(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(ioutil.WriteFile(path, data[:len(data)-5], 0644)).To(Succeed())
		})

		It("fails the single pass as corrupt", func() {
			rr := recordingReplayer{fatalAt: -1}
			o := NewOrchestrator(Options{})
			err := o.Run(ctx, path, &rr, app)

			re := expectKind(err, KindCorruptData)
			Expect(re.Pass).To(Equal(2))
			Expect(o.State()).To(Equal(StateFailed))
			Expect(o.PassState().ErrorState).To(Equal(tracefile.ErrorCorruptData))
			Expect(rr.frames).To(HaveLen(2))
		})

		It("fails in the lookahead pass without replaying anything", func() {
			rr := recordingReplayer{fatalAt: -1}
			o := NewOrchestrator(Options{MultiPassPortability: true})
			err := o.Run(ctx, path, &rr, app)

			re := expectKind(err, KindCorruptData)
			Expect(re.Pass).To(Equal(1))
			Expect(o.State()).To(Equal(StateFailed))
			Expect(o.RemapTable()).To(BeNil())
			Expect(rr.calls).To(BeEmpty())
		})
	})

	It("stops before the next block when an observer reports a fatal error", func() {
		writeWorkload(path, capture.Workload{Frames: 3, Buffers: 2})

		rr := recordingReplayer{fatalAt: 5}
		o := NewOrchestrator(Options{})
		err := o.Run(ctx, path, &rr, app)

		re := expectKind(err, KindObserverFatal)
		Expect(re.Error()).To(ContainSubstring("device lost"))
		Expect(rr.calls[len(rr.calls)-1]).To(Equal(int64(5)))
		Expect(o.State()).To(Equal(StateFailed))
	})

	It("stops when its Context is cancelled", func() {
		writeWorkload(path, capture.Workload{Frames: 3})

		cctx, cancelFunc := context.WithCancel(ctx)
		cancelFunc()

		o := NewOrchestrator(Options{MultiPassPortability: true})
		err := o.Run(cctx, path, &recordingReplayer{fatalAt: -1}, app)
		re := expectKind(err, KindCancelled)
		Expect(re.Pass).To(Equal(1))
	})

	It("fails the run if the device cannot hold the remapped layout", func() {
		writeWorkload(path, capture.Workload{Frames: 1, Buffers: 4})

		o := NewOrchestrator(Options{
			MultiPassPortability: true,
			DeviceConstraints:    &memory.ProfileConstraints{MinAlignment: 256, MaxAllocationSize: 512},
		})
		err := o.Run(ctx, path, &recordingReplayer{fatalAt: -1}, app)
		re := expectKind(err, KindConfiguration)
		Expect(re.Pass).To(Equal(1))
	})

	It("may only run once", func() {
		writeWorkload(path, capture.Workload{Frames: 1})

		o := NewOrchestrator(Options{})
		Expect(o.Run(ctx, path, &recordingReplayer{fatalAt: -1}, app)).To(Succeed())
		Expect(o.Run(ctx, path, &recordingReplayer{fatalAt: -1}, app)).ToNot(Succeed())
	})
})

var _ = DescribeTable("Options.Validate",
	func(o Options, valid bool) {
		err := o.Validate()
		if valid {
			Expect(err).ToNot(HaveOccurred())
			return
		}
		Expect(err).To(HaveOccurred())
		Expect(classify(err)).To(Equal(KindConfiguration))
	},
	Entry("defaults", Options{}, true),
	Entry("multi-pass", Options{MultiPassPortability: true}, true),
	Entry("rebind", Options{Allocator: device.AllocatorRebind}, true),
	Entry("multi-pass with remap", Options{MultiPassPortability: true, Allocator: device.AllocatorRemap}, false),
	Entry("multi-pass with rebind", Options{MultiPassPortability: true, Allocator: device.AllocatorRebind}, false),
	Entry("unknown allocator", Options{Allocator: device.Allocator(7)}, false),
)

var _ = DescribeTable("Summary",
	func(s Summary, expected string) {
		Expect(s.String()).To(Equal(expected))
	},
	Entry("no frames", Summary{}, "File did not contain any frames"),
	Entry("failed", Summary{Frames: 3, Failed: true}, "A failure has occurred during replay"),
	Entry("one frame", Summary{Frames: 1, Duration: 2 * time.Second},
		"0.500000 fps, 2.000000 seconds, 1 frame, 1 loop, framerange 1-1"),
	Entry("many frames", Summary{Frames: 10, Duration: 5 * time.Second},
		"2.000000 fps, 5.000000 seconds, 10 frames, 1 loop, framerange 1-10"),
)

func TestReplay(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Testing replay")
}
