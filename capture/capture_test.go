// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package capture

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/xooiamd/gfxreconstruct/decode"
	"github.com/xooiamd/gfxreconstruct/tracefile"
	"github.com/xooiamd/gfxreconstruct/tracefile/codec"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type traceCounts struct {
	calls    int
	unknown  int
	frames   int
	metadata int
	byFn     map[decode.FunctionID]int
}

func countTrace(path string) traceCounts {
	r, err := tracefile.MakeReader(path, tracefile.ReaderConfig{})
	Expect(err).ToNot(HaveOccurred())
	defer r.Close()

	var (
		dec decode.Decoder
		tc  = traceCounts{byFn: make(map[decode.FunctionID]int)}
	)
	for {
		b, err := r.ReadBlock()
		if err == io.EOF {
			return tc
		}
		Expect(err).ToNot(HaveOccurred())

		switch b.Kind {
		case tracefile.BlockAPICall:
			cr, err := dec.Decode(b, r.FrameNumber())
			if decode.IsUnknownFunction(err) {
				tc.unknown++
				continue
			}
			Expect(err).ToNot(HaveOccurred())
			tc.calls++
			tc.byFn[cr.FunctionID]++
		case tracefile.BlockFrameMarker:
			tc.frames++
		case tracefile.BlockMetadata:
			tc.metadata++
		}
	}
}

var _ = Describe("Recorder", func() {
	var (
		tdir string
		path string
		rec  *Recorder
	)

	BeforeEach(func() {
		var err error
		tdir, err = ioutil.TempDir("", "capture_test")
		Expect(err).ToNot(HaveOccurred())
		path = filepath.Join(tdir, "out.gtrf")

		cfg := tracefile.WriterConfig{Compression: codec.SNAPPY, TempDir: tdir}
		w, err := cfg.MakeWriter(path, "capture test")
		Expect(err).ToNot(HaveOccurred())

		rec = &Recorder{}
		rec.Start(w)
	})

	AfterEach(func() {
		_ = rec.Stop()
		_ = os.RemoveAll(tdir)
	})

	It("records a workload", func() {
		wl := Workload{Frames: 3, Buffers: 4, UnknownCalls: true}
		Expect(wl.Record(rec)).To(Succeed())

		status := rec.Status()
		Expect(status).ToNot(BeNil())
		Expect(status.Path).To(Equal(path))
		Expect(status.Frame).To(Equal(uint64(4)))
		Expect(status.Error).ToNot(HaveOccurred())

		Expect(rec.Stop()).To(Succeed())
		Expect(rec.Status()).To(BeNil())

		tc := countTrace(path)
		Expect(tc.frames).To(Equal(3))
		Expect(tc.unknown).To(Equal(3))
		Expect(tc.calls).To(Equal(4 + 3*4 + 4*3 + 4 + 1))
		Expect(tc.byFn[decode.FnBindBufferMemory]).To(Equal(wl.NumBinds()))
		Expect(tc.byFn[decode.FnQueuePresent]).To(Equal(3))
		Expect(tc.metadata).To(Equal(2))
	})

	It("records an aliased bind", func() {
		wl := Workload{Frames: 1, Buffers: 2, AliasLast: true}
		Expect(wl.Record(rec)).To(Succeed())
		Expect(rec.Stop()).To(Succeed())

		tc := countTrace(path)
		Expect(tc.byFn[decode.FnBindBufferMemory]).To(Equal(3))
		Expect(tc.byFn[decode.FnDestroyBuffer]).To(Equal(3))
	})

	It("rejects calls that do not match their function, and keeps recording", func() {
		Expect(rec.RecordCall(decode.FnQueuePresent, decode.UintValue(1))).ToNot(Succeed())
		Expect(rec.RecordCall(decode.FnDestroyBuffer, decode.HandleValue(1), decode.NullValue())).To(Succeed())
		Expect(rec.EndFrame()).To(Succeed())
		Expect(rec.Stop()).To(Succeed())

		tc := countTrace(path)
		Expect(tc.calls).To(Equal(1))
		Expect(tc.frames).To(Equal(1))
	})

	It("ignores records after Stop", func() {
		Expect(rec.Stop()).To(Succeed())
		Expect(rec.Stop()).To(Succeed())
		Expect(rec.EndFrame()).To(Succeed())
		Expect(rec.RecordMetadata()).To(Succeed())
	})

	It("panics if started twice", func() {
		Expect(func() { rec.Start(nil) }).To(Panic())
	})
})

func TestCapture(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Testing capture")
}
