// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tracereplay

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("tracereplay", func() {
	var tdir string

	BeforeEach(func() {
		var err error
		tdir, err = ioutil.TempDir("", "tracereplay_test")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(tdir)
	})

	execute := func(args ...string) (string, string, error) {
		var stdout, stderr bytes.Buffer
		root := newRootCommand(&stdout, &stderr)
		root.SetIn(strings.NewReader(""))
		root.SetArgs(append([]string{"--log-level", "error"}, args...))
		err := root.Execute()
		return stdout.String(), stderr.String(), err
	}

	generate := func(name string, extra ...string) string {
		path := filepath.Join(tdir, name)
		out, _, err := execute(append([]string{"generate", path, "--frames", "3", "--buffers", "4"}, extra...)...)
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(ContainSubstring("in 3 frames"))
		return path
	}

	writeProfile := func(alignment int) string {
		path := filepath.Join(tdir, "device.yaml")
		data := "name: strict\nmin_alignment: " + strconv.Itoa(alignment) + "\n"
		Expect(ioutil.WriteFile(path, []byte(data), 0644)).To(Succeed())
		return path
	}

	It("generates a trace and describes it", func() {
		path := generate("workload.gtrf", "--unknown-calls", "--name", "synthetic")

		out, _, err := execute("info", "-v", path)
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(MatchRegexp(`Compression:\s+ZSTD`))
		Expect(out).To(MatchRegexp(`Frames:\s+3\n`))
		Expect(out).To(MatchRegexp(`Unknown calls:\s+3\n`))
		Expect(out).To(MatchRegexp(`Metadata "name":\s+synthetic`))
		Expect(out).To(MatchRegexp(`BindBufferMemory\s+4\n`))
	})

	It("replays a trace on a permissive device", func() {
		path := generate("workload.gtrf")

		out, _, err := execute("replay", path)
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(ContainSubstring("3 frames, 1 loop, framerange 1-3"))
	})

	It("fails to replay captured offsets on a stricter device", func() {
		path := generate("workload.gtrf")

		_, stderr, err := execute("replay", path, "--device-profile", writeProfile(256))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("ObserverFatal"))
		Expect(stderr).To(ContainSubstring("Replay has encountered a fatal error and cannot continue"))
	})

	It("replays on a stricter device with multi-pass portability", func() {
		path := generate("workload.gtrf")

		out, _, err := execute("replay", path, "--emrp", "--device-profile", writeProfile(256))
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(ContainSubstring("3 frames"))
	})

	It("rejects multi-pass portability with another memory translation", func() {
		path := generate("workload.gtrf")

		_, _, err := execute("replay", path, "--emrp", "-m", "rebind")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("ConfigurationError"))
	})

	It("rejects an unknown memory translation", func() {
		path := generate("workload.gtrf")

		_, _, err := execute("replay", path, "-m", "bogus")
		Expect(err).To(HaveOccurred())
	})

	It("reports a missing trace as an I/O failure", func() {
		_, _, err := execute("replay", filepath.Join(tdir, "missing.gtrf"))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("IOError"))
	})

	It("converts a trace to another compression", func() {
		src := generate("workload.gtrf", "--name", "synthetic")
		dst := filepath.Join(tdir, "converted.gtrf")

		out, _, err := execute("convert", src, dst, "-c", "lz4")
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(ContainSubstring("LZ4"))

		ti, err := scanTrace(dst)
		Expect(err).ToNot(HaveOccurred())
		Expect(ti.header.Codec().String()).To(Equal("LZ4"))
		Expect(ti.frames).To(Equal(uint64(3)))
		v, _ := ti.metadata.String("name")
		Expect(v).To(Equal("synthetic"))

		srcInfo, err := scanTrace(src)
		Expect(err).ToNot(HaveOccurred())
		Expect(ti.functions).To(Equal(srcInfo.functions))

		out, _, err = execute("replay", dst)
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(ContainSubstring("framerange 1-3"))
	})

	It("writes gathered metrics in text format", func() {
		path := generate("workload.gtrf")

		var stdout, stderr bytes.Buffer
		root := newRootCommand(&stdout, &stderr)
		root.SetArgs([]string{"--log-level", "error", "replay", path})
		Expect(root.Execute()).To(Succeed())

		gf := globalFlags{logLevel: "error"}
		Expect(gf.setup(&stderr)).To(Succeed())
		metrics := filepath.Join(tdir, "metrics.txt")
		Expect(gf.writeMetrics(metrics)).To(Succeed())

		data, err := ioutil.ReadFile(metrics)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(ContainSubstring("gfxr_replay_"))
	})

	It("rejects an invalid log level", func() {
		var stdout, stderr bytes.Buffer
		root := newRootCommand(&stdout, &stderr)
		root.SetArgs([]string{"--log-level", "loud", "info", filepath.Join(tdir, "x")})
		Expect(root.Execute()).ToNot(Succeed())
	})
})

func TestTraceReplay(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Testing tracereplay")
}
