// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

//go:build !nozstd
// +build !nozstd

package codec

import (
	"bytes"
	"runtime"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// streamEncode encodes src as a streamed zstd frame, which does not declare
// its content size.
func streamEncode(src []byte) []byte {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderConcurrency(1))
	Expect(err).ToNot(HaveOccurred())
	for off := 0; off < len(src); off += 64 * 1024 {
		end := off + 64*1024
		if end > len(src) {
			end = len(src)
		}
		_, err := enc.Write(src[off:end])
		Expect(err).ToNot(HaveOccurred())
	}
	Expect(enc.Close()).To(Succeed())
	return buf.Bytes()
}

func allocatedDuring(fn func()) uint64 {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	fn()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

var _ = Describe("ZSTD", func() {
	zeros := make([]byte, 8*1024*1024)

	BeforeEach(func() {
		// Build the shared decoder before measuring.
		enc, err := Encode(ZSTD, []byte("warm up"), -1)
		Expect(err).ToNot(HaveOccurred())
		_, err = Decode(ZSTD, nil, enc, 7)
		Expect(err).ToNot(HaveOccurred())
	})

	It("rejects a frame whose declared size differs before decoding it", func() {
		enc, err := Encode(ZSTD, zeros, -1)
		Expect(err).ToNot(HaveOccurred())
		Expect(len(enc)).To(BeNumerically("<", 64*1024))

		var decodeErr error
		allocated := allocatedDuring(func() {
			_, decodeErr = Decode(ZSTD, nil, enc, 16)
		})
		Expect(errors.Cause(decodeErr)).To(Equal(ErrSizeMismatch))
		Expect(allocated).To(BeNumerically("<", uint64(len(zeros)/4)))
	})

	It("bounds the output of frames without a declared size", func() {
		enc := streamEncode(zeros)

		var h zstd.Header
		Expect(h.Decode(enc)).To(Succeed())
		Expect(h.HasFCS).To(BeFalse())

		_, err := Decode(ZSTD, nil, enc, 16)
		Expect(errors.Cause(err)).To(Equal(ErrSizeMismatch))

		out, err := Decode(ZSTD, nil, enc, len(zeros))
		Expect(err).ToNot(HaveOccurred())
		Expect(bytes.Equal(out, zeros)).To(BeTrue())
	})

	It("decodes an empty payload", func() {
		enc, err := Encode(ZSTD, nil, -1)
		Expect(err).ToNot(HaveOccurred())

		out, err := Decode(ZSTD, nil, enc, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(BeEmpty())
	})

	It("rejects expected sizes beyond the decode limit", func() {
		_, err := Decode(ZSTD, nil, []byte{0x28, 0xb5, 0x2f, 0xfd}, MaxDecodedSize+1)
		Expect(errors.Cause(err)).To(Equal(ErrSizeMismatch))
	})
})
