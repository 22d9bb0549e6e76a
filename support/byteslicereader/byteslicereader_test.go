// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package byteslicereader

import (
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("R", func() {
	var r *R

	BeforeEach(func() {
		r = &R{}
	})

	Context("Read", func() {
		It("reads 0 bytes and returns EOF with no data", func() {
			v, err := r.Read(make([]byte, 16))
			Expect(v).To(Equal(0))
			Expect(err).To(Equal(io.EOF))
		})

		It("reads part of the buffer on first read, remainder on second", func() {
			r.Buffer = []byte{0, 1, 2, 3}
			buf := make([]byte, 3)

			v, err := r.Read(buf)
			Expect(v).To(Equal(3))
			Expect(err).ToNot(HaveOccurred())
			Expect(buf[:v]).To(Equal([]byte{0, 1, 2}))

			v, err = r.Read(buf)
			Expect(v).To(Equal(1))
			Expect(err).To(Equal(io.EOF))
			Expect(buf[:v]).To(Equal([]byte{3}))
		})
	})

	Context("ReadByte", func() {
		It("reads the data, then returns EOF", func() {
			r.Buffer = []byte{7, 8}

			for _, expected := range []byte{7, 8} {
				v, err := r.ReadByte()
				Expect(err).ToNot(HaveOccurred())
				Expect(v).To(Equal(expected))
			}

			_, err := r.ReadByte()
			Expect(err).To(Equal(io.EOF))
		})
	})

	Context("Next", func() {
		BeforeEach(func() {
			r.Buffer = []byte{0, 1, 2, 3}
		})

		It("returns subslices of the Buffer", func() {
			buf, err := r.Next(2)
			Expect(err).ToNot(HaveOccurred())
			Expect(buf).To(Equal([]byte{0, 1}))
			Expect(&buf[0]).To(BeIdenticalTo(&r.Buffer[0]))

			buf, err = r.Next(2)
			Expect(err).ToNot(HaveOccurred())
			Expect(buf).To(Equal([]byte{2, 3}))

			buf, err = r.Next(1)
			Expect(err).To(Equal(io.EOF))
			Expect(buf).To(BeEmpty())
		})

		It("returns what it can, and io.EOF, when asked for too much", func() {
			buf, err := r.Next(1337)
			Expect(err).To(Equal(io.EOF))
			Expect(buf).To(Equal(r.Buffer))
		})

		It("copies when AlwaysCopy is set", func() {
			r.AlwaysCopy = true
			buf, err := r.Next(2)
			Expect(err).ToNot(HaveOccurred())
			Expect(buf).To(Equal([]byte{0, 1}))
			Expect(&buf[0]).ToNot(BeIdenticalTo(&r.Buffer[0]))
		})
	})

	Context("fixed-width decoding", func() {
		It("decodes little-endian integers and floats", func() {
			buf := make([]byte, 20)
			binary.LittleEndian.PutUint32(buf[0:], 0xCAFEBABE)
			binary.LittleEndian.PutUint64(buf[4:], 0x0102030405060708)
			binary.LittleEndian.PutUint64(buf[12:], math.Float64bits(2.5))
			r.Buffer = buf

			u32, err := r.Uint32()
			Expect(err).ToNot(HaveOccurred())
			Expect(u32).To(Equal(uint32(0xCAFEBABE)))

			u64, err := r.Uint64()
			Expect(err).ToNot(HaveOccurred())
			Expect(u64).To(Equal(uint64(0x0102030405060708)))

			f, err := r.Float64()
			Expect(err).ToNot(HaveOccurred())
			Expect(f).To(Equal(2.5))
			Expect(r.Remaining()).To(Equal(0))
		})

		It("fails with ErrShortBuffer when data runs out", func() {
			r.Buffer = []byte{1, 2, 3}
			_, err := r.Uint32()
			Expect(errors.Cause(err)).To(Equal(ErrShortBuffer))
			Expect(r.Offset()).To(Equal(0))
		})
	})

	Context("varints", func() {
		It("decodes unsigned and signed varints", func() {
			buf := binary.AppendUvarint(nil, 300)
			buf = binary.AppendVarint(buf, -5)
			r.Buffer = buf

			u, err := r.Uvarint()
			Expect(err).ToNot(HaveOccurred())
			Expect(u).To(Equal(uint64(300)))

			s, err := r.Varint()
			Expect(err).ToNot(HaveOccurred())
			Expect(s).To(Equal(int64(-5)))
		})

		It("reports a truncated varint as ErrShortBuffer", func() {
			r.Buffer = []byte{0x80}
			_, err := r.Uvarint()
			Expect(err).To(Equal(ErrShortBuffer))
		})

		It("reads length-prefixed data", func() {
			r.Buffer = append(binary.AppendUvarint(nil, 3), 'a', 'b', 'c', 'd')
			v, err := r.LengthPrefixed()
			Expect(err).ToNot(HaveOccurred())
			Expect(string(v)).To(Equal("abc"))
			Expect(r.Remaining()).To(Equal(1))
		})

		It("rejects a length prefix that overruns the buffer", func() {
			r.Buffer = append(binary.AppendUvarint(nil, 10), 'a')
			_, err := r.LengthPrefixed()
			Expect(errors.Cause(err)).To(Equal(ErrShortBuffer))
		})
	})

	It("maintains state when copied", func() {
		r.Buffer = []byte{1, 2, 3, 4}
		_, err := r.Next(2)
		Expect(err).ToNot(HaveOccurred())

		clone := *r
		b, err := r.ReadByte()
		Expect(err).ToNot(HaveOccurred())
		Expect(b).To(Equal(byte(3)))

		b, err = clone.ReadByte()
		Expect(err).ToNot(HaveOccurred())
		Expect(b).To(Equal(byte(3)))
	})
})

func TestR(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Testing a byteslicereader.R")
}
