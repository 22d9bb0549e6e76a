// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package fmtutil

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("fmtutil", func() {
	It("renders a HexSlice", func() {
		Expect(HexSlice("GT").String()).To(Equal("[2]byte{0x47, 0x54}"))
	})

	DescribeTable("Size",
		func(s Size, expected string) {
			Expect(s.String()).To(Equal(expected))
		},
		Entry("bytes", Size(512), "512 B"),
		Entry("kibibytes", Size(1536), "1.5 KiB"),
		Entry("mebibytes", Size(3*1024*1024), "3.0 MiB"),
	)
})

func TestFmtUtil(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Testing fmtutil")
}
