// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package bufferpool

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Pool", func() {
	It("returns buffers of exactly the requested length", func() {
		bp := Pool{MinSize: 64}

		b := bp.Get(10)
		Expect(b.Len()).To(Equal(10))
		Expect(cap(b.Bytes())).To(BeNumerically(">=", 64))
		b.Release()

		b = bp.Get(200)
		Expect(b.Len()).To(Equal(200))
		b.Release()
	})

	It("only returns a retained buffer to the pool on its final release", func() {
		var bp Pool
		b := bp.Get(8)
		b.Retain()

		b.Release()
		Expect(b.pool).To(BeIdenticalTo(&bp))

		b.Release()
		Expect(b.pool).To(BeNil())
	})
})

func TestBufferPool(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Testing bufferpool")
}
