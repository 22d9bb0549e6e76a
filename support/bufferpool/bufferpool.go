// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package bufferpool pools the scratch buffers that trace blocks are read
// into.
package bufferpool

import (
	"sync"
	"sync/atomic"
)

// Pool maintains a pool of buffers. It offers a new buffer when one is
// unavailable.
type Pool struct {
	// MinSize is the minimum capacity of a newly-allocated buffer. Small
	// requests are rounded up to it so buffers can be reused across blocks of
	// different sizes.
	MinSize int

	// MaxRetainSize, if >0, is the capacity above which a released buffer is
	// dropped instead of returned to the pool. This keeps one oversized block
	// from pinning its memory for the lifetime of the pool.
	MaxRetainSize int

	base sync.Pool
}

// Get returns a buffer holding exactly n bytes, allocating one if no pooled
// buffer is large enough. The returned buffer has a reference count of 1.
//
// The caller should return the buffer to the pool by calling its Release method
// when done with it.
func (bp *Pool) Get(n int) *Buffer {
	b, ok := bp.base.Get().(*Buffer)
	if !ok || cap(b.bytes) < n {
		size := n
		if size < bp.MinSize {
			size = bp.MinSize
		}
		b = &Buffer{
			bytes: make([]byte, size),
		}
	}

	b.pool = bp
	b.bytes = b.bytes[:n]
	b.refcount = 1
	return b
}

func (bp *Pool) releaseNode(b *Buffer) {
	if bp.MaxRetainSize > 0 && cap(b.bytes) > bp.MaxRetainSize {
		return
	}
	bp.base.Put(b)
}

// Buffer contains a byte buffer that can be released into a Pool for reuse.
//
// Buffer is reference counted, and can be retained and released appropriately.
// Failure to release Buffer will not cause a memory leak, but will prevent the
// reuse of the Buffer.
type Buffer struct {
	refcount int64

	bytes []byte

	pool *Pool
}

// Bytes returns this buffer's byte slice.
func (b *Buffer) Bytes() []byte { return b.bytes }

// Len returns the number of bytes in the buffer.
func (b *Buffer) Len() int { return len(b.bytes) }

// Release returns the buffer to its buffer pool.
//
// Release is safe for concurrent use.
//
// A Buffer must only be released once per reference.
func (b *Buffer) Release() {
	if atomic.AddInt64(&b.refcount, -1) != 0 {
		return
	}

	var pool *Pool
	pool, b.pool = b.pool, nil
	pool.releaseNode(b)
}

// Retain increases the Buffer's reference count. It should be accompanied by
// a Release call to reuse the buffer when it's finished.
func (b *Buffer) Retain() { atomic.AddInt64(&b.refcount, 1) }
