// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package codec implements the reversible transforms applied to trace block
// payloads.
//
// Decoding is a pure function of its inputs. Every block header records the
// payload's uncompressed size, and a decode that produces any other size is
// rejected.
//
// Codec support is registered at build time. Building with the "nozstd" or
// "nolz4" tags removes the respective codec; files that use it can then not be
// read, but uncompressed files and files using other codecs remain readable.
package codec

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Compression identifies a block codec. Its numeric value is stored in trace
// file headers and must not change.
type Compression int32

const (
	// NONE stores payloads as-is.
	NONE Compression = 0
	// SNAPPY uses the Snappy block format.
	SNAPPY Compression = 1
	// GZIP uses a gzip stream per block.
	GZIP Compression = 2
	// ZSTD uses a Zstandard frame per block.
	ZSTD Compression = 3
	// LZ4 uses the raw LZ4 block format.
	LZ4 Compression = 4
)

var compressionNames = map[Compression]string{
	NONE:   "NONE",
	SNAPPY: "SNAPPY",
	GZIP:   "GZIP",
	ZSTD:   "ZSTD",
	LZ4:    "LZ4",
}

func (c Compression) String() string {
	if name, ok := compressionNames[c]; ok {
		return name
	}
	return "Compression(" + strconv.Itoa(int(c)) + ")"
}

// ParseCompression resolves a compression name, case-insensitively.
func ParseCompression(v string) (Compression, error) {
	for c, name := range compressionNames {
		if strings.EqualFold(v, name) {
			return c, nil
		}
	}
	return NONE, errors.Errorf("unknown compression type: %q", v)
}

// Names returns the names of all known compression types, in value order,
// whether or not they are supported by this build.
func Names() []string {
	all := make([]Compression, 0, len(compressionNames))
	for c := range compressionNames {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	names := make([]string, len(all))
	for i, c := range all {
		names[i] = c.String()
	}
	return names
}

// MaxDecodedSize is the largest output any codec will produce for a single
// Decode call.
const MaxDecodedSize = 256 * 1024 * 1024

// ErrUnsupported is returned when a codec is not available in this build, or
// the compression value is unknown.
var ErrUnsupported = errors.New("compression not supported by this build")

// ErrSizeMismatch is returned when decoded output does not match the size
// declared by the block header.
var ErrSizeMismatch = errors.New("decoded size does not match declared size")

// ErrIncompressible is returned by Encode when a codec cannot produce any
// encoding of its input. Callers should store such payloads uncompressed.
var ErrIncompressible = errors.New("payload is incompressible")

// impl is a single codec implementation.
type impl interface {
	// encode appends the encoding of src to dst and returns it.
	encode(dst, src []byte, level int) ([]byte, error)
	// decode decodes src into a buffer of (at least) expectedSize capacity,
	// reusing dst if it is large enough.
	decode(dst, src []byte, expectedSize int) ([]byte, error)
}

var registry = map[Compression]impl{}

// register installs a codec. It is called from init functions of the
// per-codec files, and panics on duplicates.
func register(c Compression, i impl) {
	if _, ok := registry[c]; ok {
		panic("duplicate codec registration: " + c.String())
	}
	registry[c] = i
}

// Supported returns true if c can be encoded and decoded by this build.
func Supported(c Compression) bool {
	if c == NONE {
		return true
	}
	_, ok := registry[c]
	return ok
}

// Decode decodes src, which was encoded with c, and verifies that the result is
// exactly expectedSize bytes long.
//
// dst, if not nil, may be reused as the output buffer.
func Decode(c Compression, dst, src []byte, expectedSize int) ([]byte, error) {
	if expectedSize < 0 || expectedSize > MaxDecodedSize {
		return nil, errors.Wrapf(ErrSizeMismatch, "expected size %d is out of range", expectedSize)
	}

	var (
		out []byte
		err error
	)
	if c == NONE {
		out = src
	} else {
		i, ok := registry[c]
		if !ok {
			return nil, errors.Wrapf(ErrUnsupported, "decoding %s", c)
		}
		if out, err = i.decode(dst, src, expectedSize); err != nil {
			return nil, errors.Wrapf(err, "decoding %s", c)
		}
	}

	if len(out) != expectedSize {
		return nil, errors.Wrapf(ErrSizeMismatch, "%s produced %d bytes, expected %d", c, len(out), expectedSize)
	}
	return out, nil
}

// Encode encodes src with c at the given level. Levels are codec-specific; a
// negative level selects the codec's default.
func Encode(c Compression, src []byte, level int) ([]byte, error) {
	if c == NONE {
		return src, nil
	}

	i, ok := registry[c]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupported, "encoding %s", c)
	}
	out, err := i.encode(nil, src, level)
	if err != nil {
		if err == ErrIncompressible {
			return nil, err
		}
		return nil, errors.Wrapf(err, "encoding %s", c)
	}
	return out, nil
}

// growTo returns a slice of length n, reusing buf's storage if possible.
func growTo(buf []byte, n int) []byte {
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]byte, n)
}
