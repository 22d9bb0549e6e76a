// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tracefile

import (
	"bytes"
	"io"
	"strconv"

	"github.com/xooiamd/gfxreconstruct/support/dataio"
	"github.com/xooiamd/gfxreconstruct/support/fmtutil"
	"github.com/xooiamd/gfxreconstruct/tracefile/codec"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

const (
	// MajorVersion is the file format major version. Readers reject files with
	// a different major version.
	MajorVersion = 1
	// MinorVersion is the file format minor version. Minor revisions only add
	// block kinds or metadata keys.
	MinorVersion = 0

	// FileHeaderSize is the encoded size of a FileHeader.
	FileHeaderSize = 16
	// BlockHeaderSize is the encoded size of a BlockHeader.
	BlockHeaderSize = 20

	// MaxBlockSize is the largest payload, compressed or not, that a block may
	// declare. Larger declarations are treated as corrupt data rather than
	// being allocated.
	MaxBlockSize = codec.MaxDecodedSize
)

// Magic is the value of FileHeader.Magic for trace files.
var Magic = [4]byte{'G', 'T', 'R', 'F'}

// ErrCorruptData is the cause of errors caused by malformed trace content.
var ErrCorruptData = errors.New("corrupt trace data")

// FileHeader is the header at the start of every trace file.
type FileHeader struct {
	Magic        [4]byte
	MajorVersion uint16 `struc:",little"`
	MinorVersion uint16 `struc:",little"`

	// Compression is the codec.Compression used by compressed blocks.
	Compression int32 `struc:",little"`

	Reserved uint32 `struc:",little"`
}

// Codec returns the compression used by the file's compressed blocks.
func (h FileHeader) Codec() codec.Compression { return codec.Compression(h.Compression) }

func (h *FileHeader) validate() error {
	if h.Magic != Magic {
		return errors.Wrapf(ErrCorruptData, "bad file magic %s", fmtutil.HexSlice(h.Magic[:]))
	}
	if h.MajorVersion != MajorVersion {
		return errors.Wrapf(ErrCorruptData, "unsupported major version %d (want %d)",
			h.MajorVersion, MajorVersion)
	}
	return nil
}

// BlockKind identifies the content of a block.
type BlockKind uint16

const (
	// BlockFrameMarker marks the end of a frame.
	BlockFrameMarker BlockKind = 1
	// BlockAPICall holds one encoded API call.
	BlockAPICall BlockKind = 2
	// BlockMetadata holds a protostream of structpb.Struct messages.
	BlockMetadata BlockKind = 3
)

func (k BlockKind) String() string {
	switch k {
	case BlockFrameMarker:
		return "FrameMarker"
	case BlockAPICall:
		return "APICall"
	case BlockMetadata:
		return "Metadata"
	default:
		return "BlockKind(" + strconv.Itoa(int(k)) + ")"
	}
}

func (k BlockKind) valid() bool {
	switch k {
	case BlockFrameMarker, BlockAPICall, BlockMetadata:
		return true
	default:
		return false
	}
}

const (
	// FlagCompressed is set on blocks whose payload is encoded with the file's
	// codec.
	FlagCompressed uint16 = 1 << 0
)

// BlockHeader precedes every block payload.
type BlockHeader struct {
	Kind  uint16 `struc:",little"`
	Flags uint16 `struc:",little"`

	// CompressedSize is the number of payload bytes stored in the file.
	CompressedSize uint64 `struc:",little"`
	// UncompressedSize is the size of the decoded payload.
	UncompressedSize uint64 `struc:",little"`
}

// Compressed returns true if the block's payload is encoded.
func (h *BlockHeader) Compressed() bool { return h.Flags&FlagCompressed != 0 }

func (h *BlockHeader) validate() error {
	if !BlockKind(h.Kind).valid() {
		return errors.Wrapf(ErrCorruptData, "unknown block kind %d", h.Kind)
	}
	if h.Flags&^FlagCompressed != 0 {
		return errors.Wrapf(ErrCorruptData, "unknown block flags 0x%04x", h.Flags)
	}
	if h.CompressedSize > MaxBlockSize || h.UncompressedSize > MaxBlockSize {
		return errors.Wrapf(ErrCorruptData, "block size (%d stored, %d decoded) exceeds maximum %d",
			h.CompressedSize, h.UncompressedSize, MaxBlockSize)
	}
	if !h.Compressed() && h.CompressedSize != h.UncompressedSize {
		return errors.Wrapf(ErrCorruptData, "uncompressed block declares %d stored and %d decoded bytes",
			h.CompressedSize, h.UncompressedSize)
	}
	return nil
}

// readHeader reads exactly size bytes from r and unpacks them into v.
//
// If r is at its end, readHeader returns io.EOF. A partial header is corrupt
// data.
func readHeader(r io.Reader, buf []byte, v interface{}) error {
	switch _, err := dataio.ReadFull(r, buf); err {
	case nil:
	case io.EOF:
		return io.EOF
	case io.ErrUnexpectedEOF:
		return errors.Wrap(ErrCorruptData, "truncated header")
	default:
		return err
	}

	if err := struc.Unpack(bytes.NewReader(buf), v); err != nil {
		return errors.Wrapf(ErrCorruptData, "unpacking header: %s", err)
	}
	return nil
}

func writeHeader(w io.Writer, v interface{}) (int, error) {
	var buf bytes.Buffer
	if err := struc.Pack(&buf, v); err != nil {
		return 0, err
	}
	return w.Write(buf.Bytes())
}
