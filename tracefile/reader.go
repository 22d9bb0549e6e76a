// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tracefile

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/xooiamd/gfxreconstruct/support/bufferpool"
	"github.com/xooiamd/gfxreconstruct/support/dataio"
	"github.com/xooiamd/gfxreconstruct/support/logging"
	"github.com/xooiamd/gfxreconstruct/tracefile/codec"

	"github.com/pkg/errors"
)

const (
	// Large buffer size (4MB), good for reading the file.
	readerBufferSize = 1024 * 1024 * 4
)

// defaultBufferPool is shared by Readers that don't supply their own pool.
var defaultBufferPool = bufferpool.Pool{
	MinSize:       64 * 1024,
	MaxRetainSize: 16 * 1024 * 1024,
}

// ErrorState is the error classification of a Reader.
type ErrorState int

const (
	// ErrorNone means the Reader has not encountered an error.
	ErrorNone ErrorState = iota
	// ErrorIO means the underlying file could not be read.
	ErrorIO
	// ErrorCorruptData means the file content was malformed.
	ErrorCorruptData
	// ErrorCodecUnsupported means a compressed block was encountered whose codec
	// is not available in this build.
	ErrorCodecUnsupported
)

func (es ErrorState) String() string {
	switch es {
	case ErrorNone:
		return "None"
	case ErrorIO:
		return "IO"
	case ErrorCorruptData:
		return "CorruptData"
	case ErrorCodecUnsupported:
		return "CodecUnsupported"
	default:
		return "Unknown"
	}
}

// ClassifyError returns the ErrorState that err represents.
func ClassifyError(err error) ErrorState {
	switch errors.Cause(err) {
	case nil:
		return ErrorNone
	case ErrCorruptData, codec.ErrSizeMismatch:
		return ErrorCorruptData
	case codec.ErrUnsupported:
		return ErrorCodecUnsupported
	default:
		return ErrorIO
	}
}

// Block is a single block read from a trace file.
type Block struct {
	// Index is the zero-based position of the block in the file.
	Index int64
	// Kind is the block's kind.
	Kind BlockKind
	// Compressed is true if the block was stored compressed.
	Compressed bool

	// Payload is the decoded payload of the block. It is owned by the Reader,
	// and is only valid until the next ReadBlock or Reset call.
	Payload []byte
}

// FrameMarker returns the number of the frame that a frame marker block ends.
func (b *Block) FrameMarker() (uint64, error) {
	if b.Kind != BlockFrameMarker {
		return 0, errors.Errorf("block %d is a %s block, not a frame marker", b.Index, b.Kind)
	}
	if len(b.Payload) != 8 {
		return 0, errors.Wrapf(ErrCorruptData, "frame marker payload is %d bytes", len(b.Payload))
	}
	return binary.LittleEndian.Uint64(b.Payload), nil
}

// ReaderConfig configures a Reader.
type ReaderConfig struct {
	// BufferPool, if not nil, supplies the buffers that stored payloads are read
	// into. If nil, a shared default pool is used.
	BufferPool *bufferpool.Pool

	// Logger, if not nil, is used to log reader events.
	Logger logging.L
}

// Reader reads blocks sequentially from a trace file.
//
// Reader must be instantiated using MakeReader. A Reader is not safe for
// concurrent use.
//
// Once a Reader encounters an error other than io.EOF, it stops producing
// blocks: every subsequent ReadBlock call returns the same error until Reset is
// called.
type Reader struct {
	cfg    ReaderConfig
	logger logging.L

	// path is the path of the trace file.
	path string

	fd *os.File
	br *bufio.Reader

	header FileHeader

	// hdrBuf is scratch space for reading block headers.
	hdrBuf [BlockHeaderSize]byte

	// stored is the buffer holding the current block's stored payload.
	stored *bufferpool.Buffer
	// decoded is reused as the destination of codec output.
	decoded []byte

	block       Block
	nextIndex   int64
	frameNumber uint64

	state ErrorState
	err   error
}

// MakeReader opens the trace file at path and validates its header.
func MakeReader(path string, cfg ReaderConfig) (*Reader, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening trace file")
	}
	defer func() {
		if fd != nil {
			_ = fd.Close()
		}
	}()

	r := Reader{
		cfg:    cfg,
		logger: logging.Must(cfg.Logger),
		path:   path,
		fd:     fd,
		br:     bufio.NewReaderSize(fd, readerBufferSize),
	}

	var buf [FileHeaderSize]byte
	switch err := readHeader(r.br, buf[:], &r.header); err {
	case nil:
	case io.EOF:
		return nil, errors.Wrap(ErrCorruptData, "missing file header")
	default:
		return nil, errors.Wrap(err, "reading file header")
	}
	if err := r.header.validate(); err != nil {
		return nil, err
	}

	r.logger.Debugf("Opened trace file %q (version %d.%d, compression %s).",
		path, r.header.MajorVersion, r.header.MinorVersion, r.header.Codec())
	r.frameNumber = 1

	fd = nil // Owned by r.
	return &r, nil
}

// Path returns the path of the trace file.
func (r *Reader) Path() string { return r.path }

// Header returns the file's header.
func (r *Reader) Header() FileHeader { return r.header }

// FrameNumber returns the number of the frame currently being read. Frames are
// numbered from 1, and each frame marker advances the frame number.
func (r *Reader) FrameNumber() uint64 { return r.frameNumber }

// ErrorState returns the classification of the Reader's error, if any.
func (r *Reader) ErrorState() ErrorState { return r.state }

// Err returns the error that stopped the Reader, or nil.
func (r *Reader) Err() error { return r.err }

// Reset positions the Reader at the first block of the file and clears its
// frame and error state.
//
// Reset keeps the underlying file open.
func (r *Reader) Reset() error {
	r.releaseStored()

	if _, err := r.fd.Seek(FileHeaderSize, io.SeekStart); err != nil {
		return r.fail(errors.Wrap(err, "seeking to first block"))
	}
	r.br.Reset(r.fd)

	r.block = Block{}
	r.nextIndex = 0
	r.frameNumber = 1
	r.state, r.err = ErrorNone, nil
	return nil
}

// Close closes the Reader, freeing its underlying file.
func (r *Reader) Close() error {
	r.releaseStored()
	if r.fd == nil {
		return nil
	}
	if err := r.fd.Close(); err != nil {
		return err
	}
	r.fd = nil
	return nil
}

// ReadBlock returns the next block in the file.
//
// At the clean end of the file, ReadBlock returns io.EOF. The returned Block
// is owned by the Reader and is only valid until the next ReadBlock or Reset.
func (r *Reader) ReadBlock() (*Block, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.fd == nil {
		return nil, errors.New("reader is closed")
	}
	r.releaseStored()

	index := r.nextIndex
	var bh BlockHeader
	switch err := readHeader(r.br, r.hdrBuf[:], &bh); err {
	case nil:
	case io.EOF:
		return nil, io.EOF
	default:
		return nil, r.fail(errors.Wrapf(err, "reading block %d header", index))
	}
	if err := bh.validate(); err != nil {
		return nil, r.fail(errors.Wrapf(err, "block %d", index))
	}

	// Read the stored payload.
	r.stored = r.pool().Get(int(bh.CompressedSize))
	switch _, err := dataio.ReadFull(r.br, r.stored.Bytes()); err {
	case nil:
	case io.EOF, io.ErrUnexpectedEOF:
		return nil, r.fail(errors.Wrapf(ErrCorruptData, "block %d: truncated payload (want %d bytes)",
			index, bh.CompressedSize))
	default:
		return nil, r.fail(errors.Wrapf(err, "reading block %d payload", index))
	}
	blocksStoredBytes.Add(float64(BlockHeaderSize + bh.CompressedSize))

	payload := r.stored.Bytes()
	if bh.Compressed() {
		var err error
		if payload, err = codec.Decode(r.header.Codec(), r.decoded, payload, int(bh.UncompressedSize)); err != nil {
			if errors.Cause(err) != codec.ErrUnsupported {
				err = errors.Wrapf(ErrCorruptData, "%s", err)
			}
			return nil, r.fail(errors.Wrapf(err, "block %d", index))
		}
		r.decoded = payload
	}

	r.block = Block{
		Index:      index,
		Kind:       BlockKind(bh.Kind),
		Compressed: bh.Compressed(),
		Payload:    payload,
	}
	r.nextIndex++

	if r.block.Kind == BlockFrameMarker {
		if _, err := r.block.FrameMarker(); err != nil {
			return nil, r.fail(errors.Wrapf(err, "block %d", index))
		}
		r.frameNumber++
	}

	blocksRead.WithLabelValues(r.block.Kind.String()).Inc()
	return &r.block, nil
}

func (r *Reader) pool() *bufferpool.Pool {
	if r.cfg.BufferPool != nil {
		return r.cfg.BufferPool
	}
	return &defaultBufferPool
}

func (r *Reader) releaseStored() {
	if r.stored != nil {
		r.stored.Release()
		r.stored = nil
	}
}

// fail records err as the Reader's sticky error and returns it.
func (r *Reader) fail(err error) error {
	r.releaseStored()
	r.block = Block{}
	r.state, r.err = ClassifyError(err), err

	readerErrors.WithLabelValues(r.state.String()).Inc()
	r.logger.Warnf("Trace reader stopped at frame %d (%s): %s", r.frameNumber, r.state, err)
	return err
}
