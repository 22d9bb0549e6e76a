// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tracefile

import (
	"bufio"
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/xooiamd/gfxreconstruct/support/stagingdir"
	"github.com/xooiamd/gfxreconstruct/tracefile/codec"

	"github.com/golang/protobuf/ptypes"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/pkg/errors"
)

const (
	// stagedFileName is the name of the trace file inside of the staging
	// directory.
	stagedFileName = "trace.gtrf"

	// DefaultWriterName is recorded as the MetadataWriter value when
	// WriterConfig.WriterName is empty.
	DefaultWriterName = "gfxreconstruct"
)

// WriterConfig is a configuration for the generation of trace files.
type WriterConfig struct {
	// Compression is the codec to use for block payloads.
	Compression codec.Compression
	// CompressionLevel is the compression level to apply to Compression, if
	// applicable. A negative value selects the codec's default.
	CompressionLevel int

	// MinCompressSize is the smallest payload that will be compressed. Smaller
	// payloads are stored as-is.
	MinCompressSize int

	// TempDir is the temporary directory to use. If empty, the system temporary
	// directory is used.
	TempDir string

	// WriterName, if not empty, is recorded in the trace's metadata as the
	// program that wrote it.
	WriterName string

	// NowFunc, if not nil, is the function to use to get the current time. If
	// nil, time.Now will be used.
	NowFunc func() time.Time
}

func (cfg *WriterConfig) now() time.Time {
	if cfg.NowFunc != nil {
		return cfg.NowFunc()
	}
	return time.Now()
}

// Writer writes a trace file.
//
// The file is built in a staging directory and moved to its destination path
// when the Writer is closed. A Writer that is never closed, or whose Close
// fails, leaves nothing at the destination.
type Writer struct {
	*WriterConfig

	// destPath is the final destination path.
	destPath string

	stagingDir *stagingdir.D
	fd         *os.File
	bw         *bufio.Writer

	numBlocks int64
	numCalls  int64
	numBytes  int64
	// frameNumber is the number of the frame currently being written.
	frameNumber uint64
}

// MakeWriter creates a Writer that will write a trace file named name to path.
func (cfg *WriterConfig) MakeWriter(path, name string) (*Writer, error) {
	if !codec.Supported(cfg.Compression) {
		return nil, errors.Wrapf(codec.ErrUnsupported, "cannot write %s trace", cfg.Compression)
	}

	created, err := ptypes.TimestampProto(cfg.now())
	if err != nil {
		return nil, errors.Wrap(err, "creating timestamp proto")
	}

	// Create a temporary directory to stage our file in.
	stagingDir, err := stagingdir.New(cfg.TempDir, filepath.Base(path))
	if err != nil {
		return nil, errors.Wrap(err, "creating temporary directory")
	}
	defer func() {
		// Cleanup if we failed to complete our creation.
		if stagingDir != nil {
			_ = stagingDir.Destroy()
		}
	}()

	fd, err := os.Create(stagingDir.Path(stagedFileName))
	if err != nil {
		return nil, errors.Wrap(err, "creating trace file")
	}
	defer func() {
		if fd != nil {
			_ = fd.Close()
		}
	}()

	w := Writer{
		WriterConfig: cfg,
		destPath:     path,
		stagingDir:   stagingDir,
		fd:           fd,
		bw:           bufio.NewWriterSize(fd, readerBufferSize),
		frameNumber:  1,
	}

	fh := FileHeader{
		Magic:        Magic,
		MajorVersion: MajorVersion,
		MinorVersion: MinorVersion,
		Compression:  int32(cfg.Compression),
	}
	amt, err := writeHeader(w.bw, &fh)
	if err != nil {
		return nil, errors.Wrap(err, "writing file header")
	}
	w.numBytes += int64(amt)

	writerName := cfg.WriterName
	if writerName == "" {
		writerName = DefaultWriterName
	}
	if err := w.WriteMetadata(&structpb.Struct{
		Fields: map[string]*structpb.Value{
			MetadataName:    StringValue(name),
			MetadataCreated: StringValue(ptypes.TimestampString(created)),
			MetadataWriter:  StringValue(writerName),
		},
	}); err != nil {
		return nil, err
	}

	stagingDir, fd = nil, nil // Owned by w.
	writersOpen.Inc()
	return &w, nil
}

// Path returns the destination path of the trace file.
func (w *Writer) Path() string { return w.destPath }

// NumBlocks is the number of blocks that have been written so far.
func (w *Writer) NumBlocks() int64 { return w.numBlocks }

// NumCalls is the number of API call blocks that have been written so far.
func (w *Writer) NumCalls() int64 { return w.numCalls }

// NumBytes is the number of file bytes that have been written so far.
func (w *Writer) NumBytes() int64 { return w.numBytes }

// FrameNumber is the number of the frame currently being written. Frames are
// numbered from 1.
func (w *Writer) FrameNumber() uint64 { return w.frameNumber }

// WriteCall writes an encoded API call block.
func (w *Writer) WriteCall(payload []byte) error {
	if err := w.writeBlock(BlockAPICall, payload); err != nil {
		return err
	}
	w.numCalls++
	return nil
}

// WriteFrameMarker ends the current frame.
func (w *Writer) WriteFrameMarker() error {
	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], w.frameNumber)
	if err := w.writeBlock(BlockFrameMarker, payload[:]); err != nil {
		return err
	}
	w.frameNumber++
	return nil
}

// WriteMetadata writes a metadata block holding entries.
func (w *Writer) WriteMetadata(entries ...*structpb.Struct) error {
	payload, err := EncodeMetadata(entries...)
	if err != nil {
		return err
	}
	return w.writeBlock(BlockMetadata, payload)
}

func (w *Writer) writeBlock(kind BlockKind, payload []byte) error {
	if w.bw == nil {
		return errors.New("writer is closed")
	}

	bh := BlockHeader{
		Kind:             uint16(kind),
		CompressedSize:   uint64(len(payload)),
		UncompressedSize: uint64(len(payload)),
	}
	if len(payload) > MaxBlockSize {
		return errors.Errorf("%s payload of %d bytes exceeds maximum block size", kind, len(payload))
	}

	stored := payload
	if w.Compression != codec.NONE && len(payload) >= w.MinCompressSize && len(payload) > 0 {
		switch enc, err := codec.Encode(w.Compression, payload, w.CompressionLevel); {
		case err == codec.ErrIncompressible:
		case err != nil:
			return errors.Wrapf(err, "compressing %s block", kind)
		case len(enc) < len(payload):
			// Only keep the encoding if it actually saves space.
			stored = enc
			bh.Flags |= FlagCompressed
			bh.CompressedSize = uint64(len(enc))
		}
	}

	amt, err := writeHeader(w.bw, &bh)
	w.numBytes += int64(amt)
	if err != nil {
		return errors.Wrapf(err, "writing %s block header", kind)
	}
	amt, err = w.bw.Write(stored)
	w.numBytes += int64(amt)
	if err != nil {
		return errors.Wrapf(err, "writing %s block payload", kind)
	}

	w.numBlocks++
	blocksWritten.WithLabelValues(kind.String()).Inc()
	return nil
}

// Close finalizes the trace file and moves it to its destination.
//
// A trailing metadata block recording the frame and call counts is written
// before the file is committed.
func (w *Writer) Close() error {
	if w.bw == nil {
		return nil
	}
	writersOpen.Dec()

	// Always delete our staging directory. If the file has been committed, it is
	// no longer in there.
	defer func() {
		_ = w.stagingDir.Destroy()
	}()

	err := w.WriteMetadata(&structpb.Struct{
		Fields: map[string]*structpb.Value{
			MetadataFrames: NumberValue(float64(w.frameNumber - 1)),
			MetadataCalls:  NumberValue(float64(w.numCalls)),
		},
	})
	if err == nil {
		err = w.bw.Flush()
	}
	if closeErr := w.fd.Close(); err == nil {
		err = closeErr
	}
	w.bw, w.fd = nil, nil
	if err != nil {
		return errors.Wrap(err, "finalizing trace file")
	}

	if err := w.stagingDir.CommitFile(stagedFileName, w.destPath); err != nil {
		return errors.Wrap(err, "committing trace file")
	}
	return nil
}
