// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tracereplay

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xooiamd/gfxreconstruct/capture"
	"github.com/xooiamd/gfxreconstruct/support/fmtutil"
	"github.com/xooiamd/gfxreconstruct/tracefile"
	"github.com/xooiamd/gfxreconstruct/tracefile/codec"

	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type convertCommander struct {
	gf *globalFlags

	compression tracefile.CompressionFlag
	level       int
	minSize     int
	tempDir     string
}

func newConvertCommand(gf *globalFlags) *cobra.Command {
	cc := convertCommander{
		gf:          gf,
		compression: tracefile.CompressionFlag(codec.ZSTD),
	}

	cmd := &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Re-encode a trace file with a different compression",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.run(cmd.OutOrStdout(), args[0], args[1])
		},
	}

	flags := cmd.Flags()
	flags.VarP(&cc.compression, "compression", "c",
		fmt.Sprintf("Output compression. Options are: %s", tracefile.CompressionFlagValues()))
	flags.IntVar(&cc.level, "level", -1, "Compression level. If negative, the codec's default is used.")
	flags.IntVar(&cc.minSize, "min-compress-size", 0, "Payloads smaller than this are stored uncompressed.")
	flags.StringVar(&cc.tempDir, "temp-dir", "", "Directory to stage the output file in.")
	return cmd
}

func (cc *convertCommander) run(w io.Writer, in, out string) error {
	logger := cc.gf.entry("convert")

	r, err := tracefile.MakeReader(in, tracefile.ReaderConfig{Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		_ = r.Close()
	}()

	// The output carries the source trace's name, if it has one.
	name, err := traceName(in)
	if err != nil {
		return err
	}

	cfg := tracefile.WriterConfig{
		Compression:      cc.compression.Value(),
		CompressionLevel: cc.level,
		MinCompressSize:  cc.minSize,
		TempDir:          cc.tempDir,
	}
	tw, err := cfg.MakeWriter(out, name)
	if err != nil {
		return err
	}

	var rec capture.Recorder
	rec.Start(tw)
	if err := copyBlocks(r, &rec); err != nil {
		_ = rec.Stop()
		return errors.Wrapf(err, "converting %q", in)
	}

	st := rec.Status()
	if err := rec.Stop(); err != nil {
		return errors.Wrapf(err, "finalizing %q", out)
	}

	fi, err := os.Stat(out)
	if err != nil {
		return err
	}
	logger.Infof("Converted %d calls in %d frames.", st.Calls, st.Frame-1)
	fmt.Fprintf(w, "Wrote %s (%s, %s)\n", out, cfg.Compression, fmtutil.Size(fi.Size()))
	return nil
}

// copyBlocks records every block read from r into rec.
//
// Metadata keys that the writer maintains itself are not copied.
func copyBlocks(r *tracefile.Reader, rec *capture.Recorder) error {
	for {
		b, err := r.ReadBlock()
		switch {
		case err == io.EOF:
			return nil
		case err != nil:
			return errors.Wrapf(err, "reading block (%s)", r.ErrorState())
		}

		switch b.Kind {
		case tracefile.BlockAPICall:
			err = rec.RecordEncodedCall(b.Payload)
		case tracefile.BlockFrameMarker:
			err = rec.EndFrame()
		case tracefile.BlockMetadata:
			var entries []*structpb.Struct
			if entries, err = tracefile.DecodeMetadata(b.Payload); err != nil {
				break
			}
			if entries = withoutWriterKeys(entries); len(entries) > 0 {
				err = rec.RecordMetadata(entries...)
			}
		}
		if err != nil {
			return errors.Wrapf(err, "block %d", b.Index)
		}
	}
}

func withoutWriterKeys(entries []*structpb.Struct) []*structpb.Struct {
	kept := entries[:0]
	for _, e := range entries {
		for _, key := range []string{
			tracefile.MetadataName,
			tracefile.MetadataCreated,
			tracefile.MetadataWriter,
			tracefile.MetadataFrames,
			tracefile.MetadataCalls,
		} {
			delete(e.Fields, key)
		}
		if len(e.Fields) > 0 {
			kept = append(kept, e)
		}
	}
	return kept
}

// traceName returns the name recorded in the trace at path, or the file's base
// name if it has none.
func traceName(path string) (string, error) {
	ti, err := scanTrace(path)
	if err != nil {
		return "", err
	}
	if v, ok := ti.metadata.String(tracefile.MetadataName); ok && v != "" {
		return v, nil
	}
	return filepath.Base(path), nil
}
