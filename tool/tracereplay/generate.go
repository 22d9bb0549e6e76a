// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tracereplay

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/xooiamd/gfxreconstruct/capture"
	"github.com/xooiamd/gfxreconstruct/tracefile"
	"github.com/xooiamd/gfxreconstruct/tracefile/codec"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type generateCommander struct {
	gf *globalFlags

	name        string
	compression tracefile.CompressionFlag
	workload    capture.Workload
}

func newGenerateCommand(gf *globalFlags) *cobra.Command {
	gc := generateCommander{
		gf:          gf,
		compression: tracefile.CompressionFlag(codec.ZSTD),
	}

	cmd := &cobra.Command{
		Use:   "generate <out>",
		Short: "Record a synthetic workload into a new trace file",
		Args:  exactlyOneFile,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gc.run(cmd.OutOrStdout(), args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&gc.name, "name", "", "Trace name. Defaults to the output file's base name.")
	flags.VarP(&gc.compression, "compression", "c",
		fmt.Sprintf("Output compression. Options are: %s", tracefile.CompressionFlagValues()))
	flags.IntVarP(&gc.workload.Frames, "frames", "f", 10, "Number of frames to record.")
	flags.IntVar(&gc.workload.Buffers, "buffers", 4, "Number of buffers bound into the shared allocation.")
	flags.Uint64Var(&gc.workload.BufferSize, "buffer-size", 64, "Size and captured alignment of each buffer.")
	flags.BoolVar(&gc.workload.AliasLast, "alias", false, "Bind an extra buffer over the last buffer's range.")
	flags.BoolVar(&gc.workload.UnknownCalls, "unknown-calls", false, "Record a call to an unknown function in every frame.")
	return cmd
}

func (gc *generateCommander) run(w io.Writer, out string) error {
	logger := gc.gf.entry("generate")

	name := gc.name
	if name == "" {
		name = filepath.Base(out)
	}

	cfg := tracefile.WriterConfig{Compression: gc.compression.Value(), CompressionLevel: -1}
	tw, err := cfg.MakeWriter(out, name)
	if err != nil {
		return err
	}

	var rec capture.Recorder
	rec.Start(tw)
	if err := gc.workload.Record(&rec); err != nil {
		_ = rec.Stop()
		return errors.Wrap(err, "recording workload")
	}
	st := rec.Status()
	if err := rec.Stop(); err != nil {
		return errors.Wrapf(err, "finalizing %q", out)
	}

	logger.Debugf("Recorded %d blocks.", st.Blocks)
	fmt.Fprintf(w, "Wrote %d calls in %d frames to %s\n", st.Calls, st.Frame-1, out)
	return nil
}
