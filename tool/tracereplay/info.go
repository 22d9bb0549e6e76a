// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tracereplay

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/xooiamd/gfxreconstruct/decode"
	"github.com/xooiamd/gfxreconstruct/support/fmtutil"
	"github.com/xooiamd/gfxreconstruct/tracefile"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type infoCommander struct {
	gf *globalFlags

	verbose bool
}

func newInfoCommand(gf *globalFlags) *cobra.Command {
	ic := infoCommander{gf: gf}

	cmd := &cobra.Command{
		Use:   "info <file>",
		Short: "Print a summary of a trace file's contents",
		Args:  exactlyOneFile,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ic.run(cmd.OutOrStdout(), args[0])
		},
	}
	cmd.Flags().BoolVarP(&ic.verbose, "verbose", "v", false, "Also list call counts by function.")
	return cmd
}

// traceInfo is the content summary of a trace file.
type traceInfo struct {
	header   tracefile.FileHeader
	size     int64
	metadata tracefile.Metadata

	blocks     map[tracefile.BlockKind]int64
	functions  map[string]int64
	unknown    int64
	compressed int64
	frames     uint64
}

func (ic *infoCommander) run(w io.Writer, path string) error {
	logger := ic.gf.entry("info")

	ti, err := scanTrace(path)
	if err != nil {
		return err
	}
	logger.Debugf("Scanned %q.", path)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "File:\t%s\n", path)
	fmt.Fprintf(tw, "Size:\t%s\n", fmtutil.Size(ti.size))
	fmt.Fprintf(tw, "Version:\t%d.%d\n", ti.header.MajorVersion, ti.header.MinorVersion)
	fmt.Fprintf(tw, "Compression:\t%s\n", ti.header.Codec())
	fmt.Fprintf(tw, "Frames:\t%d\n", ti.frames)
	fmt.Fprintf(tw, "Calls:\t%d\n", ti.blocks[tracefile.BlockAPICall])
	fmt.Fprintf(tw, "Unknown calls:\t%d\n", ti.unknown)
	fmt.Fprintf(tw, "Metadata blocks:\t%d\n", ti.blocks[tracefile.BlockMetadata])
	fmt.Fprintf(tw, "Compressed blocks:\t%d\n", ti.compressed)
	for _, key := range ti.metadata.Keys() {
		v, _ := ti.metadata.String(key)
		fmt.Fprintf(tw, "Metadata %q:\t%s\n", key, v)
	}

	if ic.verbose {
		names := make([]string, 0, len(ti.functions))
		for name := range ti.functions {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(tw, "  %s\t%d\n", name, ti.functions[name])
		}
	}
	return tw.Flush()
}

func scanTrace(path string) (*traceInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	r, err := tracefile.MakeReader(path, tracefile.ReaderConfig{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = r.Close()
	}()

	ti := traceInfo{
		header:    r.Header(),
		size:      st.Size(),
		metadata:  tracefile.Metadata{},
		blocks:    make(map[tracefile.BlockKind]int64),
		functions: make(map[string]int64),
	}

	var dec decode.Decoder
	for {
		b, err := r.ReadBlock()
		switch {
		case err == io.EOF:
			return &ti, nil
		case err != nil:
			return nil, errors.Wrapf(err, "reading block (%s)", r.ErrorState())
		}

		ti.blocks[b.Kind]++
		if b.Compressed {
			ti.compressed++
		}

		switch b.Kind {
		case tracefile.BlockFrameMarker:
			if ti.frames, err = b.FrameMarker(); err != nil {
				return nil, err
			}

		case tracefile.BlockMetadata:
			entries, err := tracefile.DecodeMetadata(b.Payload)
			if err != nil {
				return nil, errors.Wrapf(err, "metadata block %d", b.Index)
			}
			ti.metadata.Merge(entries...)

		case tracefile.BlockAPICall:
			cr, err := dec.Decode(b, r.FrameNumber())
			switch {
			case err == nil:
				ti.functions[cr.Function().Name]++
			case decode.IsUnknownFunction(err):
				ti.unknown++
			default:
				return nil, err
			}
		}
	}
}
