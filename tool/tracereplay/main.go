// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package tracereplay defines the logic for the "tracereplay" tool.
//
// The tool replays trace files against a simulated device, and can inspect,
// re-encode and generate them.
package tracereplay

import (
	"fmt"
	"io"
	"os"

	"github.com/xooiamd/gfxreconstruct/application"
	"github.com/xooiamd/gfxreconstruct/capture"
	"github.com/xooiamd/gfxreconstruct/decode"
	"github.com/xooiamd/gfxreconstruct/device"
	"github.com/xooiamd/gfxreconstruct/memory"
	"github.com/xooiamd/gfxreconstruct/replay"
	"github.com/xooiamd/gfxreconstruct/tracefile"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// Main is the main entry point.
func Main() {
	root := newRootCommand(os.Stdout, os.Stderr)
	code := 0
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tracereplay: %s\n", err)
		code = 1
	}
	atexit.Exit(code)
}

// globalFlags are the flags shared by every command.
type globalFlags struct {
	logLevel    string
	metricsFile string

	logger   *logrus.Logger
	registry *prometheus.Registry
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	gf := globalFlags{}

	root := &cobra.Command{
		Use:           "tracereplay",
		Short:         "Replay, inspect and convert graphics API trace files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return gf.setup(stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&gf.logLevel, "log-level", "info",
		"Log level (panic, fatal, error, warn, info, debug, trace).")
	root.PersistentFlags().StringVar(&gf.metricsFile, "metrics-file", "",
		"If set, write Prometheus metrics to this file on exit.")

	root.AddCommand(
		newReplayCommand(&gf),
		newInfoCommand(&gf),
		newConvertCommand(&gf),
		newGenerateCommand(&gf),
	)
	return root
}

func (gf *globalFlags) setup(stderr io.Writer) error {
	level, err := logrus.ParseLevel(gf.logLevel)
	if err != nil {
		return errors.Wrap(err, "invalid --log-level")
	}
	gf.logger = logrus.New()
	gf.logger.SetOutput(stderr)
	gf.logger.SetLevel(level)

	gf.registry = prometheus.NewRegistry()
	for _, register := range []func(prometheus.Registerer){
		application.RegisterMonitoring,
		capture.RegisterMonitoring,
		decode.RegisterMonitoring,
		device.RegisterMonitoring,
		memory.RegisterMonitoring,
		replay.RegisterMonitoring,
		tracefile.RegisterMonitoring,
	} {
		register(gf.registry)
	}

	if gf.metricsFile != "" {
		path := gf.metricsFile
		atexit.Register(func() {
			if err := gf.writeMetrics(path); err != nil {
				gf.logger.Errorf("Failed to write metrics to %q: %s", path, err)
			}
		})
	}
	return nil
}

// writeMetrics writes the text exposition of the registry's metrics to path.
func (gf *globalFlags) writeMetrics(path string) (err error) {
	mfs, err := gf.registry.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering metrics")
	}

	fd, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := fd.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return writeMetricFamilies(fd, mfs)
}

func writeMetricFamilies(w io.Writer, mfs []*dto.MetricFamily) error {
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return errors.Wrapf(err, "writing metric %q", mf.GetName())
		}
	}
	return nil
}

// entry returns a log entry for a command run.
func (gf *globalFlags) entry(cmd string) *logrus.Entry {
	return logrus.NewEntry(gf.logger).WithField("cmd", cmd)
}

func exactlyOneFile(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%s requires exactly one trace file, got %d arguments", cmd.Name(), len(args))
	}
	return nil
}
