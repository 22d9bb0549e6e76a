// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tracereplay

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xooiamd/gfxreconstruct/application"
	"github.com/xooiamd/gfxreconstruct/device"
	"github.com/xooiamd/gfxreconstruct/memory"
	"github.com/xooiamd/gfxreconstruct/replay"
	"github.com/xooiamd/gfxreconstruct/support/bufferpool"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/spf13/cobra"
)

type replayCommander struct {
	gf *globalFlags

	multiPass     bool
	allocator     device.AllocatorFlag
	deviceProfile string
	backend       application.BackendFlag
	fps           float64
	pauseFrame    uint64
}

func newReplayCommand(gf *globalFlags) *cobra.Command {
	rc := replayCommander{gf: gf}

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Replay a trace file against a simulated device",
		Args:  exactlyOneFile,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.run(cmd, args[0])
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&rc.multiPass, "emrp", false,
		"Enable multi-pass memory portability: scan the trace first and replay with a computed remap table.")
	flags.VarP(&rc.allocator, "memory-translation", "m",
		fmt.Sprintf("Memory translation strategy. Options are: %s", device.AllocatorFlagValues()))
	flags.StringVar(&rc.deviceProfile, "device-profile", "",
		"Path to a YAML device profile describing the replay device's memory constraints.")
	flags.Var(&rc.backend, "backend",
		fmt.Sprintf("Windowing backend. Options are: %s", application.BackendFlagValues()))
	flags.Float64Var(&rc.fps, "fps", 0,
		"If >0, replay at most this many frames per second.")
	flags.Uint64Var(&rc.pauseFrame, "pause-frame", 0,
		"If >0, pause before this frame until a newline is read from standard input.")

	return cmd
}

func (rc *replayCommander) run(cmd *cobra.Command, path string) error {
	runID := xid.New()
	logger := rc.gf.entry("replay").WithField("run", runID.String())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var limits device.Limits
	var constraints memory.DeviceConstraints
	if rc.deviceProfile != "" {
		profile, err := memory.LoadProfile(rc.deviceProfile)
		if err != nil {
			return rc.reportFatal(cmd, err)
		}
		logger.Infof("Using device profile %q.", profile.Name)
		limits = device.Limits{
			Alignment:             profile.MinAlignment,
			AllocationGranularity: profile.AllocationGranularity,
			MaxAllocationSize:     profile.MaxAllocationSize,
		}
		constraints = profile
	}

	app, err := application.New(application.Config{
		Backend:    rc.backend.Value(),
		FPS:        rc.fps,
		PauseFrame: rc.pauseFrame,
		Logger:     logger,
	})
	if err != nil {
		return rc.reportFatal(cmd, err)
	}
	if paced, ok := app.(*application.Paced); ok && rc.pauseFrame > 0 {
		go resumeOnNewline(ctx, bufio.NewScanner(cmd.InOrStdin()), paced)
	}

	dev := &device.Simulated{DeviceLimits: limits}
	player, err := device.NewReplayer(device.ReplayerConfig{
		Device:        dev,
		WindowFactory: app.WindowFactory(),
		Allocator:     rc.allocator.Value(),
		Constraints:   constraints,
		Logger:        logger,
	})
	if err != nil {
		return rc.reportFatal(cmd, err)
	}
	defer func() {
		if err := player.Close(); err != nil {
			logger.WithError(err).Warn("Failed to release replay device objects.")
		}
	}()

	o := replay.NewOrchestrator(replay.Options{
		MultiPassPortability: rc.multiPass,
		Allocator:            rc.allocator.Value(),
		DeviceConstraints:    constraints,
		PauseFrame:           rc.pauseFrame,
		BufferPool:           &bufferpool.Pool{MinSize: 4096, MaxRetainSize: 16 * 1024 * 1024},
		RunID:                runID,
		Logger:               logger,
	})
	if err := o.Run(ctx, path, player, app); err != nil {
		return rc.reportFatal(cmd, err)
	}

	summary := o.Summary()
	logger.Debugf("Replayed %d calls over %d frames.", player.NumCalls(), player.NumFrames())
	fmt.Fprintln(cmd.OutOrStdout(), summary.String())
	return nil
}

func (rc *replayCommander) reportFatal(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Replay has encountered a fatal error and cannot continue: %s\n", err)
	if kind, ok := replay.KindOf(err); ok {
		return errors.Wrapf(err, "replay failed (%s)", kind)
	}
	return errors.Wrap(err, "replay failed")
}

func resumeOnNewline(ctx context.Context, sc *bufio.Scanner, paced *application.Paced) {
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		paced.Resume()
	}
}
