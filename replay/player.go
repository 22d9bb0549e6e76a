// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package replay

import (
	"context"
	"fmt"
	"io"

	"github.com/xooiamd/gfxreconstruct/application"
	"github.com/xooiamd/gfxreconstruct/decode"
	"github.com/xooiamd/gfxreconstruct/tracefile"
)

// player feeds the blocks of a trace to a Decoder, one block per step.
//
// A player is an application.FrameProcessor: each frame it processes ends at
// a frame marker.
type player struct {
	o    *Orchestrator
	pass int
	r    *tracefile.Reader
	dec  *decode.Decoder

	// framesEnded is the number of frame markers processed.
	framesEnded uint64
}

var _ application.FrameProcessor = (*player)(nil)

func (o *Orchestrator) newPlayer(pass int, r *tracefile.Reader, dec *decode.Decoder) *player {
	return &player{o: o, pass: pass, r: r, dec: dec}
}

// step processes the next block. It returns true if the block ended a frame,
// and io.EOF at the clean end of the trace. Other errors have already been
// recorded as the run's failure.
func (p *player) step(ctx context.Context) (bool, error) {
	// Abort is only checked between blocks, so observers never see a partial
	// record.
	if err := p.o.checkAbort(ctx); err != nil {
		return false, p.o.fail(p.pass, p.r.FrameNumber(), err)
	}

	b, err := p.r.ReadBlock()
	switch {
	case err == io.EOF:
		return false, io.EOF
	case err != nil:
		p.o.updatePass(p.r)
		return false, p.o.fail(p.pass, p.r.FrameNumber(), err)
	}

	frame := p.r.FrameNumber()
	if err := p.dec.HandleBlock(b, frame); err != nil {
		return false, p.o.fail(p.pass, frame, err)
	}
	p.o.updatePass(p.r)
	blocksProcessed.WithLabelValues(fmt.Sprint(p.pass)).Inc()

	if b.Kind != tracefile.BlockFrameMarker {
		return false, nil
	}
	p.framesEnded++
	return true, nil
}

// ProcessNextFrame implements application.FrameProcessor.
func (p *player) ProcessNextFrame(ctx context.Context) (bool, error) {
	for {
		ended, err := p.step(ctx)
		switch {
		case err == io.EOF:
			return false, nil
		case err != nil:
			return false, err
		case ended:
			return true, nil
		}
	}
}
