package session

import (
	"context"
	"fmt"
	"image"
	"runtime/debug"
	"time"

	"github.com/banshee-data/poolflow/internal/capture"
	"github.com/banshee-data/poolflow/internal/timeutil"
)

type loop struct {
	cfg     Config
	source  capture.Source
	clock   timeutil.Clock
	emitter Emitter
	records *recordQueue
	handle  *Handle
}

// run is the tracking loop: read, process, publish, emit, pause. Errors are
// logged and backed off; only cancellation ends the loop.
func (l *loop) run(ctx context.Context) {
	h := l.handle
	defer close(h.done)
	defer l.finish()

	gen := h.pipeline.gen
	lastSnapshot := 0

	for {
		if ctx.Err() != nil {
			return
		}

		frame, err := l.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			tracef("session %s: read failed: %v", h.id, err)
			if !l.sleep(ctx, l.cfg.ReadRetry) {
				return
			}
			continue
		}

		start := l.clock.Now()
		out, err := l.process(frame)
		if err != nil {
			opsf("session %s: process frame: %v", h.id, err)
			if !l.sleep(ctx, l.cfg.ErrorBackoff) {
				return
			}
			continue
		}
		h.mailbox.Publish(out)
		tracef("session %s: frame %d processed in %v", h.id, out.FrameIndex, l.clock.Since(start))

		if l.records != nil && len(out.Poses) > 0 {
			l.records.poses(out)
		}

		if l.emitter != nil && l.emitter.Streaming() && gen.ShouldEmit(l.cfg.EmitInterval) {
			if jpeg, err := gen.JPEG(); err == nil {
				l.emitter.EmitFlowMap(jpeg)
				diagf("session %s: flow map emitted at frame %d", h.id, out.FrameIndex)
			}
		}

		if l.records != nil && out.FrameIndex-lastSnapshot >= l.cfg.EmitInterval {
			lastSnapshot = out.FrameIndex
			if jpeg, err := gen.JPEG(); err == nil {
				l.records.snapshot(out.FrameIndex, out.MaxVelocity, jpeg)
			}
		}

		if !l.sleep(ctx, l.cfg.FrameInterval) {
			return
		}
	}
}

// process runs one frame through the pipeline. A panic inside a stage is
// turned into an error so the loop backs off instead of dying.
func (l *loop) process(frame image.Image) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			tracef("session %s: panic stack:\n%s", l.handle.id, debug.Stack())
			err = fmt.Errorf("panic in frame pipeline: %v", r)
		}
	}()
	return l.handle.pipeline.Process(frame)
}

// sleep pauses for d on the loop's clock. It returns false if ctx was
// cancelled first.
func (l *loop) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-l.clock.After(d):
		return true
	}
}

func (l *loop) finish() {
	h := l.handle
	if l.records != nil {
		l.records.close(l.clock.Now())
	}
	diagf("session %s: loop exited after %d frames", h.id, h.pipeline.gen.Frame())
}
