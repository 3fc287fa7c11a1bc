// Package session owns the calibration workflow and the live tracking loop:
// it turns operator input into calibration steps, runs at most one tracking
// session at a time and hands each processed frame to readers through a
// single-slot mailbox.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/poolflow/internal/calibration"
	"github.com/banshee-data/poolflow/internal/capture"
	"github.com/banshee-data/poolflow/internal/fiducial"
	"github.com/banshee-data/poolflow/internal/flowmap"
	"github.com/banshee-data/poolflow/internal/geometry"
	"github.com/banshee-data/poolflow/internal/timeutil"
	"github.com/banshee-data/poolflow/internal/tracking"
)

var (
	// ErrNotCalibrated is returned by StartTracking before Recalibrate has
	// succeeded.
	ErrNotCalibrated = errors.New("session: pool not calibrated")
	// ErrCalibrationRejected is returned when the calibrator refuses the
	// submitted points or jets.
	ErrCalibrationRejected = errors.New("session: calibration input rejected")
)

// Emitter receives encoded flow maps for streaming to a client.
type Emitter interface {
	// Streaming reports whether a client currently wants flow maps.
	Streaming() bool
	// EmitFlowMap hands over one JPEG. It must not block the caller.
	EmitFlowMap(jpeg []byte)
}

// SessionInfo describes a tracking session for the Recorder.
type SessionInfo struct {
	ID        string
	Shape     calibration.Shape
	Canvas    image.Point
	StartedAt time.Time
}

// Recorder persists tracking output. Pose and snapshot writes run on a
// per-session writer goroutine behind a bounded queue, so a slow Recorder
// drops writes rather than stalling the tracking loop.
type Recorder interface {
	StartSession(ctx context.Context, info SessionInfo) error
	RecordPoses(ctx context.Context, sessionID string, frameIndex int, poses []tracking.Pose) error
	RecordSnapshot(ctx context.Context, sessionID string, frameIndex int, maxVelocity float64, jpeg []byte) error
	StopSession(ctx context.Context, sessionID string, stoppedAt time.Time) error
}

// Options carries the orchestrator's collaborators. Source and Detector are
// required; the rest may be nil.
type Options struct {
	Source   capture.Source
	Detector fiducial.Detector
	Clock    timeutil.Clock
	Emitter  Emitter
	Recorder Recorder
}

// Orchestrator drives calibration and owns the live tracking session.
type Orchestrator struct {
	cfg   Config
	calib *calibration.Calibrator

	source   capture.Source
	detector fiducial.Detector
	clock    timeutil.Clock

	mu       sync.Mutex
	emitter  Emitter
	recorder Recorder
	jets     []flowmap.JetVector
	edited   image.Image
	current  *Handle
}

// NewOrchestrator returns an orchestrator over calib.
func NewOrchestrator(cfg Config, calib *calibration.Calibrator, opts Options) *Orchestrator {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Orchestrator{
		cfg:      cfg,
		calib:    calib,
		source:   opts.Source,
		detector: opts.Detector,
		clock:    clock,
		emitter:  opts.Emitter,
		recorder: opts.Recorder,
	}
}

// SetEmitter installs the flow-map emitter. It takes effect for sessions
// started afterwards.
func (o *Orchestrator) SetEmitter(e Emitter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emitter = e
}

// SetRecorder installs the tracking recorder for sessions started afterwards.
func (o *Orchestrator) SetRecorder(r Recorder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recorder = r
}

// Calibrator returns the calibrator the orchestrator drives.
func (o *Orchestrator) Calibrator() *calibration.Calibrator { return o.calib }

// SetShape switches the pool shape. A change stops the live session and
// discards calibration and jets.
func (o *Orchestrator) SetShape(shape calibration.Shape) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calib.Shape() == shape {
		return nil
	}
	o.stopLocked()
	if err := o.calib.SetShape(shape); err != nil {
		return err
	}
	o.jets = nil
	diagf("pool shape set to %v", shape)
	return nil
}

// CaptureFrame reads the current raw camera frame.
func (o *Orchestrator) CaptureFrame(ctx context.Context) (image.Image, error) {
	return o.source.Read(ctx)
}

// TransformedFrame reads a raw frame and warps it through the established
// transform.
func (o *Orchestrator) TransformedFrame(ctx context.Context) (image.Image, error) {
	h, size, ok := o.calib.Transform()
	if !ok {
		return nil, ErrNoTransform
	}
	frame, err := o.source.Read(ctx)
	if err != nil {
		return nil, err
	}
	return h.Warp(frame, size.X, size.Y)
}

// SubmitPoints stops the live session and derives the perspective transform
// from reference points clicked on a fresh raw frame. On success it returns
// that frame warped through the new transform.
func (o *Orchestrator) SubmitPoints(ctx context.Context, points []geometry.Point) (image.Image, error) {
	o.mu.Lock()
	o.stopLocked()
	o.mu.Unlock()

	frame, err := o.source.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture frame for transform: %w", err)
	}
	if !o.calib.EstablishTransform(frame.Bounds().Size(), points) {
		return nil, ErrCalibrationRejected
	}
	diagf("perspective transform established from %d points", len(points))

	h, size, _ := o.calib.Transform()
	return h.Warp(frame, size.X, size.Y)
}

// SubmitJets stops the live session, recalibrates the pool extent from the jet start points, stores
// the jets and starts a tracking session. ctx bounds the session's lifetime.
func (o *Orchestrator) SubmitJets(ctx context.Context, jets []flowmap.JetVector) (*Handle, error) {
	o.mu.Lock()
	o.stopLocked()
	o.mu.Unlock()

	if !o.calib.Recalibrate(flowmap.JetOrigins(jets)) {
		return nil, ErrCalibrationRejected
	}
	o.mu.Lock()
	o.jets = append([]flowmap.JetVector(nil), jets...)
	o.mu.Unlock()
	diagf("pool recalibrated from %d jets", len(jets))
	return o.StartTracking(ctx)
}

// Jets returns the stored jet vectors.
func (o *Orchestrator) Jets() []flowmap.JetVector {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]flowmap.JetVector(nil), o.jets...)
}

// SetEditedFrame keeps the latest operator-edited frame.
func (o *Orchestrator) SetEditedFrame(img image.Image) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.edited = img
	diagf("edited frame stored (%v)", img.Bounds().Size())
}

// EditedFrame returns the latest operator-edited frame, or nil.
func (o *Orchestrator) EditedFrame() image.Image {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.edited
}

// StartTracking stops any live session and starts a new one over a snapshot
// of the current calibration. The session runs until Stop, a later
// StartTracking or cancellation of ctx.
func (o *Orchestrator) StartTracking(ctx context.Context) (*Handle, error) {
	if o.calib.State() != calibration.StateCalibrated {
		return nil, ErrNotCalibrated
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()

	geom := o.calib.Snapshot()
	p, err := NewPipeline(o.cfg, geom, o.detector, o.jets, o.clock)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		id:       uuid.NewString(),
		started:  o.clock.Now(),
		cancel:   cancel,
		done:     make(chan struct{}),
		mailbox:  NewMailbox(),
		pipeline: p,
	}
	l := &loop{
		cfg:     o.cfg,
		source:  o.source,
		clock:   o.clock,
		emitter: o.emitter,
		handle:  h,
	}
	o.current = h

	if o.recorder != nil {
		info := SessionInfo{ID: h.id, Shape: geom.Shape(), Canvas: geom.CanvasSize(), StartedAt: h.started}
		if err := o.recorder.StartSession(sctx, info); err != nil {
			opsf("record session start %s: %v", h.id, err)
		}
		l.records = newRecordQueue(sctx, h.id, o.recorder, o.cfg.RecordQueue)
		h.records = l.records
	}

	go l.run(sctx)
	diagf("tracking session %s started (%v, canvas %v, %d jets)", h.id, geom.Shape(), geom.CanvasSize(), len(o.jets))
	return h, nil
}

// StopTracking stops the live session, if any.
func (o *Orchestrator) StopTracking() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
}

// Current returns the live session, or nil.
func (o *Orchestrator) Current() *Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// LatestOutput returns the live session's most recent frame result.
func (o *Orchestrator) LatestOutput() (Output, bool) {
	h := o.Current()
	if h == nil {
		return Output{}, false
	}
	return h.mailbox.Latest()
}

// VelocityHistory returns the live session's rolling speed window, or nil
// when no session is running.
func (o *Orchestrator) VelocityHistory() []float64 {
	h := o.Current()
	if h == nil {
		return nil
	}
	return h.pipeline.gen.VelocityHistory()
}

// stopLocked cancels the live session and waits up to StopWait for its loop
// to exit. o.mu must be held.
func (o *Orchestrator) stopLocked() {
	h := o.current
	if h == nil {
		return
	}
	o.current = nil
	h.Stop()
	select {
	case <-h.Done():
		diagf("tracking session %s stopped", h.id)
	case <-o.clock.After(o.cfg.StopWait):
		opsf("tracking session %s did not stop within %v", h.id, o.cfg.StopWait)
	}
}

// Status is a point-in-time summary for status pages.
type Status struct {
	Shape       calibration.Shape
	State       calibration.State
	SessionID   string
	StartedAt   time.Time
	FrameIndex  int
	Tracks      int
	MaxVelocity float64
	Jets        int
}

// Status reports the calibration state and the live session's progress.
func (o *Orchestrator) Status() Status {
	st := Status{Shape: o.calib.Shape(), State: o.calib.State()}
	o.mu.Lock()
	h := o.current
	st.Jets = len(o.jets)
	o.mu.Unlock()
	if h == nil {
		return st
	}
	st.SessionID = h.id
	st.StartedAt = h.started
	st.FrameIndex = h.pipeline.gen.Frame()
	st.Tracks = h.pipeline.tracker.Len()
	st.MaxVelocity = h.pipeline.gen.MaxVelocity()
	return st
}

// Handle is a running tracking session.
type Handle struct {
	id       string
	started  time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	mailbox  *Mailbox
	pipeline *Pipeline
	records  *recordQueue
}

// ID returns the session's unique ID.
func (h *Handle) ID() string { return h.id }

// StartedAt returns when the session was started.
func (h *Handle) StartedAt() time.Time { return h.started }

// Stop requests cancellation. It does not wait; use Done for that.
func (h *Handle) Stop() { h.cancel() }

// Done is closed once the session's loop has exited and its queued record
// writes have been flushed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Mailbox returns the session's output mailbox.
func (h *Handle) Mailbox() *Mailbox { return h.mailbox }

// RecordsDropped returns how many record writes were discarded because the
// recorder fell behind.
func (h *Handle) RecordsDropped() uint64 {
	if h.records == nil {
		return 0
	}
	return h.records.dropped.Load()
}

// Pipeline returns the session's frame pipeline. Its generator and tracker
// accessors are safe to call while the loop runs.
func (h *Handle) Pipeline() *Pipeline { return h.pipeline }
