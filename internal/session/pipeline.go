package session

import (
	"errors"
	"fmt"
	"image"
	"strconv"

	"git.sr.ht/~sbinet/gg"

	"github.com/banshee-data/poolflow/internal/calibration"
	"github.com/banshee-data/poolflow/internal/fiducial"
	"github.com/banshee-data/poolflow/internal/flowmap"
	"github.com/banshee-data/poolflow/internal/geometry"
	"github.com/banshee-data/poolflow/internal/timeutil"
	"github.com/banshee-data/poolflow/internal/tracking"
)

// ErrNoTransform is returned when a frame is processed before the
// perspective transform exists.
var ErrNoTransform = errors.New("session: perspective transform not established")

// Pipeline runs one frame through detection, tracking, annotation, jet
// injection and flow-map accumulation. A pipeline belongs to a single
// tracking session and is not safe for concurrent Process calls.
type Pipeline struct {
	geom      calibration.PoolGeometry
	transform geometry.Homography
	warped    image.Point
	detector  fiducial.Detector
	tracker   *tracking.Tracker
	gen       *flowmap.Generator
	jets      *flowmap.Jets
}

// NewPipeline wires a fresh tracker, generator and jet injector to a
// calibrated geometry. geom should be a snapshot the caller no longer
// mutates.
func NewPipeline(cfg Config, geom calibration.PoolGeometry, detector fiducial.Detector, jets []flowmap.JetVector, clock timeutil.Clock) (*Pipeline, error) {
	h, ok := geom.Transform()
	if !ok {
		return nil, ErrNoTransform
	}
	warped := geom.WarpedSize()
	if warped.X <= 0 || warped.Y <= 0 {
		return nil, fmt.Errorf("session: invalid warped size %v", warped)
	}
	canvas := geom.CanvasSize()
	gen := flowmap.NewGenerator(cfg.FlowMap, canvas.X, canvas.Y)
	return &Pipeline{
		geom:      geom,
		transform: h,
		warped:    warped,
		detector:  detector,
		tracker:   tracking.NewTracker(cfg.Tracker, clock, gen),
		gen:       gen,
		jets:      flowmap.NewJets(gen, geom, jets),
	}, nil
}

// Process handles one raw camera frame. Markers are detected on both the raw
// and the warped frame; warped detections take precedence.
func (p *Pipeline) Process(frame image.Image) (Output, error) {
	warped, err := p.transform.Warp(frame, p.warped.X, p.warped.Y)
	if err != nil {
		return Output{}, fmt.Errorf("warp frame: %w", err)
	}

	raw, err := p.detector.Detect(frame)
	if err != nil {
		return Output{}, fmt.Errorf("detect raw: %w", err)
	}
	onWarped, err := p.detector.Detect(warped)
	if err != nil {
		return Output{}, fmt.Errorf("detect warped: %w", err)
	}
	dets := fiducial.Merge(onWarped, raw, p.transform)

	poses := p.tracker.Update(dets, p.geom)
	annotate(warped, dets, poses)

	out := p.jets.Apply(warped)
	p.gen.UpdateFlowMap()

	tracef("frame %d: %d detections (%d warped, %d raw), %d poses",
		p.gen.Frame(), len(dets), len(onWarped), len(raw), len(poses))

	return Output{
		Frame:       out,
		Canvas:      p.gen.Canvas(),
		Accumulated: p.gen.Accumulated(),
		Poses:       poses,
		FrameIndex:  p.gen.Frame(),
		MaxVelocity: p.gen.MaxVelocity(),
	}, nil
}

// Generator exposes the session's flow-map generator.
func (p *Pipeline) Generator() *flowmap.Generator { return p.gen }

// Tracker exposes the session's marker tracker.
func (p *Pipeline) Tracker() *tracking.Tracker { return p.tracker }

// Geometry returns the calibration snapshot the pipeline maps with.
func (p *Pipeline) Geometry() calibration.PoolGeometry { return p.geom }

// Jets returns the active jet vectors.
func (p *Pipeline) Jets() []flowmap.JetVector { return p.jets.Vectors() }

// annotate draws marker outlines with their IDs and a red dot on every live
// track, detected or predicted.
func annotate(img *image.RGBA, dets []fiducial.Detection, poses []tracking.Pose) {
	dc := gg.NewContextForRGBA(img)

	dc.SetLineWidth(1)
	for _, d := range dets {
		c := d.Corners
		dc.SetRGB(0, 1, 0)
		dc.MoveTo(c[0].X, c[0].Y)
		for _, p := range c[1:] {
			dc.LineTo(p.X, p.Y)
		}
		dc.ClosePath()
		dc.Stroke()

		dc.SetRGB(1, 0, 0)
		dc.DrawRectangle(c[0].X-1.5, c[0].Y-1.5, 3, 3)
		dc.Fill()

		dc.SetRGB(0, 0, 1)
		dc.DrawString("id="+strconv.Itoa(d.ID), c[0].X, c[0].Y-4)
	}

	dc.SetRGB(1, 0, 0)
	for _, p := range poses {
		dc.DrawCircle(float64(p.Pixel.X), float64(p.Pixel.Y), 5)
		dc.Fill()
	}
}
