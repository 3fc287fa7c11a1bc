package calibration

import (
	"fmt"
	"image"
	"sync"

	"github.com/banshee-data/poolflow/internal/geometry"
)

// State is the calibration lifecycle stage.
type State int

const (
	StateUninitialized State = iota
	StateTransformEstablished
	StateCalibrated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateTransformEstablished:
		return "transform_established"
	case StateCalibrated:
		return "calibrated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Calibrator owns the active pool geometry and walks it through
// Uninitialized → TransformEstablished → Calibrated. It is safe for
// concurrent use; tracking sessions work on a Snapshot.
type Calibrator struct {
	mu     sync.RWMutex
	params Params
	geom   PoolGeometry
}

// NewCalibrator returns an uninitialised calibrator for shape.
func NewCalibrator(shape Shape, p Params) (*Calibrator, error) {
	g, err := New(shape, p)
	if err != nil {
		return nil, err
	}
	return &Calibrator{params: p, geom: g}, nil
}

// Shape returns the active pool shape.
func (c *Calibrator) Shape() Shape {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.geom.Shape()
}

// Params returns the calibration constants.
func (c *Calibrator) Params() Params {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params
}

// SetShape switches the pool geometry. Any change discards the transform
// and fitted extent.
func (c *Calibrator) SetShape(shape Shape) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.geom.Shape() == shape {
		return nil
	}
	g, err := New(shape, c.params)
	if err != nil {
		return err
	}
	opsf("shape changed %v -> %v, calibration reset", c.geom.Shape(), shape)
	c.geom = g
	return nil
}

// Reset starts a new calibration cycle for the current shape.
func (c *Calibrator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, _ := New(c.geom.Shape(), c.params)
	c.geom = g
	diagf("calibration reset (%v)", g.Shape())
}

// EstablishTransform starts a new calibration cycle from the reference
// points clicked on a frame of the given size. On failure the previous
// calibration is kept.
func (c *Calibrator) EstablishTransform(frame image.Point, points []geometry.Point) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	tracef("establish transform frame=%v points=%v", frame, points)
	g, err := New(c.geom.Shape(), c.params)
	if err != nil {
		return false
	}
	if !g.EstablishTransform(frame, points) {
		return false
	}
	c.geom = g
	return true
}

// Recalibrate fits the pool extent to the jet start points. It requires an
// established transform.
func (c *Calibrator) Recalibrate(starts []geometry.Point) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.geom.Transform(); !ok {
		opsf("recalibrate rejected: no transform established")
		return false
	}
	tracef("recalibrate starts=%v", starts)
	return c.geom.Recalibrate(starts)
}

// State reports the lifecycle stage.
func (c *Calibrator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.geom.Calibrated() {
		return StateCalibrated
	}
	if _, ok := c.geom.Transform(); ok {
		return StateTransformEstablished
	}
	return StateUninitialized
}

// Transform returns the raw→warped homography and the warped image size.
func (c *Calibrator) Transform() (geometry.Homography, image.Point, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.geom.Transform()
	return h, c.geom.WarpedSize(), ok
}

// Snapshot returns an independent copy of the active geometry.
func (c *Calibrator) Snapshot() PoolGeometry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.geom.Clone()
}
