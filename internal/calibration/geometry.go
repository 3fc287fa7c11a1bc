// Package calibration derives the camera-to-pool perspective transform from
// operator-supplied reference points and maps coordinates between raw image,
// warped image, flow-map canvas and world space for circular and rectangular
// pools.
package calibration

import (
	"fmt"
	"image"

	"github.com/banshee-data/poolflow/internal/config"
	"github.com/banshee-data/poolflow/internal/geometry"
)

// Shape selects the pool geometry.
type Shape int

const (
	ShapeCircle Shape = iota
	ShapeRectangle
)

func (s Shape) String() string {
	switch s {
	case ShapeCircle:
		return "circle"
	case ShapeRectangle:
		return "rectangle"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// ParseShape parses "circle" or "rectangle".
func ParseShape(s string) (Shape, error) {
	switch s {
	case "circle":
		return ShapeCircle, nil
	case "rectangle":
		return ShapeRectangle, nil
	default:
		return 0, fmt.Errorf("unknown pool shape %q", s)
	}
}

// PoolGeometry is the shape-specific calibration and coordinate mapping.
// Warped-pixel coordinates are those of the perspective-corrected image.
type PoolGeometry interface {
	Shape() Shape

	// EstablishTransform derives the homography from the reference points
	// clicked on a raw frame of the given size. It returns false and leaves
	// the geometry untouched when the points are rejected.
	EstablishTransform(frame image.Point, points []geometry.Point) bool

	// Recalibrate refits the pool extent from the jet start points (warped
	// space). It returns false and keeps the previous extent on failure.
	Recalibrate(starts []geometry.Point) bool

	// ImageToCanvas maps a warped-pixel point onto a flow-map canvas.
	ImageToCanvas(x, y float64, cw, ch int) (int, int)
	// CanvasToWorld maps a canvas point back into world metres.
	CanvasToWorld(cx, cy float64, cw, ch int) (float64, float64)
	// JetOrigin maps a jet start point onto the canvas.
	JetOrigin(x, y float64, cw, ch int) (int, int)

	// ImageToWorld maps a warped-pixel point into world metres.
	ImageToWorld(u, v float64) (float64, float64)
	// WorldToImage maps world metres back to warped pixels.
	WorldToImage(x, y float64) (float64, float64)

	// Transform returns the raw→warped homography once established.
	Transform() (geometry.Homography, bool)
	// WarpedSize is the size of the perspective-corrected image.
	WarpedSize() image.Point
	// CanvasSize is the flow-map canvas size for a tracking session.
	CanvasSize() image.Point
	// Calibrated reports whether Recalibrate has succeeded since the
	// transform was last established.
	Calibrated() bool
	// WorldRadius is the half-extent of world coordinates in metres.
	WorldRadius() float64

	// Clone returns an independent copy for a tracking session.
	Clone() PoolGeometry
}

// Params holds the named calibration constants.
type Params struct {
	WorldRadius       float64
	HorizonOffset     float64
	MaxDimension      int
	CalibrationPoints int
	JetCount          int
	RadiusMargin      float64
}

// DefaultParams returns the built-in calibration constants.
func DefaultParams() Params {
	return ParamsFromTuning(config.EmptyTuningConfig())
}

// ParamsFromTuning builds Params from a tuning config.
func ParamsFromTuning(cfg *config.TuningConfig) Params {
	return Params{
		WorldRadius:       cfg.GetWorldRadius(),
		HorizonOffset:     cfg.GetHorizonOffset(),
		MaxDimension:      cfg.GetMaxDimension(),
		CalibrationPoints: cfg.GetCalibrationPoints(),
		JetCount:          cfg.GetJetCount(),
		RadiusMargin:      cfg.GetRadiusMargin(),
	}
}

// New returns an empty geometry for shape.
func New(shape Shape, p Params) (PoolGeometry, error) {
	switch shape {
	case ShapeCircle:
		return NewCircle(p), nil
	case ShapeRectangle:
		return NewRectangle(p), nil
	default:
		return nil, fmt.Errorf("unknown pool shape %v", shape)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
