package calibration

import (
	"image"
	"math"

	"github.com/banshee-data/poolflow/internal/geometry"
)

// Circle is the geometry of a round pool. The warped image is a square of
// side targetSize; world coordinates are polar about center, normalised by
// radius and scaled by the world radius.
type Circle struct {
	params Params

	transform    geometry.Homography
	hasTransform bool
	targetSize   int
	center       geometry.Point
	radius       float64
	calibrated   bool
}

// NewCircle returns an uninitialised circle geometry.
func NewCircle(p Params) *Circle {
	return &Circle{params: p}
}

func (c *Circle) Shape() Shape { return ShapeCircle }

// EstablishTransform fits a circle through the reference points and maps
// its bounding square, widened horizontally by the horizon offset, onto a
// square of side min(frame width, frame height).
func (c *Circle) EstablishTransform(frame image.Point, points []geometry.Point) bool {
	if len(points) != c.params.CalibrationPoints {
		diagf("circle: need %d reference points, got %d", c.params.CalibrationPoints, len(points))
		return false
	}

	fit, err := geometry.FitCircle(points)
	if err != nil {
		diagf("circle: fit failed: %v", err)
		return false
	}

	cx, cy, r := fit.Center.X, fit.Center.Y, fit.Radius
	maxRadius := math.Min(math.Min(cx, cy), math.Min(float64(frame.X)-cx, float64(frame.Y)-cy))
	if r > maxRadius {
		opsf("circle: radius %.1f exceeds frame bound %.1f, rejecting", r, maxRadius)
		return false
	}

	off := c.params.HorizonOffset
	src := [4]geometry.Point{
		{X: cx - r - off, Y: cy - r},
		{X: cx + r + off, Y: cy - r},
		{X: cx + r + off, Y: cy + r},
		{X: cx - r - off, Y: cy + r},
	}
	ts := frame.X
	if frame.Y < ts {
		ts = frame.Y
	}
	if ts <= 0 {
		return false
	}
	t := float64(ts)
	dst := [4]geometry.Point{{X: 0, Y: 0}, {X: t, Y: 0}, {X: t, Y: t}, {X: 0, Y: t}}

	h, err := geometry.PerspectiveTransform(src, dst)
	if err != nil {
		opsf("circle: perspective transform failed: %v", err)
		return false
	}

	c.transform = h
	c.hasTransform = true
	c.targetSize = ts
	half := float64(ts / 2)
	c.center = geometry.Point{X: half, Y: half}
	c.radius = half
	c.calibrated = false
	diagf("circle: transform established, fit center=(%.1f,%.1f) r=%.1f target=%d", cx, cy, r, ts)
	return true
}

// Recalibrate refits the pool circle through the jet start points. The
// fitted center and radius are truncated to whole pixels; a radius that
// would leave the warped square is clamped to RadiusMargin of the largest
// radius that fits.
func (c *Circle) Recalibrate(starts []geometry.Point) bool {
	if !c.hasTransform {
		opsf("circle: recalibrate before transform")
		return false
	}
	if len(starts) != c.params.JetCount {
		diagf("circle: need %d jet start points, got %d", c.params.JetCount, len(starts))
		return false
	}

	fit, err := geometry.FitCircle(starts)
	if err != nil {
		diagf("circle: jet fit failed: %v", err)
		return false
	}

	cx := math.Trunc(fit.Center.X)
	cy := math.Trunc(fit.Center.Y)
	r := math.Trunc(fit.Radius)
	ts := float64(c.targetSize)
	maxRadius := math.Min(math.Min(cx, cy), math.Min(ts-cx, ts-cy))
	if r > maxRadius {
		r = math.Trunc(maxRadius * c.params.RadiusMargin)
	}
	if r <= 0 {
		opsf("circle: jet fit center (%.0f,%.0f) leaves no usable radius", cx, cy)
		return false
	}

	c.center = geometry.Point{X: cx, Y: cy}
	c.radius = r
	c.calibrated = true
	diagf("circle: calibrated center=(%.0f,%.0f) r=%.0f", cx, cy, r)
	return true
}

// Center returns the pool center in warped pixels.
func (c *Circle) Center() geometry.Point { return c.center }

// Radius returns the pool radius in warped pixels.
func (c *Circle) Radius() float64 { return c.radius }

// TargetSize returns the side of the warped square.
func (c *Circle) TargetSize() int { return c.targetSize }

func (c *Circle) ImageToCanvas(x, y float64, cw, ch int) (int, int) {
	if c.radius <= 0 {
		return cw / 2, ch / 2
	}
	nx := (x - c.center.X) / c.radius
	ny := (y - c.center.Y) / c.radius
	hw, hh := float64(cw)/2, float64(ch)/2
	return int(hw + hw*nx), int(hh + hh*ny)
}

func (c *Circle) CanvasToWorld(cx, cy float64, cw, ch int) (float64, float64) {
	hw, hh := float64(cw)/2, float64(ch)/2
	return (cx - hw) / hw * c.params.WorldRadius, (cy - hh) / hh * c.params.WorldRadius
}

func (c *Circle) JetOrigin(x, y float64, cw, ch int) (int, int) {
	return c.ImageToCanvas(x, y, cw, ch)
}

func (c *Circle) ImageToWorld(u, v float64) (float64, float64) {
	if c.radius <= 0 {
		return 0, 0
	}
	dx, dy := u-c.center.X, v-c.center.Y
	rho := math.Hypot(dx, dy) / c.radius
	theta := math.Atan2(dy, dx)
	return rho * c.params.WorldRadius * math.Cos(theta), rho * c.params.WorldRadius * math.Sin(theta)
}

func (c *Circle) WorldToImage(x, y float64) (float64, float64) {
	rho := math.Hypot(x, y) / c.params.WorldRadius
	theta := math.Atan2(y, x)
	return c.center.X + c.radius*rho*math.Cos(theta), c.center.Y + c.radius*rho*math.Sin(theta)
}

func (c *Circle) Transform() (geometry.Homography, bool) { return c.transform, c.hasTransform }

func (c *Circle) WarpedSize() image.Point { return image.Pt(c.targetSize, c.targetSize) }

// CanvasSize is always a MaxDimension square.
func (c *Circle) CanvasSize() image.Point {
	return image.Pt(c.params.MaxDimension, c.params.MaxDimension)
}

func (c *Circle) Calibrated() bool { return c.calibrated }

func (c *Circle) WorldRadius() float64 { return c.params.WorldRadius }

func (c *Circle) Clone() PoolGeometry {
	cp := *c
	return &cp
}
