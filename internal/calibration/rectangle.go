package calibration

import (
	"image"
	"math"

	"github.com/banshee-data/poolflow/internal/geometry"
)

// Rect is an axis-aligned rectangle in warped pixels.
type Rect struct {
	X, Y, W, H int
}

// Rectangle is the geometry of a rectangular pool. The warped image keeps
// the clicked quad's area and aspect ratio; world coordinates are linear
// across rect.
type Rectangle struct {
	params Params

	transform    geometry.Homography
	hasTransform bool
	outW, outH   int
	targetSize   int
	rect         Rect
	center       geometry.Point
	calibrated   bool
}

// NewRectangle returns an uninitialised rectangle geometry.
func NewRectangle(p Params) *Rectangle {
	return &Rectangle{params: p}
}

func (r *Rectangle) Shape() Shape { return ShapeRectangle }

// EstablishTransform orders the four corners, sizes the warped output to
// preserve the quad's area at its mean aspect ratio (long edge capped at
// MaxDimension) and maps the quad onto it.
func (r *Rectangle) EstablishTransform(frame image.Point, points []geometry.Point) bool {
	if len(points) != r.params.CalibrationPoints || len(points) != 4 {
		diagf("rectangle: need %d reference points, got %d", r.params.CalibrationPoints, len(points))
		return false
	}

	var quad [4]geometry.Point
	copy(quad[:], points)
	s := geometry.SortRectangleCorners(quad)

	widthTop := s[1].Dist(s[0])
	widthBottom := s[2].Dist(s[3])
	heightLeft := s[3].Dist(s[0])
	heightRight := s[2].Dist(s[1])

	area := geometry.PolygonArea(s[:])
	avgW := (widthTop + widthBottom) / 2
	avgH := (heightLeft + heightRight) / 2
	if area <= 0 || avgW <= 0 || avgH <= 0 {
		opsf("rectangle: degenerate reference quad (area=%.1f)", area)
		return false
	}
	aspect := avgW / avgH

	h := int(math.Sqrt(area / aspect))
	w := int(float64(h) * aspect)
	if maxDim := r.params.MaxDimension; w > maxDim || h > maxDim {
		scale := float64(maxDim) / float64(max(w, h))
		w = int(float64(w) * scale)
		h = int(float64(h) * scale)
	}
	if w <= 0 || h <= 0 {
		opsf("rectangle: output size %dx%d too small", w, h)
		return false
	}

	fw, fh := float64(w), float64(h)
	dst := [4]geometry.Point{{X: 0, Y: 0}, {X: fw, Y: 0}, {X: fw, Y: fh}, {X: 0, Y: fh}}
	tf, err := geometry.PerspectiveTransform(s, dst)
	if err != nil {
		opsf("rectangle: perspective transform failed: %v", err)
		return false
	}

	r.transform = tf
	r.hasTransform = true
	r.outW, r.outH = w, h
	r.targetSize = max(w, h)
	r.rect = Rect{0, 0, w, h}
	r.center = geometry.Point{X: float64(w / 2), Y: float64(h / 2)}
	r.calibrated = false
	diagf("rectangle: transform established area=%.0f aspect=%.3f output=%dx%d", area, aspect, w, h)
	return true
}

// Recalibrate fits a minimum-area rectangle to the jet start points and
// derives a rect spanning the long side of the warped canvas, centred on the
// short side. Orientation comes from the warped output aspect when known
// and from the fitted rectangle otherwise.
func (r *Rectangle) Recalibrate(starts []geometry.Point) bool {
	if len(starts) != r.params.JetCount {
		diagf("rectangle: need %d jet start points, got %d", r.params.JetCount, len(starts))
		return false
	}

	fit, err := geometry.FitRectangle(starts)
	if err != nil {
		diagf("rectangle: jet fit failed: %v", err)
		return false
	}

	cw, ch := r.targetSize, r.targetSize
	aspect := fit.Aspect()
	if r.outW > 0 && r.outH > 0 {
		cw, ch = r.outW, r.outH
		aspect = float64(r.outW) / float64(r.outH)
	}
	if cw <= 0 || ch <= 0 || aspect <= 0 || math.IsInf(aspect, 0) || math.IsNaN(aspect) {
		opsf("rectangle: cannot orient rect (canvas %dx%d aspect %.3f)", cw, ch, aspect)
		return false
	}

	var rect Rect
	if aspect > 1 {
		rect.W = cw
		rect.H = int(float64(cw) / aspect)
		rect.Y = (ch - rect.H) / 2
	} else {
		rect.H = ch
		rect.W = int(float64(ch) * aspect)
		rect.X = (cw - rect.W) / 2
	}
	if rect.W <= 0 || rect.H <= 0 {
		return false
	}

	r.rect = rect
	r.center = geometry.Point{X: math.Trunc(fit.Center.X), Y: math.Trunc(fit.Center.Y)}
	r.calibrated = true
	diagf("rectangle: calibrated rect=%+v center=(%.0f,%.0f)", rect, r.center.X, r.center.Y)
	return true
}

// PoolRect returns the pool extent in warped pixels.
func (r *Rectangle) PoolRect() Rect { return r.rect }

// Center returns the fitted pool centre in warped pixels.
func (r *Rectangle) Center() geometry.Point { return r.center }

func (r *Rectangle) relative(x, y float64) (float64, float64) {
	if r.rect.W <= 0 || r.rect.H <= 0 {
		return 0.5, 0.5
	}
	return clamp01((x - float64(r.rect.X)) / float64(r.rect.W)),
		clamp01((y - float64(r.rect.Y)) / float64(r.rect.H))
}

func (r *Rectangle) ImageToCanvas(x, y float64, cw, ch int) (int, int) {
	rx, ry := r.relative(x, y)
	return int(rx * float64(cw)), int(ry * float64(ch))
}

func (r *Rectangle) CanvasToWorld(cx, cy float64, cw, ch int) (float64, float64) {
	rx, ry := cx/float64(cw), cy/float64(ch)
	return (2*rx - 1) * r.params.WorldRadius, (2*ry - 1) * r.params.WorldRadius
}

// JetOrigin normalises the start point by the warped output size rather
// than by rect.
func (r *Rectangle) JetOrigin(x, y float64, cw, ch int) (int, int) {
	if r.outW <= 0 || r.outH <= 0 {
		return r.ImageToCanvas(x, y, cw, ch)
	}
	nx := math.Min(math.Max(0, x), float64(r.outW-1)) / float64(r.outW)
	ny := math.Min(math.Max(0, y), float64(r.outH-1)) / float64(r.outH)
	return int(nx * float64(cw)), int(ny * float64(ch))
}

func (r *Rectangle) ImageToWorld(u, v float64) (float64, float64) {
	rx, ry := r.relative(u, v)
	return (2*rx - 1) * r.params.WorldRadius, (2*ry - 1) * r.params.WorldRadius
}

func (r *Rectangle) WorldToImage(x, y float64) (float64, float64) {
	nx := (x/r.params.WorldRadius + 1) / 2
	ny := (y/r.params.WorldRadius + 1) / 2
	return float64(r.rect.X) + nx*float64(r.rect.W), float64(r.rect.Y) + ny*float64(r.rect.H)
}

func (r *Rectangle) Transform() (geometry.Homography, bool) { return r.transform, r.hasTransform }

func (r *Rectangle) WarpedSize() image.Point { return image.Pt(r.outW, r.outH) }

// CanvasSize matches the rect aspect with the long edge at MaxDimension.
func (r *Rectangle) CanvasSize() image.Point {
	maxDim := r.params.MaxDimension
	if r.rect.W <= 0 || r.rect.H <= 0 {
		return image.Pt(maxDim, maxDim)
	}
	if r.rect.W >= r.rect.H {
		return image.Pt(maxDim, clampInt(maxDim*r.rect.H/r.rect.W, 1, maxDim))
	}
	return image.Pt(clampInt(maxDim*r.rect.W/r.rect.H, 1, maxDim), maxDim)
}

func (r *Rectangle) Calibrated() bool { return r.calibrated }

func (r *Rectangle) WorldRadius() float64 { return r.params.WorldRadius }

func (r *Rectangle) Clone() PoolGeometry {
	cp := *r
	return &cp
}
