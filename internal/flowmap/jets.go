package flowmap

import (
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/banshee-data/poolflow/internal/geometry"
)

// JetVector is a water-jet nozzle in warped-pixel space: it sits at Start and
// points toward End.
type JetVector struct {
	Start image.Point
	End   image.Point
}

func (j JetVector) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", j.Start.X, j.Start.Y, j.End.X, j.End.Y)
}

// JetOrigins returns the jet start points.
func JetOrigins(jets []JetVector) []geometry.Point {
	pts := make([]geometry.Point, len(jets))
	for i, j := range jets {
		pts[i] = geometry.Pt(float64(j.Start.X), float64(j.Start.Y))
	}
	return pts
}

// CanvasMapper maps jet start points onto the flow-map canvas.
type CanvasMapper interface {
	JetOrigin(x, y float64, cw, ch int) (int, int)
}

// Jets paints the configured water jets into a generator's buffers every
// frame.
type Jets struct {
	mu      sync.RWMutex
	gen     *Generator
	mapper  CanvasMapper
	vectors []JetVector
}

// NewJets binds jets to a generator and the geometry used to place them.
func NewJets(gen *Generator, mapper CanvasMapper, vectors []JetVector) *Jets {
	j := &Jets{gen: gen, mapper: mapper}
	j.SetVectors(vectors)
	return j
}

// SetVectors replaces the jet list.
func (j *Jets) SetVectors(vectors []JetVector) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.vectors = append([]JetVector(nil), vectors...)
	diagf("jet vectors updated: %d", len(vectors))
}

// Vectors returns a copy of the jet list.
func (j *Jets) Vectors() []JetVector {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]JetVector(nil), j.vectors...)
}

// Apply paints every non-zero jet into both the canvas and the accumulated
// map as a fading streak of brush discs, and returns frame untouched.
func (j *Jets) Apply(frame image.Image) image.Image {
	vectors := j.Vectors()
	if len(vectors) == 0 {
		return frame
	}

	g := j.gen
	g.mu.Lock()
	defer g.mu.Unlock()

	cw, ch := g.width, g.height
	cfg := g.cfg
	steps := cfg.JetSteps
	if steps <= 0 {
		return frame
	}

	for _, v := range vectors {
		dx := float64(v.End.X - v.Start.X)
		dy := float64(v.End.Y - v.Start.Y)
		length := math.Hypot(dx, dy)
		if length == 0 {
			continue
		}
		dx /= length
		dy /= length

		sx, sy := j.mapper.JetOrigin(float64(v.Start.X), float64(v.Start.Y), cw, ch)
		for i := 1; i <= steps; i++ {
			t := float64(i) / float64(steps)
			x := int(float64(sx) + dx*float64(cw)*t*cfg.JetLengthScale)
			y := int(float64(sy) + dy*float64(ch)*t*cfg.JetLengthScale)
			x = min(max(x, 0), cw-1)
			y = min(max(y, 0), ch-1)

			intensity := 1 - (1-cfg.JetMinIntensity)*t
			dev := flowColour(dx, dy, intensity)
			g.canvas.fillCircle(x, y, cfg.BrushRadius, dev)
			g.accumulated.fillCircle(x, y, cfg.BrushRadius, dev)
		}
	}
	return frame
}
