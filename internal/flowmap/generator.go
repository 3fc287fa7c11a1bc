// Package flowmap accumulates marker motion and synthetic water jets into a
// colour-coded flow map: red encodes horizontal flow, green encodes vertical
// flow and intensity encodes speed relative to a rolling velocity ceiling.
package flowmap

import (
	"bytes"
	"image"
	"image/color"
	"io"
	"math"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/poolflow/internal/config"
	"github.com/banshee-data/poolflow/internal/geometry"
)

// Background is the flow-map rest colour: no flow in either axis.
var Background = color.NRGBA{R: 128, G: 128, B: 0, A: 0xff}

// Config holds the flow-map rendering parameters.
type Config struct {
	BrushRadius        int
	DecayFactor        float64
	VelocityWindow     int
	VelocityPercentile float64 // 0..100
	MinVelocitySamples int     // ceiling is recomputed once the window holds more samples than this
	InitialMaxVelocity float64
	SampleFrames       int     // per-marker history length and warm-up frame count
	SpeedThreshold     float64 // trails slower than this are not drawn
	TrailJumpPixels    float64 // longer segments draw endpoints only
	TrailStepPixels    float64
	BlurSigma          float64
	BlurPasses         int
	AccumulateWeight   float64 // weight of the new canvas in the accumulated blend
	JetSteps           int
	JetLengthScale     float64
	JetMinIntensity    float64
	JPEGQuality        int
}

// DefaultConfig returns the flow-map configuration loaded from the canonical
// tuning defaults file. Panics if the file cannot be found.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		BrushRadius:        cfg.GetBrushRadius(),
		DecayFactor:        cfg.GetDecayFactor(),
		VelocityWindow:     cfg.GetVelocityWindow(),
		VelocityPercentile: cfg.GetVelocityPercentile(),
		MinVelocitySamples: cfg.GetMinVelocitySamples(),
		InitialMaxVelocity: cfg.GetInitialMaxVelocity(),
		SampleFrames:       cfg.GetSampleFrames(),
		SpeedThreshold:     cfg.GetSpeedThreshold(),
		TrailJumpPixels:    cfg.GetTrailJumpPixels(),
		TrailStepPixels:    cfg.GetTrailStepPixels(),
		BlurSigma:          cfg.GetBlurSigma(),
		BlurPasses:         cfg.GetBlurPasses(),
		AccumulateWeight:   cfg.GetAccumulateWeight(),
		JetSteps:           cfg.GetJetSteps(),
		JetLengthScale:     cfg.GetJetLengthScale(),
		JetMinIntensity:    cfg.GetJetMinIntensity(),
		JPEGQuality:        cfg.GetJPEGQuality(),
	}
}

// Sample is one normalised marker observation. Position is in [-1, 1] on
// both axes; Velocity is in world units.
type Sample struct {
	Position geometry.Point
	Velocity geometry.Point
	Frame    int
}

type markerHistory struct {
	samples    []Sample
	lastSample int
}

// Generator owns the live canvas and the accumulated flow map. It is safe
// for concurrent use.
type Generator struct {
	mu     sync.Mutex
	cfg    Config
	width  int
	height int

	canvas      *plane
	accumulated *plane
	scratch     *plane
	blurRadii   [3]int

	history         map[int]*markerHistory
	velocityHistory []float64
	maxVelocity     float64
	frame           int
	lastEmitted     int
}

// NewGenerator returns a generator with background-filled buffers of the
// given size.
func NewGenerator(cfg Config, width, height int) *Generator {
	g := &Generator{
		cfg:    cfg,
		width:  width,
		height: height,
	}
	if cfg.BlurSigma > 0 {
		g.blurRadii = boxRadii(cfg.BlurSigma)
	}
	g.reset()
	return g
}

func (g *Generator) reset() {
	g.canvas = newPlane(g.width, g.height)
	g.accumulated = newPlane(g.width, g.height)
	g.scratch = newPlane(g.width, g.height)
	g.history = make(map[int]*markerHistory)
	g.velocityHistory = nil
	g.maxVelocity = g.cfg.InitialMaxVelocity
	g.frame = 0
	g.lastEmitted = 0
}

// Reset clears both buffers and all motion history.
func (g *Generator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reset()
}

// Size returns the canvas dimensions.
func (g *Generator) Size() image.Point {
	return image.Pt(g.width, g.height)
}

// AddSample records a marker observation for the current frame and feeds
// its speed into the rolling velocity ceiling.
func (g *Generator) AddSample(markerID int, x, y, vx, vy float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.history[markerID]
	if !ok {
		h = &markerHistory{}
		g.history[markerID] = h
	}
	h.samples = append(h.samples, Sample{
		Position: geometry.Pt(x, y),
		Velocity: geometry.Pt(vx, vy),
		Frame:    g.frame,
	})
	if len(h.samples) > g.cfg.SampleFrames {
		h.samples = h.samples[len(h.samples)-g.cfg.SampleFrames:]
	}
	h.lastSample = g.frame

	g.velocityHistory = append(g.velocityHistory, math.Hypot(vx, vy))
	if len(g.velocityHistory) > g.cfg.VelocityWindow {
		g.velocityHistory = g.velocityHistory[len(g.velocityHistory)-g.cfg.VelocityWindow:]
	}
	if len(g.velocityHistory) > g.cfg.MinVelocitySamples {
		g.maxVelocity = percentile(g.velocityHistory, g.cfg.VelocityPercentile)
	}
}

func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	// Linear interpolation between closest ranks, h = (n-1)p.
	h := float64(len(sorted)-1) * p / 100
	lo := int(math.Floor(h))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// flowColour maps a unit direction and an intensity in [0.1, 1] to a
// deviation from Background.
func flowColour(dx, dy, intensity float64) [3]float64 {
	rBase := float64(int(75 + 125*(dx+1)/2))
	gBase := float64(int(75 + 125*(-dy+1)/2))
	bg := Background
	r := float64(int(float64(bg.R)*(1-intensity) + rBase*intensity))
	gr := float64(int(float64(bg.G)*(1-intensity) + gBase*intensity))
	b := float64(int(float64(bg.B) * (1 - intensity)))
	return [3]float64{r - float64(bg.R), gr - float64(bg.G), b - float64(bg.B)}
}

// toPixel maps a normalised coordinate onto [0, dim-1].
func toPixel(p float64, dim int) int {
	v := int((p + 1) / 2 * float64(dim-1))
	if v < 0 {
		return 0
	}
	if v > dim-1 {
		return dim - 1
	}
	return v
}

// UpdateFlowMap advances one frame: the canvas decays toward the
// background, every marker trail is redrawn, the canvas is blurred and then
// blended into the accumulated map. Nothing is drawn until SampleFrames
// frames have elapsed. Markers that were not sampled since the previous call
// are forgotten.
func (g *Generator) UpdateFlowMap() {
	g.mu.Lock()
	defer g.mu.Unlock()

	prev := g.frame
	g.frame++
	for id, h := range g.history {
		if h.lastSample < prev {
			delete(g.history, id)
			tracef("marker %d: history dropped at frame %d", id, g.frame)
		}
	}
	if g.frame < g.cfg.SampleFrames {
		return
	}

	floats.Scale(g.cfg.DecayFactor, g.canvas.pix)

	ids := make([]int, 0, len(g.history))
	for id := range g.history {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		g.drawTrail(g.history[id].samples)
	}

	if g.blurRadii != ([3]int{}) {
		for i := 0; i < g.cfg.BlurPasses; i++ {
			g.canvas.blur(g.blurRadii, g.scratch)
		}
	}

	w := g.cfg.AccumulateWeight
	floats.Scale(1-w, g.accumulated.pix)
	floats.AddScaled(g.accumulated.pix, w, g.canvas.pix)
	g.accumulated.clampTo(channelBounds())
}

func channelBounds() (lo, hi [3]float64) {
	bg := [3]float64{float64(Background.R), float64(Background.G), float64(Background.B)}
	for c := range bg {
		lo[c] = -bg[c]
		hi[c] = 255 - bg[c]
	}
	return lo, hi
}

func (g *Generator) drawTrail(samples []Sample) {
	if len(samples) < 2 {
		return
	}
	vx := make([]float64, len(samples))
	vy := make([]float64, len(samples))
	for i, s := range samples {
		vx[i], vy[i] = s.Velocity.X, s.Velocity.Y
	}
	avg := geometry.Pt(stat.Mean(vx, nil), stat.Mean(vy, nil))
	speed := avg.Norm()
	if speed < g.cfg.SpeedThreshold {
		return
	}

	factor := 0.0
	if g.maxVelocity > 0 {
		factor = math.Min(speed/g.maxVelocity, g.maxVelocity)
	}
	intensity := 0.1 + 0.9*factor
	dev := flowColour(avg.X/speed, avg.Y/speed, intensity)
	r := g.cfg.BrushRadius

	for i := 1; i < len(samples); i++ {
		px := toPixel(samples[i-1].Position.X, g.width)
		py := toPixel(samples[i-1].Position.Y, g.height)
		cx := toPixel(samples[i].Position.X, g.width)
		cy := toPixel(samples[i].Position.Y, g.height)

		dist := math.Hypot(float64(cx-px), float64(cy-py))
		if dist > g.cfg.TrailJumpPixels {
			g.canvas.fillCircle(px, py, r, dev)
			g.canvas.fillCircle(cx, cy, r, dev)
			continue
		}
		n := max(2, int(dist/g.cfg.TrailStepPixels))
		for j := 0; j <= n; j++ {
			a := float64(j) / float64(n)
			x := int(float64(px) + a*float64(cx-px))
			y := int(float64(py) + a*float64(cy-py))
			g.canvas.fillCircle(x, y, r, dev)
		}
	}
}

// ShouldEmit reports whether at least interval frames have passed since the
// last emission and, if so, marks the current frame as emitted.
func (g *Generator) ShouldEmit(interval int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.frame-g.lastEmitted >= interval {
		g.lastEmitted = g.frame
		diagf("emit at frame %d (max velocity %.3f)", g.frame, g.maxVelocity)
		return true
	}
	return false
}

// Canvas returns an 8-bit copy of the live canvas.
func (g *Generator) Canvas() *image.NRGBA {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canvas.image(Background)
}

// Accumulated returns an 8-bit copy of the accumulated flow map.
func (g *Generator) Accumulated() *image.NRGBA {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.accumulated.image(Background)
}

// AccumulatedDistance returns the L1 distance of the accumulated map from
// the background, summed over channels.
func (g *Generator) AccumulatedDistance() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.accumulated.l1()
}

// EncodeJPEG writes the accumulated flow map as a JPEG.
func (g *Generator) EncodeJPEG(w io.Writer) error {
	return imaging.Encode(w, g.Accumulated(), imaging.JPEG, imaging.JPEGQuality(g.cfg.JPEGQuality))
}

// JPEG returns the accumulated flow map encoded as a JPEG.
func (g *Generator) JPEG() ([]byte, error) {
	var buf bytes.Buffer
	if err := g.EncodeJPEG(&buf); err != nil {
		opsf("encode flow map: %v", err)
		return nil, err
	}
	return buf.Bytes(), nil
}

// MaxVelocity returns the current velocity ceiling.
func (g *Generator) MaxVelocity() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxVelocity
}

// VelocityHistory returns a copy of the rolling speed window.
func (g *Generator) VelocityHistory() []float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]float64, len(g.velocityHistory))
	copy(out, g.velocityHistory)
	return out
}

// Frame returns the number of UpdateFlowMap calls since the last reset.
func (g *Generator) Frame() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frame
}

// History returns a copy of the retained samples for a marker.
func (g *Generator) History(markerID int) []Sample {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.history[markerID]
	if !ok {
		return nil
	}
	out := make([]Sample, len(h.samples))
	copy(out, h.samples)
	return out
}
