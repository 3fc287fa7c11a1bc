package flowmap

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/poolflow/internal/config"
)

func testConfig() Config {
	cfg := ConfigFromTuning(config.EmptyTuningConfig())
	cfg.BlurSigma = 2
	return cfg
}

type fixedOrigin struct{ x, y int }

func (f fixedOrigin) JetOrigin(_, _ float64, _, _ int) (int, int) { return f.x, f.y }

func isBackground(c color.NRGBA) bool {
	return c == Background
}

func TestConfigFromTuning_Defaults(t *testing.T) {
	t.Parallel()

	cfg := ConfigFromTuning(config.EmptyTuningConfig())
	assert.Equal(t, 20, cfg.BrushRadius)
	assert.Equal(t, 0.95, cfg.DecayFactor)
	assert.Equal(t, 30, cfg.SampleFrames)
	assert.Equal(t, 10, cfg.MinVelocitySamples)
	assert.Equal(t, 0.5, cfg.InitialMaxVelocity)
	assert.Equal(t, cfg, DefaultConfig())
}

func TestNewGenerator_BackgroundFilled(t *testing.T) {
	t.Parallel()

	g := NewGenerator(testConfig(), 32, 16)
	assert.Equal(t, image.Pt(32, 16), g.Size())
	acc := g.Accumulated()
	assert.Equal(t, image.Rect(0, 0, 32, 16), acc.Bounds())
	assert.True(t, isBackground(acc.NRGBAAt(0, 0)))
	assert.True(t, isBackground(g.Canvas().NRGBAAt(31, 15)))
	assert.Zero(t, g.AccumulatedDistance())
	assert.Equal(t, 0.5, g.MaxVelocity())
}

func TestFlowColour(t *testing.T) {
	t.Parallel()

	// Full intensity, flowing right: red at its maximum base, green mid.
	dev := flowColour(1, 0, 1)
	assert.Equal(t, [3]float64{200 - 128, 137 - 128, 0}, dev)

	// Flowing up (negative image y) raises green.
	dev = flowColour(0, -1, 1)
	assert.Equal(t, [3]float64{137 - 128, 200 - 128, 0}, dev)

	// Minimum intensity stays close to the background.
	dev = flowColour(-1, 0, 0.1)
	// int(128·0.9 + 75·0.1) = 122, int(128·0.9 + 137·0.1) = 128.
	assert.Equal(t, [3]float64{-6, 0, 0}, dev)
}

func TestUpdateFlowMap_DistanceNonIncreasingWithoutActivity(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BrushRadius = 4
	cfg.SampleFrames = 1
	cfg.JetSteps = 10
	cfg.JetLengthScale = 0.2
	g := NewGenerator(cfg, 64, 64)

	jets := NewJets(g, fixedOrigin{24, 32}, []JetVector{{Start: image.Pt(0, 0), End: image.Pt(10, 0)}})
	jets.Apply(image.NewRGBA(image.Rect(0, 0, 4, 4)))
	jets.SetVectors(nil)

	prev := g.AccumulatedDistance()
	require.Positive(t, prev)
	initial := prev

	for i := 0; i < 40; i++ {
		g.UpdateFlowMap()
		d := g.AccumulatedDistance()
		assert.LessOrEqual(t, d, prev+1e-6, "frame %d", i+1)
		prev = d
	}
	assert.Less(t, prev, initial*0.25, "accumulated map should converge toward the background")
}

func TestUpdateFlowMap_NoSamplesStaysBackground(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SampleFrames = 1
	g := NewGenerator(cfg, 24, 24)
	for i := 0; i < 5; i++ {
		g.UpdateFlowMap()
		assert.Zero(t, g.AccumulatedDistance())
	}
	assert.Equal(t, 5, g.Frame())
}

func TestUpdateFlowMap_LinearMarkerTrail(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SampleFrames = 8
	cfg.BrushRadius = 6
	cfg.BlurPasses = 0
	g := NewGenerator(cfg, 256, 256)

	const vx = 0.8
	pos := func(i int) float64 { return -0.5 + 0.05*float64(i) }

	for i := 0; i < 8; i++ {
		g.AddSample(1, pos(i), 0, vx, 0)
		g.UpdateFlowMap()
		if i < 7 {
			assert.Zero(t, g.AccumulatedDistance(), "nothing drawn during warm-up (frame %d)", i+1)
		}
		assert.Equal(t, 0.5, g.MaxVelocity(), "ceiling fixed until more than 10 samples")
	}

	canvas := g.Canvas()
	// The path runs from x=63 to x=108 along y=127.
	for _, x := range []int{63, 70, 85, 100, 108} {
		c := canvas.NRGBAAt(x, 127)
		assert.False(t, isBackground(c), "trail missing at x=%d", x)
		assert.Greater(t, c.R, Background.R, "rightward flow raises red at x=%d", x)
	}
	assert.False(t, isBackground(canvas.NRGBAAt(63, 127+6)), "brush radius reaches 6 px")
	assert.True(t, isBackground(canvas.NRGBAAt(63, 127+8)))
	assert.True(t, isBackground(canvas.NRGBAAt(40, 127)))
	assert.True(t, isBackground(canvas.NRGBAAt(200, 200)))
	assert.Positive(t, g.AccumulatedDistance())

	g.AddSample(1, pos(8), 0, vx, 0)
	g.AddSample(1, pos(9), 0, vx, 0)
	assert.Equal(t, 0.5, g.MaxVelocity(), "10 samples do not move the ceiling")
	g.AddSample(1, pos(10), 0, vx, 0)
	assert.InDelta(t, vx, g.MaxVelocity(), 1e-12, "11th sample recomputes the ceiling")
	assert.Len(t, g.History(1), 8, "history is capped at sample_frames")
}

func TestUpdateFlowMap_SlowMarkerNotDrawn(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SampleFrames = 2
	g := NewGenerator(cfg, 64, 64)
	for i := 0; i < 4; i++ {
		g.AddSample(3, -0.5+0.1*float64(i), 0, 0.001, 0)
		g.UpdateFlowMap()
	}
	assert.Zero(t, g.AccumulatedDistance())
}

func TestUpdateFlowMap_ForgetsUnsampledMarkers(t *testing.T) {
	t.Parallel()

	g := NewGenerator(testConfig(), 16, 16)
	g.AddSample(7, 0, 0, 1, 0)
	g.UpdateFlowMap()
	assert.Len(t, g.History(7), 1)

	g.UpdateFlowMap()
	assert.Nil(t, g.History(7))
}

func TestAddSample_VelocityWindow(t *testing.T) {
	t.Parallel()

	g := NewGenerator(testConfig(), 8, 8)
	for i := 0; i < 40; i++ {
		g.AddSample(1, 0, 0, float64(i), 0)
	}
	hist := g.VelocityHistory()
	require.Len(t, hist, 30)
	assert.Equal(t, 10.0, hist[0])
	assert.Equal(t, 39.0, hist[29])
	// (n-1)p interpolation over 10..39: rank 27.55 lies between 37 and 38.
	assert.InDelta(t, 37.55, g.MaxVelocity(), 1e-9)
}

func TestPercentile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		xs   []float64
		p    float64
		want float64
	}{
		{"empty", nil, 95, 0},
		{"single", []float64{4}, 95, 4},
		{"median even", []float64{4, 1, 3, 2}, 50, 2.5},
		{"max", []float64{1, 2, 3}, 100, 3},
		{"min", []float64{3, 1, 2}, 0, 1},
		{"interpolated", []float64{0, 10}, 95, 9.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, percentile(tt.xs, tt.p), 1e-9)
		})
	}
}

func TestShouldEmit(t *testing.T) {
	t.Parallel()

	g := NewGenerator(testConfig(), 8, 8)
	assert.False(t, g.ShouldEmit(30))

	var emitted []int
	for i := 1; i <= 65; i++ {
		g.UpdateFlowMap()
		if g.ShouldEmit(30) {
			emitted = append(emitted, i)
		}
	}
	assert.Equal(t, []int{30, 60}, emitted)
}

func TestJets_LeaveFrameUntouched(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	g := NewGenerator(cfg, 128, 128)
	vectors := []JetVector{
		{Start: image.Pt(10, 10), End: image.Pt(20, 10)},
		{Start: image.Pt(50, 10), End: image.Pt(50, 30)},
		{Start: image.Pt(90, 10), End: image.Pt(80, 20)},
		{Start: image.Pt(10, 90), End: image.Pt(20, 80)},
		{Start: image.Pt(50, 90), End: image.Pt(50, 70)},
		{Start: image.Pt(90, 90), End: image.Pt(70, 90)},
	}
	jets := NewJets(g, fixedOrigin{64, 64}, vectors)

	frame := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for i := range frame.Pix {
		frame.Pix[i] = uint8(i * 7)
	}
	before := append([]uint8(nil), frame.Pix...)

	out := jets.Apply(frame)
	assert.Same(t, frame, out)
	assert.Equal(t, before, frame.Pix)

	assert.Positive(t, g.AccumulatedDistance())
	assert.False(t, isBackground(g.Canvas().NRGBAAt(64, 64)))
	assert.Equal(t, vectors, jets.Vectors())
	assert.Equal(t, "10,10,20,10", vectors[0].String())
}

func TestJets_ZeroLengthSkipped(t *testing.T) {
	t.Parallel()

	g := NewGenerator(testConfig(), 32, 32)
	jets := NewJets(g, fixedOrigin{16, 16}, []JetVector{{Start: image.Pt(5, 5), End: image.Pt(5, 5)}})
	jets.Apply(nil)
	assert.Zero(t, g.AccumulatedDistance())
}

func TestJetOrigins(t *testing.T) {
	t.Parallel()

	pts := JetOrigins([]JetVector{{Start: image.Pt(3, 4)}, {Start: image.Pt(-1, 2)}})
	require.Len(t, pts, 2)
	assert.Equal(t, 3.0, pts[0].X)
	assert.Equal(t, 2.0, pts[1].Y)
}

func TestEncodeJPEG(t *testing.T) {
	t.Parallel()

	g := NewGenerator(testConfig(), 48, 32)
	data, err := g.JPEG()
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 48, 32), img.Bounds())
}

func TestReset(t *testing.T) {
	t.Parallel()

	g := NewGenerator(testConfig(), 32, 32)
	NewJets(g, fixedOrigin{16, 16}, []JetVector{{End: image.Pt(1, 0)}}).Apply(nil)
	g.AddSample(1, 0, 0, 3, 0)
	g.UpdateFlowMap()
	g.Reset()

	assert.Zero(t, g.AccumulatedDistance())
	assert.Zero(t, g.Frame())
	assert.Empty(t, g.VelocityHistory())
	assert.Equal(t, 0.5, g.MaxVelocity())
}

func TestPlaneBlur_NeverGrowsDistance(t *testing.T) {
	t.Parallel()

	p := newPlane(40, 40)
	tmp := newPlane(40, 40)
	// One blob in the interior, one touching the corner.
	p.fillCircle(20, 20, 3, [3]float64{50, -20, 0})
	p.fillCircle(0, 0, 3, [3]float64{30, 30, 0})
	before := p.l1()

	p.blur(boxRadii(2), tmp)
	assert.LessOrEqual(t, p.l1(), before+1e-9)
	assert.Greater(t, p.l1(), before*0.5)
}

func TestBoxRadii(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sigma float64
		want  [3]int
	}{
		{2, [3]int{1, 1, 2}},
		{5, [3]int{4, 4, 5}},
	}
	for _, tt := range tests {
		got := boxRadii(tt.sigma)
		assert.Equal(t, tt.want, got, "sigma %v", tt.sigma)

		// Variance of the three boxes, ((2r+1)^2-1)/12 each, matches sigma^2.
		var variance float64
		for _, r := range got {
			size := float64(2*r + 1)
			variance += (size*size - 1) / 12
		}
		assert.InDelta(t, tt.sigma*tt.sigma, variance, 2, "sigma %v", tt.sigma)
	}
}

func TestBoxLine_PreservesInteriorMass(t *testing.T) {
	t.Parallel()

	src := make([]float64, 9*3)
	src[4*3] = 9 // single spike, red channel, centre pixel
	dst := make([]float64, len(src))
	boxLine(src, dst, 0, 3, 9, 1)

	want := make([]float64, len(src))
	want[3*3], want[4*3], want[5*3] = 3, 3, 3
	assert.InDeltaSlice(t, want, dst, 1e-12)
}

func TestPlaneFillCircle_Clipped(t *testing.T) {
	t.Parallel()

	p := newPlane(10, 10)
	p.fillCircle(0, 0, 2, [3]float64{1, 1, 1})
	// Quarter disc of radius 2: (0,0) (1,0) (2,0) (0,1) (1,1) (0,2).
	assert.InDelta(t, 6*3, p.l1(), 1e-12)

	p.fillCircle(-50, -50, 2, [3]float64{1, 1, 1})
	assert.InDelta(t, 6*3, p.l1(), 1e-12)
}
