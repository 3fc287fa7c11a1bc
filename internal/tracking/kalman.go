package tracking

import (
	"time"

	"gonum.org/v1/gonum/mat"
)

// State vector indices.
const (
	idxX = iota
	idxY
	idxVX
	idxVY
	idxAX
	idxAY
	idxRot
	idxRotVel

	stateDim = 8
	measDim  = 3
)

// KalmanConfig holds the filter noise parameters.
type KalmanConfig struct {
	ProcessNoise      float64 // Q = ProcessNoise·I
	MeasurementNoise  float64 // R = MeasurementNoise·I
	InitialCovariance float64 // P₀ = InitialCovariance·I
	MaxMissedFrames   int     // Track stays valid while missed ≤ MaxMissedFrames
}

// MarkerState is a snapshot of a track's filtered state.
type MarkerState struct {
	X, Y         float64 // world metres
	VX, VY       float64 // world metres/second
	Rotation     float64 // degrees
	Predicted    bool
	MissedFrames int
}

// MarkerTrack is a constant-acceleration Kalman filter over
// [x, y, vx, vy, ax, ay, rotation, angular_velocity] that observes x, y and
// rotation. Predict overwrites the posterior, so State always reflects the
// most recent step.
type MarkerTrack struct {
	ID int

	cfg        KalmanConfig
	x          *mat.VecDense
	p          *mat.Dense
	q          *mat.Dense
	r          *mat.Dense
	h          *mat.Dense
	lastUpdate time.Time
	missed     int
}

// NewMarkerTrack seeds a track from its first observation with zero
// derivatives.
func NewMarkerTrack(id int, x, y, rotation float64, now time.Time, cfg KalmanConfig) *MarkerTrack {
	state := mat.NewVecDense(stateDim, nil)
	state.SetVec(idxX, x)
	state.SetVec(idxY, y)
	state.SetVec(idxRot, rotation)

	h := mat.NewDense(measDim, stateDim, nil)
	h.Set(0, idxX, 1)
	h.Set(1, idxY, 1)
	h.Set(2, idxRot, 1)

	return &MarkerTrack{
		ID:         id,
		cfg:        cfg,
		x:          state,
		p:          scaledIdentity(stateDim, cfg.InitialCovariance),
		q:          scaledIdentity(stateDim, cfg.ProcessNoise),
		r:          scaledIdentity(measDim, cfg.MeasurementNoise),
		h:          h,
		lastUpdate: now,
	}
}

func scaledIdentity(n int, v float64) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, v)
	}
	return m
}

// transition builds F for the elapsed time dt (seconds).
func transition(dt float64) *mat.Dense {
	f := scaledIdentity(stateDim, 1)
	f.Set(idxX, idxVX, dt)
	f.Set(idxY, idxVY, dt)
	f.Set(idxX, idxAX, 0.5*dt*dt)
	f.Set(idxY, idxAY, 0.5*dt*dt)
	f.Set(idxVX, idxAX, dt)
	f.Set(idxVY, idxAY, dt)
	f.Set(idxRot, idxRotVel, dt)
	return f
}

// elapsed returns seconds since the last step and advances the step time.
func (t *MarkerTrack) elapsed(now time.Time) float64 {
	dt := now.Sub(t.lastUpdate).Seconds()
	t.lastUpdate = now
	if dt < 0 {
		dt = 0
	}
	return dt
}

// predict applies x = F·x and P = F·P·Fᵀ + Q.
func (t *MarkerTrack) predict(dt float64) {
	f := transition(dt)

	var x mat.VecDense
	x.MulVec(f, t.x)
	t.x = &x

	var fp, fpft mat.Dense
	fp.Mul(f, t.p)
	fpft.Mul(&fp, f.T())
	fpft.Add(&fpft, t.q)
	t.p = &fpft
}

// correct folds in the measurement z = [x, y, rotation].
func (t *MarkerTrack) correct(z *mat.VecDense) {
	// S = H·P·Hᵀ + R
	var hp, s mat.Dense
	hp.Mul(t.h, t.p)
	s.Mul(&hp, t.h.T())
	s.Add(&s, t.r)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		tracef("marker %d: innovation covariance singular, skipping correction: %v", t.ID, err)
		return
	}

	// K = P·Hᵀ·S⁻¹
	var pht, k mat.Dense
	pht.Mul(t.p, t.h.T())
	k.Mul(&pht, &sInv)

	// x = x + K·(z − H·x)
	var hx, y mat.VecDense
	hx.MulVec(t.h, t.x)
	y.SubVec(z, &hx)
	var ky mat.VecDense
	ky.MulVec(&k, &y)
	var x mat.VecDense
	x.AddVec(t.x, &ky)
	t.x = &x

	// P = (I − K·H)·P
	var kh mat.Dense
	kh.Mul(&k, t.h)
	ikh := scaledIdentity(stateDim, 1)
	ikh.Sub(ikh, &kh)
	var p mat.Dense
	p.Mul(ikh, t.p)
	t.p = &p
}

// Update runs a predict/correct cycle with a detection and clears the
// missed-frame count.
func (t *MarkerTrack) Update(x, y, rotation float64, now time.Time) MarkerState {
	t.predict(t.elapsed(now))
	t.correct(mat.NewVecDense(measDim, []float64{x, y, rotation}))
	t.missed = 0
	return t.State()
}

// Predict advances the track without a detection.
func (t *MarkerTrack) Predict(now time.Time) MarkerState {
	t.predict(t.elapsed(now))
	t.missed++
	return t.State()
}

// IsValid reports whether the track has not been missing for too long.
func (t *MarkerTrack) IsValid() bool {
	return t.missed <= t.cfg.MaxMissedFrames
}

// MissedFrames returns the consecutive frames without a detection.
func (t *MarkerTrack) MissedFrames() int { return t.missed }

// State returns a copy of the current filtered state.
func (t *MarkerTrack) State() MarkerState {
	return MarkerState{
		X:            t.x.AtVec(idxX),
		Y:            t.x.AtVec(idxY),
		VX:           t.x.AtVec(idxVX),
		VY:           t.x.AtVec(idxVY),
		Rotation:     t.x.AtVec(idxRot),
		Predicted:    t.missed > 0,
		MissedFrames: t.missed,
	}
}

// Covariance returns a copy of the 8×8 error covariance.
func (t *MarkerTrack) Covariance() *mat.Dense {
	return mat.DenseCopyOf(t.p)
}
