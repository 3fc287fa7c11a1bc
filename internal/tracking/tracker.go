package tracking

import (
	"image"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/poolflow/internal/calibration"
	"github.com/banshee-data/poolflow/internal/config"
	"github.com/banshee-data/poolflow/internal/fiducial"
	"github.com/banshee-data/poolflow/internal/geometry"
	"github.com/banshee-data/poolflow/internal/timeutil"
)

// TrackerConfig holds configuration parameters for the marker tracker.
type TrackerConfig struct {
	Kalman         KalmanConfig
	FixedMarkerIDs []int // Reference markers that are drawn but never tracked
}

// DefaultTrackerConfig returns tracker configuration loaded from the
// canonical tuning defaults file (config/tuning.defaults.json).
// Panics if the file cannot be found.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfigFromTuning(config.MustLoadDefaultConfig())
}

// TrackerConfigFromTuning builds a TrackerConfig from a loaded TuningConfig.
func TrackerConfigFromTuning(cfg *config.TuningConfig) TrackerConfig {
	return TrackerConfig{
		Kalman: KalmanConfig{
			ProcessNoise:      cfg.GetProcessNoise(),
			MeasurementNoise:  cfg.GetMeasurementNoise(),
			InitialCovariance: cfg.GetInitialCovariance(),
			MaxMissedFrames:   cfg.GetMaxMissedFrames(),
		},
		FixedMarkerIDs: cfg.GetFixedMarkerIDs(),
	}
}

// Pose is the per-frame record of one live marker.
type Pose struct {
	MarkerID     int
	World        geometry.Point // metres
	Velocity     geometry.Point // metres/second
	Rotation     float64        // degrees
	Pixel        image.Point    // warped-image position used for display
	Predicted    bool
	MissedFrames int
	Timestamp    time.Time
}

// SampleSink receives the normalised position and world velocity of every
// live marker once per frame.
type SampleSink interface {
	AddSample(markerID int, x, y, vx, vy float64)
}

// Tracker keeps one MarkerTrack per floating marker ID.
type Tracker struct {
	mu     sync.Mutex
	config TrackerConfig
	clock  timeutil.Clock
	fixed  map[int]struct{}
	tracks map[int]*MarkerTrack
	sink   SampleSink
}

// NewTracker creates a tracker. sink may be nil.
func NewTracker(cfg TrackerConfig, clock timeutil.Clock, sink SampleSink) *Tracker {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	fixed := make(map[int]struct{}, len(cfg.FixedMarkerIDs))
	for _, id := range cfg.FixedMarkerIDs {
		fixed[id] = struct{}{}
	}
	return &Tracker{
		config: cfg,
		clock:  clock,
		fixed:  fixed,
		tracks: make(map[int]*MarkerTrack),
		sink:   sink,
	}
}

// IsFixed reports whether id is a reference marker.
func (t *Tracker) IsFixed(id int) bool {
	_, ok := t.fixed[id]
	return ok
}

// Update folds one frame of merged detections (warped-pixel space) into the
// track table. Detected markers are corrected, missing ones are predicted,
// and tracks missing for too long are dropped. It returns a pose for every
// live track, sorted by marker ID.
func (t *Tracker) Update(detections []fiducial.Detection, geom calibration.PoolGeometry) []Pose {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	wr := geom.WorldRadius()
	detected := make(map[int]struct{}, len(detections))
	poses := make([]Pose, 0, len(t.tracks)+len(detections))

	for _, d := range detections {
		if t.IsFixed(d.ID) {
			continue
		}
		if _, dup := detected[d.ID]; dup {
			continue
		}
		detected[d.ID] = struct{}{}

		c := d.Center()
		x, y := geom.ImageToWorld(float64(c.X), float64(c.Y))
		rot := d.Rotation()

		track, ok := t.tracks[d.ID]
		if !ok {
			track = NewMarkerTrack(d.ID, x, y, rot, now, t.config.Kalman)
			t.tracks[d.ID] = track
			diagf("marker %d: new track at (%.3f, %.3f)", d.ID, x, y)
		}
		s := track.Update(x, y, rot, now)
		if !isFinite(s) {
			opsf("marker %d: non-finite state after update, dropping track", d.ID)
			delete(t.tracks, d.ID)
			continue
		}
		poses = append(poses, t.emit(d.ID, s, c, now, wr))
	}

	for id, track := range t.tracks {
		if _, ok := detected[id]; ok {
			continue
		}
		s := track.Predict(now)
		if !isFinite(s) {
			opsf("marker %d: non-finite state after predict, dropping track", id)
			delete(t.tracks, id)
			continue
		}
		if !track.IsValid() {
			delete(t.tracks, id)
			diagf("marker %d: dropped after %d missed frames", id, s.MissedFrames)
			continue
		}
		u, v := geom.WorldToImage(s.X, s.Y)
		poses = append(poses, t.emit(id, s, image.Pt(int(u), int(v)), now, wr))
	}

	sort.Slice(poses, func(i, j int) bool { return poses[i].MarkerID < poses[j].MarkerID })
	tracef("frame: %d detections, %d live tracks", len(detections), len(poses))
	return poses
}

func isFinite(s MarkerState) bool {
	for _, v := range [...]float64{s.X, s.Y, s.VX, s.VY, s.Rotation} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (t *Tracker) emit(id int, s MarkerState, px image.Point, now time.Time, worldRadius float64) Pose {
	if t.sink != nil && worldRadius > 0 {
		t.sink.AddSample(id, s.X/worldRadius, s.Y/worldRadius, s.VX, s.VY)
	}
	return Pose{
		MarkerID:     id,
		World:        geometry.Pt(s.X, s.Y),
		Velocity:     geometry.Pt(s.VX, s.VY),
		Rotation:     s.Rotation,
		Pixel:        px,
		Predicted:    s.Predicted,
		MissedFrames: s.MissedFrames,
		Timestamp:    now,
	}
}

// Track returns the live track for id, if any.
func (t *Tracker) Track(id int) (*MarkerTrack, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.tracks[id]
	return tr, ok
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}

// Reset drops every track.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = make(map[int]*MarkerTrack)
}
