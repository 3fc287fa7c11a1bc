package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for calibration, tracking
// and flow-map rendering. Every field is optional; the Get* accessors fall
// back to built-in defaults so partial files are safe.
type TuningConfig struct {
	// Calibration params
	PoolShape         *string  `json:"pool_shape,omitempty"` // "circle" or "rectangle"
	WorldRadius       *float64 `json:"world_radius,omitempty"`
	HorizonOffset     *float64 `json:"horizon_offset,omitempty"`
	MaxDimension      *int     `json:"max_dimension,omitempty"`
	CalibrationPoints *int     `json:"calibration_points,omitempty"`
	JetCount          *int     `json:"jet_count,omitempty"`
	RadiusMargin      *float64 `json:"radius_margin,omitempty"`

	// Tracker params
	FixedMarkerIDs    []int    `json:"fixed_marker_ids,omitempty"`
	MaxMissedFrames   *int     `json:"max_missed_frames,omitempty"`
	ProcessNoise      *float64 `json:"process_noise,omitempty"`
	MeasurementNoise  *float64 `json:"measurement_noise,omitempty"`
	InitialCovariance *float64 `json:"initial_covariance,omitempty"`

	// Flow map params
	BrushRadius        *int     `json:"brush_radius,omitempty"`
	DecayFactor        *float64 `json:"decay_factor,omitempty"`
	VelocityWindow     *int     `json:"velocity_window,omitempty"`
	VelocityPercentile *float64 `json:"velocity_percentile,omitempty"`
	MinVelocitySamples *int     `json:"min_velocity_samples,omitempty"`
	InitialMaxVelocity *float64 `json:"initial_max_velocity,omitempty"`
	SampleFrames       *int     `json:"sample_frames,omitempty"`
	SpeedThreshold     *float64 `json:"speed_threshold,omitempty"`
	TrailJumpPixels    *float64 `json:"trail_jump_pixels,omitempty"`
	TrailStepPixels    *float64 `json:"trail_step_pixels,omitempty"`
	BlurSigma          *float64 `json:"blur_sigma,omitempty"`
	BlurPasses         *int     `json:"blur_passes,omitempty"`
	AccumulateWeight   *float64 `json:"accumulate_weight,omitempty"`
	EmitInterval       *int     `json:"emit_interval,omitempty"`

	// Water jet params
	JetSteps        *int     `json:"jet_steps,omitempty"`
	JetLengthScale  *float64 `json:"jet_length_scale,omitempty"`
	JetMinIntensity *float64 `json:"jet_min_intensity,omitempty"`

	// Loop params
	FrameInterval *string `json:"frame_interval,omitempty"` // duration string like "30ms"
	ReadRetry     *string `json:"read_retry,omitempty"`
	ErrorBackoff  *string `json:"error_backoff,omitempty"`
	StopWait      *string `json:"stop_wait,omitempty"`
	RecordQueue   *int    `json:"record_queue,omitempty"` // pending record-store writes per session

	// Transport params
	JPEGQuality         *int    `json:"jpeg_quality,omitempty"`
	PreviewMaxDimension *int    `json:"preview_max_dimension,omitempty"`
	ListenAddress       *string `json:"listen_address,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	return &TuningConfig{
		PoolShape:           ptrString(e.GetPoolShape()),
		WorldRadius:         ptrFloat64(e.GetWorldRadius()),
		HorizonOffset:       ptrFloat64(e.GetHorizonOffset()),
		MaxDimension:        ptrInt(e.GetMaxDimension()),
		CalibrationPoints:   ptrInt(e.GetCalibrationPoints()),
		JetCount:            ptrInt(e.GetJetCount()),
		RadiusMargin:        ptrFloat64(e.GetRadiusMargin()),
		FixedMarkerIDs:      e.GetFixedMarkerIDs(),
		MaxMissedFrames:     ptrInt(e.GetMaxMissedFrames()),
		ProcessNoise:        ptrFloat64(e.GetProcessNoise()),
		MeasurementNoise:    ptrFloat64(e.GetMeasurementNoise()),
		InitialCovariance:   ptrFloat64(e.GetInitialCovariance()),
		BrushRadius:         ptrInt(e.GetBrushRadius()),
		DecayFactor:         ptrFloat64(e.GetDecayFactor()),
		VelocityWindow:      ptrInt(e.GetVelocityWindow()),
		VelocityPercentile:  ptrFloat64(e.GetVelocityPercentile()),
		MinVelocitySamples:  ptrInt(e.GetMinVelocitySamples()),
		InitialMaxVelocity:  ptrFloat64(e.GetInitialMaxVelocity()),
		SampleFrames:        ptrInt(e.GetSampleFrames()),
		SpeedThreshold:      ptrFloat64(e.GetSpeedThreshold()),
		TrailJumpPixels:     ptrFloat64(e.GetTrailJumpPixels()),
		TrailStepPixels:     ptrFloat64(e.GetTrailStepPixels()),
		BlurSigma:           ptrFloat64(e.GetBlurSigma()),
		BlurPasses:          ptrInt(e.GetBlurPasses()),
		AccumulateWeight:    ptrFloat64(e.GetAccumulateWeight()),
		EmitInterval:        ptrInt(e.GetEmitInterval()),
		JetSteps:            ptrInt(e.GetJetSteps()),
		JetLengthScale:      ptrFloat64(e.GetJetLengthScale()),
		JetMinIntensity:     ptrFloat64(e.GetJetMinIntensity()),
		FrameInterval:       ptrString("30ms"),
		ReadRetry:           ptrString("100ms"),
		ErrorBackoff:        ptrString("1s"),
		StopWait:            ptrString("100ms"),
		RecordQueue:         ptrInt(e.GetRecordQueue()),
		JPEGQuality:         ptrInt(e.GetJPEGQuality()),
		PreviewMaxDimension: ptrInt(e.GetPreviewMaxDimension()),
		ListenAddress:       ptrString(e.GetListenAddress()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/<pkg>/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.PoolShape != nil {
		switch *c.PoolShape {
		case "circle", "rectangle":
		default:
			return fmt.Errorf("pool_shape must be \"circle\" or \"rectangle\", got %q", *c.PoolShape)
		}
	}

	if c.WorldRadius != nil && *c.WorldRadius <= 0 {
		return fmt.Errorf("world_radius must be positive, got %f", *c.WorldRadius)
	}

	if c.MaxDimension != nil && *c.MaxDimension <= 0 {
		return fmt.Errorf("max_dimension must be positive, got %d", *c.MaxDimension)
	}

	if c.CalibrationPoints != nil && *c.CalibrationPoints != 4 {
		return fmt.Errorf("calibration_points must be 4, got %d", *c.CalibrationPoints)
	}

	// Rectangle fitting needs strictly more than four points.
	if c.JetCount != nil && *c.JetCount <= 4 {
		return fmt.Errorf("jet_count must be greater than 4, got %d", *c.JetCount)
	}

	for name, v := range map[string]*float64{
		"radius_margin":     c.RadiusMargin,
		"decay_factor":      c.DecayFactor,
		"accumulate_weight": c.AccumulateWeight,
		"jet_min_intensity": c.JetMinIntensity,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}

	if c.VelocityPercentile != nil && (*c.VelocityPercentile <= 0 || *c.VelocityPercentile > 100) {
		return fmt.Errorf("velocity_percentile must be in (0, 100], got %f", *c.VelocityPercentile)
	}

	for name, v := range map[string]*int{
		"max_missed_frames": c.MaxMissedFrames,
		"brush_radius":      c.BrushRadius,
		"velocity_window":   c.VelocityWindow,
		"sample_frames":     c.SampleFrames,
		"blur_passes":       c.BlurPasses,
		"emit_interval":     c.EmitInterval,
		"jet_steps":         c.JetSteps,
		"record_queue":      c.RecordQueue,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, *v)
		}
	}

	if c.JPEGQuality != nil && (*c.JPEGQuality < 1 || *c.JPEGQuality > 100) {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", *c.JPEGQuality)
	}

	for name, v := range map[string]*string{
		"frame_interval": c.FrameInterval,
		"read_retry":     c.ReadRetry,
		"error_backoff":  c.ErrorBackoff,
		"stop_wait":      c.StopWait,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetPoolShape returns the pool_shape value or the default.
func (c *TuningConfig) GetPoolShape() string {
	if c.PoolShape == nil {
		return "circle" // default
	}
	return *c.PoolShape
}

// GetWorldRadius returns the world half-extent in metres.
func (c *TuningConfig) GetWorldRadius() float64 {
	if c.WorldRadius == nil {
		return 2.5 // default
	}
	return *c.WorldRadius
}

// GetHorizonOffset returns the horizontal outward offset (pixels) applied
// to the circle source quad.
func (c *TuningConfig) GetHorizonOffset() float64 {
	if c.HorizonOffset == nil {
		return 50 // default
	}
	return *c.HorizonOffset
}

// GetMaxDimension returns the cap on the long edge of warped and canvas images.
func (c *TuningConfig) GetMaxDimension() int {
	if c.MaxDimension == nil {
		return 1024 // default
	}
	return *c.MaxDimension
}

// GetCalibrationPoints returns the number of reference points for the transform.
func (c *TuningConfig) GetCalibrationPoints() int {
	if c.CalibrationPoints == nil {
		return 4 // default
	}
	return *c.CalibrationPoints
}

// GetJetCount returns the number of water-jet vectors.
func (c *TuningConfig) GetJetCount() int {
	if c.JetCount == nil {
		return 6 // default
	}
	return *c.JetCount
}

// GetRadiusMargin returns the fraction of the max radius used when a circle fit overflows.
func (c *TuningConfig) GetRadiusMargin() float64 {
	if c.RadiusMargin == nil {
		return 0.95 // default
	}
	return *c.RadiusMargin
}

// GetFixedMarkerIDs returns the static landmark marker IDs that are never tracked.
func (c *TuningConfig) GetFixedMarkerIDs() []int {
	if c.FixedMarkerIDs == nil {
		return []int{11, 12, 13, 14, 16, 17} // default
	}
	return append([]int(nil), c.FixedMarkerIDs...)
}

// GetMaxMissedFrames returns the number of missed frames a track survives.
func (c *TuningConfig) GetMaxMissedFrames() int {
	if c.MaxMissedFrames == nil {
		return 30 // default
	}
	return *c.MaxMissedFrames
}

// GetProcessNoise returns the Kalman process noise scale.
func (c *TuningConfig) GetProcessNoise() float64 {
	if c.ProcessNoise == nil {
		return 0.01 // default
	}
	return *c.ProcessNoise
}

// GetMeasurementNoise returns the Kalman measurement noise scale.
func (c *TuningConfig) GetMeasurementNoise() float64 {
	if c.MeasurementNoise == nil {
		return 0.1 // default
	}
	return *c.MeasurementNoise
}

// GetInitialCovariance returns the initial error covariance scale.
func (c *TuningConfig) GetInitialCovariance() float64 {
	if c.InitialCovariance == nil {
		return 1.0 // default
	}
	return *c.InitialCovariance
}

// GetBrushRadius returns the trail brush radius in canvas pixels.
func (c *TuningConfig) GetBrushRadius() int {
	if c.BrushRadius == nil {
		return 20 // default
	}
	return *c.BrushRadius
}

// GetDecayFactor returns the fraction of the canvas retained per update.
func (c *TuningConfig) GetDecayFactor() float64 {
	if c.DecayFactor == nil {
		return 0.95 // default
	}
	return *c.DecayFactor
}

// GetVelocityWindow returns the global velocity history length.
func (c *TuningConfig) GetVelocityWindow() int {
	if c.VelocityWindow == nil {
		return 30 // default
	}
	return *c.VelocityWindow
}

// GetVelocityPercentile returns the percentile used as the velocity ceiling.
func (c *TuningConfig) GetVelocityPercentile() float64 {
	if c.VelocityPercentile == nil {
		return 95 // default
	}
	return *c.VelocityPercentile
}

// GetMinVelocitySamples returns how many samples must be exceeded before
// the velocity ceiling adapts.
func (c *TuningConfig) GetMinVelocitySamples() int {
	if c.MinVelocitySamples == nil {
		return 10 // default
	}
	return *c.MinVelocitySamples
}

// GetInitialMaxVelocity returns the velocity ceiling used before it adapts.
func (c *TuningConfig) GetInitialMaxVelocity() float64 {
	if c.InitialMaxVelocity == nil {
		return 0.5 // default
	}
	return *c.InitialMaxVelocity
}

// GetSampleFrames returns the per-marker history length and warm-up frame count.
func (c *TuningConfig) GetSampleFrames() int {
	if c.SampleFrames == nil {
		return 30 // default
	}
	return *c.SampleFrames
}

// GetSpeedThreshold returns the average speed below which a marker is not drawn.
func (c *TuningConfig) GetSpeedThreshold() float64 {
	if c.SpeedThreshold == nil {
		return 0.01 // default
	}
	return *c.SpeedThreshold
}

// GetTrailJumpPixels returns the segment length above which only endpoints are drawn.
func (c *TuningConfig) GetTrailJumpPixels() float64 {
	if c.TrailJumpPixels == nil {
		return 50 // default
	}
	return *c.TrailJumpPixels
}

// GetTrailStepPixels returns the spacing of interpolated brush stamps.
func (c *TuningConfig) GetTrailStepPixels() float64 {
	if c.TrailStepPixels == nil {
		return 2 // default
	}
	return *c.TrailStepPixels
}

// GetBlurSigma returns the Gaussian sigma of each blur pass.
func (c *TuningConfig) GetBlurSigma() float64 {
	if c.BlurSigma == nil {
		return 5.0 // default; equivalent to a 31x31 kernel
	}
	return *c.BlurSigma
}

// GetBlurPasses returns the number of blur passes per update.
func (c *TuningConfig) GetBlurPasses() int {
	if c.BlurPasses == nil {
		return 3 // default
	}
	return *c.BlurPasses
}

// GetAccumulateWeight returns the weight of the canvas when blending into the accumulated map.
func (c *TuningConfig) GetAccumulateWeight() float64 {
	if c.AccumulateWeight == nil {
		return 0.5 // default
	}
	return *c.AccumulateWeight
}

// GetEmitInterval returns the frame interval between flow-map transmissions.
func (c *TuningConfig) GetEmitInterval() int {
	if c.EmitInterval == nil {
		return 30 // default
	}
	return *c.EmitInterval
}

// GetRecordQueue returns how many record-store writes a session may have
// pending before further writes are dropped.
func (c *TuningConfig) GetRecordQueue() int {
	if c.RecordQueue == nil {
		return 64 // default
	}
	return *c.RecordQueue
}

// GetJetSteps returns the number of brush stamps per jet.
func (c *TuningConfig) GetJetSteps() int {
	if c.JetSteps == nil {
		return 100 // default
	}
	return *c.JetSteps
}

// GetJetLengthScale returns the jet length as a fraction of the canvas size.
func (c *TuningConfig) GetJetLengthScale() float64 {
	if c.JetLengthScale == nil {
		return 0.4 // default
	}
	return *c.JetLengthScale
}

// GetJetMinIntensity returns the intensity at the far end of a jet.
func (c *TuningConfig) GetJetMinIntensity() float64 {
	if c.JetMinIntensity == nil {
		return 0.1 // default
	}
	return *c.JetMinIntensity
}

// GetFrameInterval parses and returns the tracking loop pacing sleep.
func (c *TuningConfig) GetFrameInterval() time.Duration {
	return durationOr(c.FrameInterval, 30*time.Millisecond)
}

// GetReadRetry parses and returns the pause after a failed frame read.
func (c *TuningConfig) GetReadRetry() time.Duration {
	return durationOr(c.ReadRetry, 100*time.Millisecond)
}

// GetErrorBackoff parses and returns the pause after a failed iteration.
func (c *TuningConfig) GetErrorBackoff() time.Duration {
	return durationOr(c.ErrorBackoff, time.Second)
}

// GetStopWait parses and returns how long a superseded session is given to exit.
func (c *TuningConfig) GetStopWait() time.Duration {
	return durationOr(c.StopWait, 100*time.Millisecond)
}

// GetJPEGQuality returns the JPEG quality for transmitted images.
func (c *TuningConfig) GetJPEGQuality() int {
	if c.JPEGQuality == nil {
		return 90 // default
	}
	return *c.JPEGQuality
}

// GetPreviewMaxDimension returns the long-edge cap for transmitted camera
// frames; 0 disables scaling.
func (c *TuningConfig) GetPreviewMaxDimension() int {
	if c.PreviewMaxDimension == nil {
		return 1280 // default
	}
	return *c.PreviewMaxDimension
}

// GetListenAddress returns the TCP address of the flow-map server.
func (c *TuningConfig) GetListenAddress() string {
	if c.ListenAddress == nil || *c.ListenAddress == "" {
		return ":8888" // default
	}
	return *c.ListenAddress
}
