package session

import (
	"time"

	"github.com/banshee-data/poolflow/internal/config"
	"github.com/banshee-data/poolflow/internal/flowmap"
	"github.com/banshee-data/poolflow/internal/tracking"
)

// Config holds the tracking-loop pacing and the per-session component
// configuration.
type Config struct {
	Tracker tracking.TrackerConfig
	FlowMap flowmap.Config

	FrameInterval time.Duration // pause between processed frames
	ReadRetry     time.Duration // pause after a failed capture read
	ErrorBackoff  time.Duration // pause after a failed frame
	StopWait      time.Duration // how long StartTracking waits for the previous session
	EmitInterval  int           // frames between flow-map emissions
	RecordQueue   int           // pending recorder writes before new ones are dropped
}

// DefaultConfig returns the session configuration loaded from the canonical
// tuning defaults file. Panics if the file cannot be found.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Tracker:       tracking.TrackerConfigFromTuning(cfg),
		FlowMap:       flowmap.ConfigFromTuning(cfg),
		FrameInterval: cfg.GetFrameInterval(),
		ReadRetry:     cfg.GetReadRetry(),
		ErrorBackoff:  cfg.GetErrorBackoff(),
		StopWait:      cfg.GetStopWait(),
		EmitInterval:  cfg.GetEmitInterval(),
		RecordQueue:   cfg.GetRecordQueue(),
	}
}
