package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	// Test that defaults are set via pointers
	if cfg.WorldRadius == nil || *cfg.WorldRadius != 2.5 {
		t.Errorf("Expected WorldRadius 2.5, got %v", cfg.WorldRadius)
	}
	if cfg.JetCount == nil || *cfg.JetCount != 6 {
		t.Errorf("Expected JetCount 6, got %v", cfg.JetCount)
	}
	if cfg.FrameInterval == nil || *cfg.FrameInterval != "30ms" {
		t.Errorf("Expected FrameInterval '30ms', got %v", cfg.FrameInterval)
	}
	if !reflect.DeepEqual(cfg.FixedMarkerIDs, []int{11, 12, 13, 14, 16, 17}) {
		t.Errorf("Expected fixed marker ids, got %v", cfg.FixedMarkerIDs)
	}

	// Test getter methods
	if cfg.GetDecayFactor() != 0.95 {
		t.Errorf("GetDecayFactor() = %f, want 0.95", cfg.GetDecayFactor())
	}
	if cfg.GetMaxDimension() != 1024 {
		t.Errorf("GetMaxDimension() = %d, want 1024", cfg.GetMaxDimension())
	}
	if cfg.GetFrameInterval() != 30*time.Millisecond {
		t.Errorf("GetFrameInterval() = %v, want 30ms", cfg.GetFrameInterval())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestEmptyTuningConfig_GettersReturnDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if cfg.GetPoolShape() != "circle" {
		t.Errorf("GetPoolShape() = %q, want circle", cfg.GetPoolShape())
	}
	if cfg.GetMaxMissedFrames() != 30 {
		t.Errorf("GetMaxMissedFrames() = %d, want 30", cfg.GetMaxMissedFrames())
	}
	if cfg.GetBrushRadius() != 20 {
		t.Errorf("GetBrushRadius() = %d, want 20", cfg.GetBrushRadius())
	}
	if cfg.GetVelocityPercentile() != 95 {
		t.Errorf("GetVelocityPercentile() = %f, want 95", cfg.GetVelocityPercentile())
	}
	if cfg.GetErrorBackoff() != time.Second {
		t.Errorf("GetErrorBackoff() = %v, want 1s", cfg.GetErrorBackoff())
	}
	if cfg.GetListenAddress() != ":8888" {
		t.Errorf("GetListenAddress() = %q, want :8888", cfg.GetListenAddress())
	}
	if cfg.GetRecordQueue() != 64 {
		t.Errorf("GetRecordQueue() = %d, want 64", cfg.GetRecordQueue())
	}
}

func TestGetFixedMarkerIDs_ReturnsCopy(t *testing.T) {
	cfg := &TuningConfig{FixedMarkerIDs: []int{1, 2}}
	ids := cfg.GetFixedMarkerIDs()
	ids[0] = 99
	if cfg.FixedMarkerIDs[0] != 1 {
		t.Error("GetFixedMarkerIDs should not expose the backing slice")
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "pool_shape": "rectangle",
  "world_radius": 3.0,
  "brush_radius": 12,
  "frame_interval": "40ms",
  "fixed_marker_ids": [5, 6]
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetPoolShape() != "rectangle" {
		t.Errorf("Expected pool_shape rectangle, got %q", cfg.GetPoolShape())
	}
	if cfg.GetWorldRadius() != 3.0 {
		t.Errorf("Expected world_radius 3.0, got %f", cfg.GetWorldRadius())
	}
	if cfg.GetBrushRadius() != 12 {
		t.Errorf("Expected brush_radius 12, got %d", cfg.GetBrushRadius())
	}
	if cfg.GetFrameInterval() != 40*time.Millisecond {
		t.Errorf("Expected frame_interval 40ms, got %v", cfg.GetFrameInterval())
	}
	if !reflect.DeepEqual(cfg.GetFixedMarkerIDs(), []int{5, 6}) {
		t.Errorf("Expected fixed ids [5 6], got %v", cfg.GetFixedMarkerIDs())
	}

	// Omitted fields fall back to defaults.
	if cfg.GetDecayFactor() != 0.95 {
		t.Errorf("Expected default decay 0.95, got %f", cfg.GetDecayFactor())
	}
}

func TestLoadTuningConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"wrong extension", "cfg.yaml", `{}`, ".json extension"},
		{"bad json", "bad.json", `{"world_radius":`, "failed to parse"},
		{"bad shape", "shape.json", `{"pool_shape":"hexagon"}`, "pool_shape"},
		{"bad duration", "dur.json", `{"frame_interval":"soon"}`, "frame_interval"},
		{"too few jets", "jets.json", `{"jet_count":4}`, "jet_count"},
		{"decay out of range", "decay.json", `{"decay_factor":1.5}`, "decay_factor"},
		{"quality out of range", "q.json", `{"jpeg_quality":0}`, "jpeg_quality"},
		{"negative record queue", "rq.json", `{"record_queue":-1}`, "record_queue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("write: %v", err)
			}
			_, err := LoadTuningConfig(path)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadTuningConfig_MissingFile(t *testing.T) {
	_, err := LoadTuningConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestMustLoadDefaultConfig_MatchesBuiltins(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	def := DefaultTuningConfig()

	if !reflect.DeepEqual(cfg, def) {
		t.Errorf("config/tuning.defaults.json drifted from built-in defaults:\nfile: %+v\nbuiltin: %+v", cfg, def)
	}
}

func TestGetDuration_InvalidFallsBack(t *testing.T) {
	bad := "nope"
	cfg := &TuningConfig{ReadRetry: &bad}
	if cfg.GetReadRetry() != 100*time.Millisecond {
		t.Errorf("GetReadRetry() = %v, want fallback 100ms", cfg.GetReadRetry())
	}
}
