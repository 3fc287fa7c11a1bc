package main

import (
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/poolflow/internal/calibration"
	"github.com/banshee-data/poolflow/internal/capture"
	"github.com/banshee-data/poolflow/internal/config"
	"github.com/banshee-data/poolflow/internal/testutil"
)

func TestFlagDefaults(t *testing.T) {
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"config", *configPath, ""},
		{"listen", *listen, ""},
		{"http", *httpAddr, "127.0.0.1:8081"},
		{"db", *dbPath, "poolflow.db"},
		{"camera", *cameraIndex, 0},
		{"still", *stillPath, ""},
		{"shape", *shapeName, ""},
		{"diag-log", *diagLog, ""},
		{"trace", *traceLog, false},
		{"version", *showVersion, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestLoadTuning(t *testing.T) {
	t.Parallel()

	cfg, err := loadTuning("")
	require.NoError(t, err)
	assert.Equal(t, "circle", cfg.GetPoolShape())

	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"pool_shape":"rectangle","listen_address":":9999"}`), 0o644))
	cfg, err = loadTuning(path)
	require.NoError(t, err)
	assert.Equal(t, "rectangle", cfg.GetPoolShape())
	assert.Equal(t, ":9999", cfg.GetListenAddress())

	_, err = loadTuning(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestResolveShape(t *testing.T) {
	t.Parallel()
	rect := "rectangle"
	cfg := &config.TuningConfig{PoolShape: &rect}

	tests := []struct {
		name    string
		flag    string
		cfg     *config.TuningConfig
		want    calibration.Shape
		wantErr bool
	}{
		{"config default", "", config.EmptyTuningConfig(), calibration.ShapeCircle, false},
		{"config value", "", cfg, calibration.ShapeRectangle, false},
		{"flag overrides", "circle", cfg, calibration.ShapeCircle, false},
		{"bad flag", "hexagon", cfg, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveShape(tt.flag, tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenLogStreams(t *testing.T) {
	t.Parallel()

	s, closer, err := openLogStreams("", false)
	require.NoError(t, err)
	assert.Equal(t, os.Stderr, s.ops)
	assert.Equal(t, os.Stdout, s.diag)
	assert.Nil(t, s.trace)
	assert.NoError(t, closer())

	path := filepath.Join(t.TempDir(), "diag.log")
	s, closer, err = openLogStreams(path, true)
	require.NoError(t, err)
	assert.Same(t, s.diag, s.trace)
	_, err = s.diag.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	_, _, err = openLogStreams(filepath.Join(t.TempDir(), "no", "such", "dir", "diag.log"), false)
	assert.Error(t, err)
}

func TestOpenSource_Still(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "pool.png")
	require.NoError(t, imaging.Save(testutil.SolidImage(32, 24, color.White), path))

	src, err := openSource(path, 0)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, 32, src.Size().X)
	assert.Equal(t, 24, src.Size().Y)
	_, isSeq := src.(*capture.Sequence)
	assert.True(t, isSeq)
}

func TestVersionString(t *testing.T) {
	t.Parallel()
	v := versionString()
	assert.True(t, strings.HasPrefix(v, "poolflow "))
	assert.Contains(t, v, "dev")
}
