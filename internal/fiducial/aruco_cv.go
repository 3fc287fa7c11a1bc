//go:build withcv
// +build withcv

package fiducial

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/banshee-data/poolflow/internal/geometry"
)

// ArucoDetector wraps the OpenCV ArUco detector for DICT_4X4_50 with an
// adaptive threshold window sweep of 3..40 in steps of 2.
type ArucoDetector struct {
	mu       sync.Mutex
	dict     gocv.ArucoDictionary
	params   gocv.ArucoDetectorParameters
	detector gocv.ArucoDetector
}

// NewArucoDetector returns a ready detector. Close releases it.
func NewArucoDetector() (*ArucoDetector, error) {
	dict := gocv.GetPredefinedDictionary(gocv.ArucoDict4x4_50)
	params := gocv.NewArucoDetectorParameters()
	params.SetAdaptiveThreshWinSizeMin(3)
	params.SetAdaptiveThreshWinSizeMax(40)
	params.SetAdaptiveThreshWinSizeStep(2)
	return &ArucoDetector{
		dict:     dict,
		params:   params,
		detector: gocv.NewArucoDetectorWithParams(dict, params),
	}, nil
}

// Detect converts img to grey and runs marker detection.
func (a *ArucoDetector) Detect(img image.Image) ([]Detection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	corners, ids, _ := a.detector.DetectMarkers(gray)
	out := make([]Detection, 0, len(ids))
	for i, id := range ids {
		if i >= len(corners) || len(corners[i]) != 4 {
			continue
		}
		d := Detection{ID: id}
		for j, c := range corners[i] {
			d.Corners[j] = geometry.Pt(float64(c.X), float64(c.Y))
		}
		out = append(out, d)
	}
	return out, nil
}

func (a *ArucoDetector) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detector.Close()
	return nil
}
