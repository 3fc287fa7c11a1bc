//go:build !withcv
// +build !withcv

package fiducial

import "image"

// ArucoDetector is unavailable without OpenCV; every call fails with
// ErrDetectorUnavailable.
type ArucoDetector struct{}

// NewArucoDetector reports ErrDetectorUnavailable.
func NewArucoDetector() (*ArucoDetector, error) {
	return nil, ErrDetectorUnavailable
}

func (a *ArucoDetector) Detect(image.Image) ([]Detection, error) {
	return nil, ErrDetectorUnavailable
}

func (a *ArucoDetector) Close() error { return nil }
