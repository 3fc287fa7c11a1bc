// Package fiducial detects ArUco markers (DICT_4X4_50) and merges the
// detections made on the raw and the perspective-corrected frames.
package fiducial

import (
	"errors"
	"image"
	"math"
	"sort"

	"github.com/banshee-data/poolflow/internal/geometry"
)

// ErrDetectorUnavailable is returned by detectors that were not compiled in.
var ErrDetectorUnavailable = errors.New("fiducial: marker detector unavailable (build with -tags withcv)")

// Detection is one marker observation. Corners are in image order: top-left,
// top-right, bottom-right, bottom-left of the marker's own frame.
type Detection struct {
	ID      int
	Corners [4]geometry.Point
}

// Detector finds markers in a frame.
type Detector interface {
	Detect(img image.Image) ([]Detection, error)
	Close() error
}

// Center returns the truncated mean of the marker corners.
func (d Detection) Center() image.Point {
	var sx, sy float64
	for _, c := range d.Corners {
		sx += c.X
		sy += c.Y
	}
	return image.Pt(int(sx/4), int(sy/4))
}

// Rotation returns the marker heading in degrees, measured from the
// top-right → bottom-right edge and negated so that counter-clockwise turns
// in image space are positive.
func (d Detection) Rotation() float64 {
	v := d.Corners[2].Sub(d.Corners[1])
	return -math.Atan2(v.Y, v.X) * 180 / math.Pi
}

// Transform maps every corner through h.
func (d Detection) Transform(h geometry.Homography) Detection {
	out := Detection{ID: d.ID}
	for i, c := range d.Corners {
		out.Corners[i] = h.Apply(c)
	}
	return out
}

// Merge combines detections from the warped frame with those from the raw
// frame. Warped detections win; a raw detection is kept only when its ID has
// not been seen yet and is then projected into warped space through h.
func Merge(warped, raw []Detection, h geometry.Homography) []Detection {
	seen := make(map[int]struct{}, len(warped)+len(raw))
	out := make([]Detection, 0, len(warped)+len(raw))
	for _, d := range warped {
		seen[d.ID] = struct{}{}
		out = append(out, d)
	}
	for _, d := range raw {
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = struct{}{}
		out = append(out, d.Transform(h))
	}
	return out
}

// IDs returns the sorted marker IDs of dets.
func IDs(dets []Detection) []int {
	ids := make([]int, len(dets))
	for i, d := range dets {
		ids[i] = d.ID
	}
	sort.Ints(ids)
	return ids
}

// StaticDetector returns a fixed set of detections for every frame. It
// stands in for the camera detector in tests and offline replays.
type StaticDetector struct {
	Detections []Detection
	Err        error
}

func (s *StaticDetector) Detect(image.Image) ([]Detection, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]Detection, len(s.Detections))
	copy(out, s.Detections)
	return out, nil
}

func (s *StaticDetector) Close() error { return nil }
