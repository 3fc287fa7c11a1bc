//go:build !withcv
// +build !withcv

package capture

import (
	"context"
	"image"
)

// Camera is unavailable without OpenCV; use OpenStill instead.
type Camera struct{}

// OpenCamera always fails in builds without the withcv tag.
func OpenCamera(device int) (*Camera, error) {
	return nil, ErrCameraUnavailable
}

func (c *Camera) Read(context.Context) (image.Image, error) { return nil, ErrCameraUnavailable }

func (c *Camera) Size() image.Point { return image.Point{} }

func (c *Camera) Close() error { return nil }
