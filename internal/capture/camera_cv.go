//go:build withcv
// +build withcv

package capture

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Camera reads frames from a V4L/AVFoundation device through OpenCV.
type Camera struct {
	mu   sync.Mutex
	dev  *gocv.VideoCapture
	mat  gocv.Mat
	size image.Point
}

// OpenCamera opens the numbered video device.
func OpenCamera(device int) (*Camera, error) {
	dev, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("capture: open device %d: %w", device, err)
	}
	if !dev.IsOpened() {
		dev.Close()
		return nil, fmt.Errorf("capture: device %d did not open", device)
	}
	w := int(dev.Get(gocv.VideoCaptureFrameWidth))
	h := int(dev.Get(gocv.VideoCaptureFrameHeight))
	return &Camera{dev: dev, mat: gocv.NewMat(), size: image.Pt(w, h)}, nil
}

func (c *Camera) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return nil, ErrClosed
	}
	if ok := c.dev.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, ErrNoFrame
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("capture: convert frame: %w", err)
	}
	return img, nil
}

func (c *Camera) Size() image.Point { return c.size }

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return nil
	}
	c.mat.Close()
	err := c.dev.Close()
	c.dev = nil
	return err
}
