// Package capture supplies raw camera frames to the tracking loop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
)

var (
	// ErrNoFrame is returned when a source has nothing to deliver right now.
	// Callers retry after a short pause.
	ErrNoFrame = errors.New("capture: no frame available")
	// ErrCameraUnavailable is returned by OpenCamera in builds without
	// OpenCV support.
	ErrCameraUnavailable = errors.New("capture: camera support not compiled in (build with -tags withcv)")
	// ErrClosed is returned by Read after Close.
	ErrClosed = errors.New("capture: source closed")
)

// Source yields raw frames. Implementations must be safe for concurrent
// Read calls: the tracking loop and the protocol server both read.
type Source interface {
	Read(ctx context.Context) (image.Image, error)
	Size() image.Point
	Close() error
}

// Sequence replays a fixed list of frames, looping at the end.
type Sequence struct {
	mu     sync.Mutex
	frames []image.Image
	next   int
	closed bool
}

// NewSequence returns a looping source over frames. All frames must share
// the size of the first one.
func NewSequence(frames ...image.Image) (*Sequence, error) {
	if len(frames) == 0 {
		return nil, errors.New("capture: empty frame sequence")
	}
	size := frames[0].Bounds().Size()
	for i, f := range frames[1:] {
		if f.Bounds().Size() != size {
			return nil, fmt.Errorf("capture: frame %d is %v, want %v", i+1, f.Bounds().Size(), size)
		}
	}
	return &Sequence{frames: frames}, nil
}

// Still returns a source that always yields img.
func Still(img image.Image) *Sequence {
	return &Sequence{frames: []image.Image{img}}
}

// OpenStill loads path as a still source. A directory is loaded as a
// looping sequence of its images in name order.
func OpenStill(path string) (*Sequence, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	if !info.IsDir() {
		img, err := imaging.Open(path)
		if err != nil {
			return nil, fmt.Errorf("capture: open %s: %w", path, err)
		}
		return Still(img), nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("capture: read dir %s: %w", path, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".gif":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	frames := make([]image.Image, 0, len(names))
	for _, n := range names {
		img, err := imaging.Open(filepath.Join(path, n))
		if err != nil {
			return nil, fmt.Errorf("capture: open %s: %w", n, err)
		}
		frames = append(frames, img)
	}
	return NewSequence(frames...)
}

func (s *Sequence) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	f := s.frames[s.next]
	s.next = (s.next + 1) % len(s.frames)
	return f, nil
}

func (s *Sequence) Size() image.Point {
	return s.frames[0].Bounds().Size()
}

// Len returns the number of frames in the loop.
func (s *Sequence) Len() int { return len(s.frames) }

func (s *Sequence) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
