package session

import (
	"image"
	"sync"

	"github.com/banshee-data/poolflow/internal/tracking"
)

// Output is the result of processing one frame.
type Output struct {
	Frame       image.Image // annotated warped frame
	Canvas      *image.NRGBA
	Accumulated *image.NRGBA
	Poses       []tracking.Pose
	FrameIndex  int
	MaxVelocity float64
}

// Mailbox is a single-slot, latest-value handoff between the tracking loop
// and its readers. Publish never blocks; readers that fall behind only see
// the newest output.
type Mailbox struct {
	mu      sync.RWMutex
	latest  Output
	has     bool
	updates chan struct{}
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{updates: make(chan struct{}, 1)}
}

// Publish replaces the stored output and signals Updates.
func (m *Mailbox) Publish(out Output) {
	m.mu.Lock()
	m.latest = out
	m.has = true
	m.mu.Unlock()

	select {
	case m.updates <- struct{}{}:
	default:
	}
}

// Latest returns the most recent output, if any.
func (m *Mailbox) Latest() (Output, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.has
}

// Updates receives a value after each Publish. Notifications coalesce: a
// reader that wakes once may have missed several publishes.
func (m *Mailbox) Updates() <-chan struct{} {
	return m.updates
}
