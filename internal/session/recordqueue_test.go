package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/poolflow/internal/tracking"
)

func TestRecordQueue_DrainsBeforeStop(t *testing.T) {
	t.Parallel()
	rec := &stallingRecorder{fakeRecorder: newFakeRecorder(), release: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	q := newRecordQueue(ctx, "s1", rec, 2)
	cancel()

	poses := []tracking.Pose{{MarkerID: 3}}
	// First job is taken by the stalled writer, the next two fill the queue.
	require.True(t, q.poses(Output{FrameIndex: 1, Poses: poses}))
	require.Eventually(t, func() bool { return len(q.jobs) == 0 }, 5*time.Second, time.Millisecond)
	require.True(t, q.poses(Output{FrameIndex: 2, Poses: poses}))
	require.True(t, q.snapshot(2, 0.4, []byte{0xff, 0xd8}))
	assert.False(t, q.poses(Output{FrameIndex: 3, Poses: poses}))
	assert.Equal(t, uint64(1), q.dropped.Load())

	closed := make(chan struct{})
	go func() {
		q.close(epoch)
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("close returned before the backlog was written")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Empty(t, rec.stoppedIDs())

	close(rec.release)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not return")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	// Writes after cancel still land.
	assert.Equal(t, 2, rec.poses["s1"])
	assert.Equal(t, []int{2}, rec.snapshots)
	assert.Equal(t, []string{"s1"}, rec.stopped)
	assert.Equal(t, uint64(3), q.written.Load())
}

func TestRecordQueue_MinimumSize(t *testing.T) {
	t.Parallel()
	q := newRecordQueue(context.Background(), "s2", newFakeRecorder(), 0)
	assert.Equal(t, 1, cap(q.jobs))
	q.close(epoch)
}
