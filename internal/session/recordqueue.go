package session

import (
	"context"
	"sync/atomic"
	"time"
)

type recordJob struct {
	kind string
	run  func(ctx context.Context) error
}

// recordQueue moves Recorder writes off the tracking loop. Jobs run in order
// on one writer goroutine; when the queue is full new jobs are dropped.
// close drains what is queued, records the session stop and returns once the
// writer has exited.
type recordQueue struct {
	id       string
	recorder Recorder
	jobs     chan recordJob
	done     chan struct{}
	dropped  atomic.Uint64
	written  atomic.Uint64
}

func newRecordQueue(ctx context.Context, id string, recorder Recorder, size int) *recordQueue {
	if size < 1 {
		size = 1
	}
	q := &recordQueue{
		id:       id,
		recorder: recorder,
		jobs:     make(chan recordJob, size),
		done:     make(chan struct{}),
	}
	// Queued writes still land after the session is cancelled.
	go q.run(context.WithoutCancel(ctx))
	return q
}

func (q *recordQueue) run(ctx context.Context) {
	defer close(q.done)
	for job := range q.jobs {
		if err := job.run(ctx); err != nil {
			opsf("session %s: record %s: %v", q.id, job.kind, err)
			continue
		}
		q.written.Add(1)
	}
}

// enqueue hands a job to the writer without blocking. It reports whether the
// job was accepted.
func (q *recordQueue) enqueue(kind string, run func(ctx context.Context) error) bool {
	select {
	case q.jobs <- recordJob{kind: kind, run: run}:
		return true
	default:
	}
	if n := q.dropped.Add(1); n == 1 || n%100 == 0 {
		opsf("session %s: record queue full, dropped %s (%d dropped so far)", q.id, kind, n)
	}
	return false
}

func (q *recordQueue) poses(out Output) bool {
	frameIndex, poses := out.FrameIndex, out.Poses
	return q.enqueue("poses", func(ctx context.Context) error {
		return q.recorder.RecordPoses(ctx, q.id, frameIndex, poses)
	})
}

func (q *recordQueue) snapshot(frameIndex int, maxVelocity float64, jpeg []byte) bool {
	return q.enqueue("snapshot", func(ctx context.Context) error {
		return q.recorder.RecordSnapshot(ctx, q.id, frameIndex, maxVelocity, jpeg)
	})
}

// close stops accepting jobs, waits for the backlog and records stoppedAt.
func (q *recordQueue) close(stoppedAt time.Time) {
	close(q.jobs)
	<-q.done
	if err := q.recorder.StopSession(context.Background(), q.id, stoppedAt); err != nil {
		opsf("session %s: record stop: %v", q.id, err)
	}
	diagf("session %s: %d records written, %d dropped", q.id, q.written.Load(), q.dropped.Load())
}
