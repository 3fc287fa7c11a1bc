package monitoring

import (
	"io"
	"log"
	"sync"
)

// LogWriters holds the io.Writers for the monitoring log streams. The debug
// pages are polled, so per-request lines go to Trace rather than Diag.
type LogWriters struct {
	Ops   io.Writer
	Trace io.Writer
}

var (
	mu          sync.RWMutex
	opsLogger   *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the monitoring log streams. Pass nil for any
// writer to disable that stream.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	opsLogger = newLogger(w.Ops)
	traceLogger = newLogger(w.Trace)
}

func newLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "[monitoring] ", log.LstdFlags|log.Lmicroseconds)
}

func logf(l **log.Logger, format string, args ...interface{}) {
	mu.RLock()
	lg := *l
	mu.RUnlock()
	if lg != nil {
		lg.Printf(format, args...)
	}
}

// opsf logs render and store failures behind a debug route.
func opsf(format string, args ...interface{}) { logf(&opsLogger, format, args...) }

// tracef logs each served debug view.
func tracef(format string, args ...interface{}) { logf(&traceLogger, format, args...) }
