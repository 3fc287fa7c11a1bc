package monitoring

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Not parallel: the loggers are package state.
func TestSetLogWriters(t *testing.T) {
	defer SetLogWriters(LogWriters{})

	var ops, trace bytes.Buffer
	SetLogWriters(LogWriters{Ops: &ops, Trace: &trace})
	opsf("render %s: %v", "velocity", "boom")
	tracef("served %s", "/debug/flowmap.jpg")
	assert.Contains(t, ops.String(), "[monitoring] render velocity: boom")
	assert.Contains(t, trace.String(), "[monitoring] served /debug/flowmap.jpg")

	ops.Reset()
	SetLogWriters(LogWriters{Trace: &trace})
	assert.NotPanics(t, func() { opsf("dropped %d", 1) })
	assert.Empty(t, ops.String())
}
