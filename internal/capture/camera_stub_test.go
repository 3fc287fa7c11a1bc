//go:build !withcv
// +build !withcv

package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenCamera_Unavailable(t *testing.T) {
	_, err := OpenCamera(0)
	assert.ErrorIs(t, err, ErrCameraUnavailable)
}
