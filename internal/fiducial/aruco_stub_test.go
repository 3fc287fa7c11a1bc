//go:build !withcv

package fiducial

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArucoDetector_UnavailableWithoutOpenCV(t *testing.T) {
	t.Parallel()

	d, err := NewArucoDetector()
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrDetectorUnavailable)
}
