package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	orig := [3]string{Version, GitSHA, BuildTime}
	defer func() { Version, GitSHA, BuildTime = orig[0], orig[1], orig[2] }()

	assert.Equal(t, "poolflow dev (unknown, built unknown)", String("poolflow"))

	Version, GitSHA, BuildTime = "v0.3.0", "abc1234", "2025-06-01T12:00:00Z"
	assert.Equal(t, "poolflow v0.3.0 (abc1234, built 2025-06-01T12:00:00Z)", String("poolflow"))
}
