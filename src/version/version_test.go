package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetBuildInfo(t *testing.T) {
	Version = "v0.0.1-test"
	defer func() { Version = "unknown" }()

	info := GetBuildInfo()
	assert.Equal(t, "v0.0.1-test", info["version"])
	assert.Equal(t, "unknown", info["commit"])
	assert.NotEmpty(t, info["go_version"])
}
