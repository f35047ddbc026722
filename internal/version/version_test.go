package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoString(t *testing.T) {
	info := Info{Version: "dev", CommitHash: "0123456789abcdef", BuildTime: "unknown"}
	assert.Equal(t, "pulsestore dev (commit 0123456, built unknown)", info.String())
	_, err := info.Semver()
	assert.Error(t, err)

	info.Version = "v1.2.3"
	v, err := info.Semver()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v.Major())
	assert.Equal(t, "pulsestore v1.2.3 (commit 0123456, built unknown)", info.String())

	assert.Equal(t, "abc", Info{CommitHash: "abc"}.Short())
}

func TestGet(t *testing.T) {
	info := Get()
	assert.Equal(t, "1.0.0", info.DefinitionVersion)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}
