package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pulsestore/errors"
)

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry("reports.nightly", "cleanup.tmp")
	require.NoError(t, err)

	assert.True(t, reg.Has("reports.nightly"))
	assert.False(t, reg.Has("unknown"))
	assert.Equal(t, []string{"cleanup.tmp", "reports.nightly"}, reg.Names())

	require.NoError(t, reg.Register("mail.digest"))
	assert.True(t, reg.Has("mail.digest"))

	err = reg.Register("reports.nightly")
	assert.True(t, errors.Is(err, errors.ErrConflict))
	assert.Error(t, reg.Register(""))

	_, err = NewRegistry("a", "a")
	assert.True(t, errors.Is(err, errors.ErrConflict))
}
