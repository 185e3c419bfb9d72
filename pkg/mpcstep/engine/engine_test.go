package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagsHas(t *testing.T) {
	both := FlagFinished | FlagChanged
	assert.True(t, both.Has(FlagFinished))
	assert.True(t, both.Has(FlagChanged))
	assert.False(t, FlagChanged.Has(FlagFinished))
	assert.False(t, Flags(0).Has(FlagChanged))
}

func TestCodeError(t *testing.T) {
	err := Errorf("step", CodeFormat, "truncated message (%d bytes)", 3)

	var ce *CodeError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, CodeFormat, ce.Code)
	assert.Equal(t, "engine step: format: truncated message (3 bytes)", err.Error())
	assert.Equal(t, "code 0x00000007", Code(7).String())
}
