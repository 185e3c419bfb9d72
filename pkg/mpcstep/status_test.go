package mpcstep

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
)

func TestStatusFromFlags(t *testing.T) {
	assert.Equal(t, Status{}, statusFromFlags(0))
	assert.Equal(t, Status{Finished: true}, statusFromFlags(engine.FlagFinished))
	assert.Equal(t, Status{Changed: true}, statusFromFlags(engine.FlagChanged))
	assert.Equal(t, Status{Changed: true, Finished: true}, statusFromFlags(engine.FlagFinished|engine.FlagChanged))
}

func TestZeroizeBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	ZeroizeBytes(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
	ZeroizeBytes(nil)
}
