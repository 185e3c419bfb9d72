package mpcstep_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
)

func TestRemapError(t *testing.T) {
	tests := []struct {
		name string
		code engine.Code
		want error
	}{
		{"bad argument", engine.CodeBadArgument, mpcstep.ErrBadArgument},
		{"format", engine.CodeFormat, mpcstep.ErrFormat},
		{"buffer too small", engine.CodeBufferTooSmall, mpcstep.ErrBufferTooSmall},
		{"crypto", engine.CodeCrypto, mpcstep.ErrCryptoFault},
		{"unknown code", engine.Code(0xff7f0001), mpcstep.ErrCryptoFault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := engine.Errorf("sign", tt.code, "detail")
			err := mpcstep.RemapError(orig)
			require.ErrorIs(t, err, tt.want)

			var ce *engine.CodeError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.code, ce.Code)
		})
	}
}

func TestRemapErrorPassThrough(t *testing.T) {
	assert.NoError(t, mpcstep.RemapError(nil))

	err := mpcstep.RemapError(mpcstep.ErrNotBuilt)
	assert.Same(t, mpcstep.ErrNotBuilt, err)

	plain := errors.New("out of memory")
	err = mpcstep.RemapError(plain)
	require.ErrorIs(t, err, mpcstep.ErrCryptoFault)
	require.ErrorIs(t, err, plain)
}

func TestAlreadyFinishedIsMisuse(t *testing.T) {
	assert.ErrorIs(t, mpcstep.ErrAlreadyFinished, mpcstep.ErrProtocolMisuse)
	assert.NotErrorIs(t, mpcstep.ErrProtocolMisuse, mpcstep.ErrAlreadyFinished)
}

func TestErrorMessage(t *testing.T) {
	err := &mpcstep.Error{Op: "step", Err: mpcstep.ErrClosed}
	assert.Equal(t, "mpcstep.step: mpcstep: protocol misuse: closed", err.Error())
	assert.ErrorIs(t, err, mpcstep.ErrClosed)
	assert.ErrorIs(t, err, mpcstep.ErrProtocolMisuse)
}
