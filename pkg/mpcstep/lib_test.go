package mpcstep_test

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/logging"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/refengine"
)

func TestOpenSelectsEngine(t *testing.T) {
	lib := openLibrary(t)
	assert.Equal(t, mpcstep.EngineReference, lib.EngineName())
	assert.NotEmpty(t, lib.EngineVersion())

	_, err := mpcstep.Open(mpcstep.Config{Engine: "quantum"})
	require.ErrorIs(t, err, mpcstep.ErrBadArgument)

	_, err = mpcstep.Open(mpcstep.Config{Reference: refengine.Options{PaillierBits: 64}})
	require.ErrorIs(t, err, mpcstep.ErrBadArgument)
}

func TestOpenNativeWithoutBindings(t *testing.T) {
	if mpcstep.NativeVersion() != "" {
		t.Skip("native bindings are linked in")
	}
	_, err := mpcstep.Open(mpcstep.Config{Engine: mpcstep.EngineNative})
	require.ErrorIs(t, err, mpcstep.ErrNotBuilt)
}

func TestClosedLibrary(t *testing.T) {
	lib, err := mpcstep.Open(mpcstep.Config{Reference: refengine.Options{PaillierBits: 1024}})
	require.NoError(t, err)
	c1, c2 := pair(t, lib.NewGenerateEcdsaKeyContext)

	require.NoError(t, lib.Close())
	require.ErrorIs(t, lib.Close(), mpcstep.ErrLibraryClosed)

	_, err = lib.NewGenerateEcdsaKeyContext(mpcstep.RoleP1)
	require.ErrorIs(t, err, mpcstep.ErrLibraryClosed)
	_, err = lib.LoadShare([]byte{1})
	require.ErrorIs(t, err, mpcstep.ErrLibraryClosed)
	_, err = lib.VerifyEcdsa(nil, nil, nil)
	require.ErrorIs(t, err, mpcstep.ErrLibraryClosed)

	require.ErrorIs(t, mpcstep.Run(c1, c2), mpcstep.ErrLibraryClosed)
	require.NoError(t, c1.Close())
}

func TestStepsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf).Level(zerolog.DebugLevel)
	lib := openWith(t, mpcstep.Config{
		Reference: refengine.Options{PaillierBits: 1024},
		Logger:    logging.NewZerolog(zl),
	})
	c1, c2 := pair(t, lib.NewGenerateEddsaKeyContext)
	require.NoError(t, mpcstep.Run(c1, c2))

	out := buf.String()
	assert.Contains(t, out, `"engine":"reference"`)
	assert.Contains(t, out, `"kind":"generate-eddsa-key"`)
	assert.Contains(t, out, `"finished":true`)
}

func TestKindAndRole(t *testing.T) {
	assert.Equal(t, "ecdsa-sign", mpcstep.EcdsaSign.String())
	assert.Equal(t, "OperationKind(9)", mpcstep.OperationKind(9).String())
	assert.True(t, mpcstep.BackupEddsaKey.Valid())
	assert.False(t, mpcstep.OperationKind(9).Valid())
	assert.True(t, mpcstep.GenerateGenericSecret.IsKeyGeneration())
	assert.False(t, mpcstep.Refresh.IsKeyGeneration())
	assert.True(t, mpcstep.EddsaSign.IsSign())
	assert.True(t, mpcstep.BackupEcdsaKey.IsBackup())

	assert.Equal(t, mpcstep.RoleP2, mpcstep.RoleP1.Peer())
	assert.Equal(t, mpcstep.RoleP1, mpcstep.RoleP2.Peer())
	assert.Equal(t, "p2", mpcstep.RoleP2.String())
}

func TestVersions(t *testing.T) {
	assert.Equal(t, mpcstep.Version, mpcstep.WrapperVersion())
}
