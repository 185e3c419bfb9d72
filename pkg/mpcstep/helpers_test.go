package mpcstep_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/refengine"
)

func newReference(t *testing.T) engine.Engine {
	t.Helper()
	e, err := refengine.New(refengine.Options{PaillierBits: 1024})
	require.NoError(t, err)
	return e
}

func openLibrary(t *testing.T) *mpcstep.Library {
	t.Helper()
	return openWith(t, mpcstep.Config{Reference: refengine.Options{PaillierBits: 1024}})
}

func openWith(t *testing.T, cfg mpcstep.Config) *mpcstep.Library {
	t.Helper()
	lib, err := mpcstep.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lib.Close() })
	return lib
}

// pair builds the RoleP1 and RoleP2 contexts of one operation and closes them
// when the test ends.
func pair(t *testing.T, newCtx func(mpcstep.Role) (*mpcstep.Context, error)) (*mpcstep.Context, *mpcstep.Context) {
	t.Helper()
	c1, err := newCtx(mpcstep.RoleP1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c1.Close() })
	c2, err := newCtx(mpcstep.RoleP2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c2.Close() })
	return c1, c2
}

func ecdsaKeys(t *testing.T, lib *mpcstep.Library) (share1, share2, pub []byte) {
	t.Helper()
	c1, c2 := pair(t, lib.NewGenerateEcdsaKeyContext)
	require.NoError(t, mpcstep.Run(c1, c2))
	return newShare(t, c1), newShare(t, c2), publicKey(t, c1)
}

func eddsaKeys(t *testing.T, lib *mpcstep.Library) (share1, share2, pub []byte) {
	t.Helper()
	c1, c2 := pair(t, lib.NewGenerateEddsaKeyContext)
	require.NoError(t, mpcstep.Run(c1, c2))
	return newShare(t, c1), newShare(t, c2), publicKey(t, c1)
}

func newShare(t *testing.T, c *mpcstep.Context) []byte {
	t.Helper()
	b, err := c.NewShare()
	require.NoError(t, err)
	return b
}

func publicKey(t *testing.T, c *mpcstep.Context) []byte {
	t.Helper()
	b, err := c.PublicKey()
	require.NoError(t, err)
	return b
}

func signature(t *testing.T, c *mpcstep.Context) []byte {
	t.Helper()
	b, err := c.Signature()
	require.NoError(t, err)
	return b
}
