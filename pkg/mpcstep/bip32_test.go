package mpcstep_test

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep"
)

func importSeed(t *testing.T, lib *mpcstep.Library, seed []byte) (share1, share2 []byte) {
	t.Helper()
	c1, c2 := pair(t, func(r mpcstep.Role) (*mpcstep.Context, error) {
		if r == mpcstep.RoleP1 {
			return lib.NewImportGenericSecretContext(r, seed)
		}
		return lib.NewImportGenericSecretContext(r, nil)
	})
	require.Equal(t, mpcstep.GenerateGenericSecret, c1.Kind())
	require.NoError(t, mpcstep.Run(c1, c2))
	return newShare(t, c1), newShare(t, c2)
}

func derive(t *testing.T, lib *mpcstep.Library, share1, share2 []byte, hardened bool, index uint32) (*mpcstep.Context, *mpcstep.Context) {
	t.Helper()
	c1, c2 := pair(t, func(r mpcstep.Role) (*mpcstep.Context, error) {
		if r == mpcstep.RoleP1 {
			return lib.NewDeriveBIP32Context(r, share1, hardened, index)
		}
		return lib.NewDeriveBIP32Context(r, share2, hardened, index)
	})
	require.NoError(t, mpcstep.Run(c1, c2))
	assert.False(t, c1.Changed())
	return c1, c2
}

func TestDeriveBIP32Chain(t *testing.T) {
	lib := openLibrary(t)
	seed := bytes.Repeat([]byte{0x42}, 32)
	s1, s2 := importSeed(t, lib, seed)

	m1, m2 := derive(t, lib, s1, s2, false, 0)
	a1, a2 := derive(t, lib, newShare(t, m1), newShare(t, m2), true, 44)
	c1, c2 := derive(t, lib, newShare(t, a1), newShare(t, a2), false, 3)

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	require.NoError(t, err)
	purpose, err := master.Derive(hdkeychain.HardenedKeyStart + 44)
	require.NoError(t, err)
	child, err := purpose.Derive(3)
	require.NoError(t, err)
	want, err := child.Neuter()
	require.NoError(t, err)

	xpub1, err := c1.XPub()
	require.NoError(t, err)
	xpub2, err := c2.XPub()
	require.NoError(t, err)
	assert.Equal(t, want.String(), xpub1)
	assert.Equal(t, xpub1, xpub2)

	wantPub, err := want.ECPubKey()
	require.NoError(t, err)
	assert.Equal(t, wantPub.SerializeCompressed(), publicKey(t, c1))

	s, err := lib.LoadShare(newShare(t, c2))
	require.NoError(t, err)
	defer s.Close()
	fromShare, err := s.XPub()
	require.NoError(t, err)
	assert.Equal(t, xpub1, fromShare)
}

func TestDeriveBIP32IsDeterministic(t *testing.T) {
	lib := openLibrary(t)
	g1, g2 := pair(t, func(r mpcstep.Role) (*mpcstep.Context, error) {
		return lib.NewGenerateGenericSecretContext(r, 256)
	})
	require.NoError(t, mpcstep.Run(g1, g2))
	s1, s2 := newShare(t, g1), newShare(t, g2)

	first1, first2 := derive(t, lib, s1, s2, false, 0)
	again1, again2 := derive(t, lib, s1, s2, false, 0)

	assert.Equal(t, newShare(t, first1), newShare(t, again1))
	assert.Equal(t, newShare(t, first2), newShare(t, again2))
	assert.Equal(t, publicKey(t, first1), publicKey(t, again2))

	x1, err := first1.XPub()
	require.NoError(t, err)
	x2, err := again2.XPub()
	require.NoError(t, err)
	assert.Equal(t, x1, x2)
}

func TestDeriveBIP32RejectsHardenedMaster(t *testing.T) {
	lib := openLibrary(t)
	s1, _ := importSeed(t, lib, bytes.Repeat([]byte{7}, 16))

	_, err := lib.NewDeriveBIP32Context(mpcstep.RoleP1, s1, true, 0)
	require.ErrorIs(t, err, mpcstep.ErrBadArgument)
}
