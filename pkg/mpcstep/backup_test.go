package mpcstep_test

import (
	"testing"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinbase/mpcstep-go/internal/backupkey"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep"
)

func backupKey(t *testing.T) *backupkey.Pair {
	t.Helper()
	p, err := backupkey.ForTest()
	require.NoError(t, err)
	return p
}

func TestEcdsaBackupAndRestore(t *testing.T) {
	lib := openLibrary(t)
	k1, k2, pub := ecdsaKeys(t, lib)
	_, _, otherPub := ecdsaKeys(t, lib)
	key := backupKey(t)

	c1, c2 := pair(t, func(r mpcstep.Role) (*mpcstep.Context, error) {
		if r == mpcstep.RoleP1 {
			return lib.NewBackupEcdsaKeyContext(r, k1, key.Public)
		}
		return lib.NewBackupEcdsaKeyContext(r, k2, key.Public)
	})
	require.NoError(t, mpcstep.Run(c1, c2))

	pkg, err := c1.BackupPackage()
	require.NoError(t, err)
	pkg2, err := c2.BackupPackage()
	require.NoError(t, err)
	require.Equal(t, pkg, pkg2)
	assert.False(t, c1.Changed())

	ok, err := lib.VerifyEcdsaBackup(key.Public, pub, pkg)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = lib.VerifyEcdsaBackup(key.Public, otherPub, pkg)
	require.NoError(t, err)
	assert.False(t, ok)

	x, err := lib.RestoreEcdsaKey(key.Private, pub, pkg)
	require.NoError(t, err)
	defer mpcstep.ZeroizeBytes(x)
	_, restored := btcec.PrivKeyFromBytes(x)
	assert.Equal(t, pub, restored.SerializeCompressed())

	_, err = lib.RestoreEcdsaKey(key.Private, pub, []byte{0xc1})
	require.ErrorIs(t, err, mpcstep.ErrFormat)
}

func TestEddsaBackupAndRestore(t *testing.T) {
	lib := openLibrary(t)
	k1, k2, pub := eddsaKeys(t, lib)
	key := backupKey(t)

	c1, c2 := pair(t, func(r mpcstep.Role) (*mpcstep.Context, error) {
		if r == mpcstep.RoleP1 {
			return lib.NewBackupEddsaKeyContext(r, k1, key.Public)
		}
		return lib.NewBackupEddsaKeyContext(r, k2, key.Public)
	})
	require.NoError(t, mpcstep.Run(c1, c2))

	o, err := c2.Outcome()
	require.NoError(t, err)
	bo, ok := o.(mpcstep.BackupOutcome)
	require.True(t, ok)
	assert.Equal(t, mpcstep.BackupEddsaKey, bo.Kind)

	ok, err = lib.VerifyEddsaBackup(key.Public, pub, bo.Package)
	require.NoError(t, err)
	assert.True(t, ok)

	x, err := lib.RestoreEddsaKey(key.Private, pub, bo.Package)
	require.NoError(t, err)
	scalar, err := edwards25519.NewScalar().SetCanonicalBytes(x[:])
	require.NoError(t, err)
	assert.Equal(t, pub, new(edwards25519.Point).ScalarBaseMult(scalar).Bytes())

	_, err = lib.VerifyEddsaBackup(key.Public, pub[:31], bo.Package)
	require.ErrorIs(t, err, mpcstep.ErrBadArgument)
}

func TestBackupRejectsSchemeMismatch(t *testing.T) {
	lib := openLibrary(t)
	k1, _, _ := eddsaKeys(t, lib)
	key := backupKey(t)

	_, err := lib.NewBackupEcdsaKeyContext(mpcstep.RoleP1, k1, key.Public)
	require.ErrorIs(t, err, mpcstep.ErrBadArgument)
}
