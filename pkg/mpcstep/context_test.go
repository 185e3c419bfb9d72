package mpcstep_test

import (
	"crypto/ed25519"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep"
)

func TestGenerateEcdsaKey(t *testing.T) {
	lib := openLibrary(t)
	c1, c2 := pair(t, lib.NewGenerateEcdsaKeyContext)

	require.NoError(t, mpcstep.Run(c1, c2))

	for _, c := range []*mpcstep.Context{c1, c2} {
		assert.True(t, c.Finished())
		assert.True(t, c.Changed(), "the finishing step of key generation delivers the share")
		assert.Equal(t, mpcstep.Status{Changed: true, Finished: true}, c.Status())
	}
	pub1, pub2 := publicKey(t, c1), publicKey(t, c2)
	require.Equal(t, pub1, pub2)
	_, err := btcec.ParsePubKey(pub1)
	require.NoError(t, err)

	assert.NotEqual(t, newShare(t, c1), newShare(t, c2))

	o, err := c1.Outcome()
	require.NoError(t, err)
	so, ok := o.(mpcstep.ShareOutcome)
	require.True(t, ok)
	assert.Equal(t, mpcstep.GenerateEcdsaKey, so.Kind)
	assert.Equal(t, pub1, so.PublicKey)
}

func TestEcdsaSign(t *testing.T) {
	lib := openLibrary(t)
	k1, k2, pub := ecdsaKeys(t, lib)
	hash := sha256.Sum256([]byte("pay 0.5 BTC to cold storage"))

	c1, c2 := pair(t, func(r mpcstep.Role) (*mpcstep.Context, error) {
		share := k1
		if r == mpcstep.RoleP2 {
			share = k2
		}
		return lib.NewEcdsaSignContext(r, share, hash[:], false)
	})
	require.NoError(t, mpcstep.Run(c1, c2))

	key, err := btcec.ParsePubKey(pub)
	require.NoError(t, err)
	for _, c := range []*mpcstep.Context{c1, c2} {
		der := signature(t, c)
		sig, err := btcecdsa.ParseDERSignature(der)
		require.NoError(t, err)
		assert.True(t, sig.Verify(hash[:], key))

		ok, err := lib.VerifyEcdsa(pub, hash[:], der)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.False(t, c.Changed())
	}

	other := sha256.Sum256([]byte("pay 5 BTC"))
	ok, err := lib.VerifyEcdsa(pub, other[:], signature(t, c1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEcdsaSignWithRefreshReturnsNewShares(t *testing.T) {
	lib := openLibrary(t)
	k1, k2, pub := ecdsaKeys(t, lib)
	hash := sha256.Sum256([]byte("sign and rotate"))

	c1, c2 := pair(t, func(r mpcstep.Role) (*mpcstep.Context, error) {
		if r == mpcstep.RoleP1 {
			return lib.NewEcdsaSignContext(r, k1, hash[:], true)
		}
		return lib.NewEcdsaSignContext(r, k2, hash[:], true)
	})
	require.NoError(t, mpcstep.Run(c1, c2))

	n1, n2 := newShare(t, c1), newShare(t, c2)
	assert.NotEqual(t, k1, n1)
	assert.NotEqual(t, k2, n2)

	s, err := lib.LoadShare(n2)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.EcdsaPublicKey()
	require.NoError(t, err)
	assert.Equal(t, pub, got)

	o, err := c1.Outcome()
	require.NoError(t, err)
	so, ok := o.(mpcstep.EcdsaSignOutcome)
	require.True(t, ok)
	assert.Equal(t, n1, so.Share)
}

func TestEddsaKeygenAndSign(t *testing.T) {
	lib := openLibrary(t)
	k1, k2, pub := eddsaKeys(t, lib)
	require.Len(t, pub, ed25519.PublicKeySize)

	msg := []byte("stake 32 SOL")
	c1, c2 := pair(t, func(r mpcstep.Role) (*mpcstep.Context, error) {
		if r == mpcstep.RoleP1 {
			return lib.NewEddsaSignContext(r, k1, msg, false)
		}
		return lib.NewEddsaSignContext(r, k2, msg, false)
	})
	require.NoError(t, mpcstep.Run(c1, c2))

	sig := signature(t, c1)
	require.Len(t, sig, ed25519.SignatureSize)
	assert.Equal(t, sig, signature(t, c2))
	assert.True(t, ed25519.Verify(pub, msg, sig))

	ok, err := lib.VerifyEddsa(pub, msg, sig)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = lib.VerifyEddsa(pub, []byte("stake 33 SOL"), sig)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = lib.VerifyEddsa(pub, msg, sig[:63])
	require.ErrorIs(t, err, mpcstep.ErrBadArgument)
}

func TestRefreshContext(t *testing.T) {
	lib := openLibrary(t)
	k1, k2, pub := eddsaKeys(t, lib)

	c1, c2 := pair(t, func(r mpcstep.Role) (*mpcstep.Context, error) {
		if r == mpcstep.RoleP1 {
			return lib.NewRefreshContext(r, k1)
		}
		return lib.NewRefreshContext(r, k2)
	})
	require.NoError(t, mpcstep.Run(c1, c2))

	n1 := newShare(t, c1)
	assert.NotEqual(t, k1, n1)
	_, err := c1.PublicKey()
	require.ErrorIs(t, err, mpcstep.ErrProtocolMisuse)

	s, err := lib.LoadShare(n1)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.EddsaPublicKey()
	require.NoError(t, err)
	assert.Equal(t, pub, got[:])
}

func TestStepAfterFinished(t *testing.T) {
	lib := openLibrary(t)
	c1, c2 := pair(t, lib.NewGenerateEddsaKeyContext)
	require.NoError(t, mpcstep.Run(c1, c2))

	_, err := c1.Step(nil)
	require.ErrorIs(t, err, mpcstep.ErrAlreadyFinished)
	require.ErrorIs(t, err, mpcstep.ErrProtocolMisuse)
	assert.True(t, c1.Finished())

	_, err = c1.MarshalBinary()
	require.ErrorIs(t, err, mpcstep.ErrAlreadyFinished)
}

func TestResultIsolation(t *testing.T) {
	lib := openLibrary(t)
	k1, k2, _ := ecdsaKeys(t, lib)
	hash := sha256.Sum256([]byte("isolation"))

	c1, c2 := pair(t, func(r mpcstep.Role) (*mpcstep.Context, error) {
		if r == mpcstep.RoleP1 {
			return lib.NewEcdsaSignContext(r, k1, hash[:], false)
		}
		return lib.NewEcdsaSignContext(r, k2, hash[:], false)
	})

	_, err := c1.Signature()
	require.ErrorIs(t, err, mpcstep.ErrProtocolMisuse, "not finished yet")
	_, err = c1.Outcome()
	require.ErrorIs(t, err, mpcstep.ErrProtocolMisuse)

	require.NoError(t, mpcstep.Run(c1, c2))

	_, err = c1.BackupPackage()
	require.ErrorIs(t, err, mpcstep.ErrProtocolMisuse)
	_, err = c1.XPub()
	require.ErrorIs(t, err, mpcstep.ErrProtocolMisuse)
	_, err = c1.PublicKey()
	require.ErrorIs(t, err, mpcstep.ErrProtocolMisuse)
	_, err = c1.NewShare()
	require.ErrorIs(t, err, mpcstep.ErrProtocolMisuse, "no refresh requested")

	o, err := c1.Outcome()
	require.NoError(t, err)
	so, ok := o.(mpcstep.EcdsaSignOutcome)
	require.True(t, ok)
	assert.Nil(t, so.Share)
	assert.NotEmpty(t, so.Signature)
}

func TestContextSurvivesPause(t *testing.T) {
	lib := openLibrary(t)
	k1, k2, pub := ecdsaKeys(t, lib)
	hash := sha256.Sum256([]byte("approve after lunch"))

	c1, c2 := pair(t, func(r mpcstep.Role) (*mpcstep.Context, error) {
		if r == mpcstep.RoleP1 {
			return lib.NewEcdsaSignContext(r, k1, hash[:], false)
		}
		return lib.NewEcdsaSignContext(r, k2, hash[:], false)
	})

	m1, err := c1.Step(nil)
	require.NoError(t, err)
	require.NotEmpty(t, m1)
	m2, err := c2.Step(m1)
	require.NoError(t, err)

	saved1, err := c1.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, byte(mpcstep.EcdsaSign), saved1[0])
	saved2, err := c2.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, c1.Close())
	require.NoError(t, c2.Close())

	r1, err := lib.LoadContext(saved1)
	require.NoError(t, err)
	defer r1.Close()
	r2, err := lib.LoadContext(saved2)
	require.NoError(t, err)
	defer r2.Close()
	assert.Equal(t, mpcstep.EcdsaSign, r1.Kind())
	assert.Equal(t, mpcstep.RoleP1, r1.Role())
	assert.Equal(t, mpcstep.RoleP2, r2.Role())
	assert.False(t, r1.Finished())

	m3, err := r1.Step(m2)
	require.NoError(t, err)
	last, err := r2.Step(m3)
	require.NoError(t, err)
	assert.Nil(t, last)
	require.True(t, r1.Finished())
	require.True(t, r2.Finished())

	ok, err := lib.VerifyEcdsa(pub, hash[:], signature(t, r2))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLoadContextRejectsMalformed(t *testing.T) {
	lib := openLibrary(t)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, mpcstep.ErrFormat},
		{"tag only", []byte{byte(mpcstep.EcdsaSign)}, mpcstep.ErrFormat},
		{"unknown kind", []byte{9, 0x80}, mpcstep.ErrFormat},
		{"garbage session", []byte{byte(mpcstep.Refresh), 0xc1, 0xc1}, mpcstep.ErrFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := lib.LoadContext(tt.data)
			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, c)
		})
	}
}

func TestFailedContextIsNotResumable(t *testing.T) {
	lib := openLibrary(t)
	c1, c2 := pair(t, lib.NewGenerateEcdsaKeyContext)

	_, err := c1.Step(nil)
	require.NoError(t, err)

	_, err = c2.Step([]byte{0xc1})
	require.ErrorIs(t, err, mpcstep.ErrFormat)
	var merr *mpcstep.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "step", merr.Op)

	_, err = c2.Step(nil)
	require.ErrorIs(t, err, mpcstep.ErrProtocolMisuse)
	_, err = c2.MarshalBinary()
	require.ErrorIs(t, err, mpcstep.ErrProtocolMisuse)
	assert.False(t, c2.Finished())

	require.NoError(t, c2.Close())
	require.NoError(t, c2.Close())
}

func TestResponderCannotInitiate(t *testing.T) {
	lib := openLibrary(t)
	c, err := lib.NewGenerateEcdsaKeyContext(mpcstep.RoleP2)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Step(nil)
	require.ErrorIs(t, err, mpcstep.ErrBadArgument)
}

func TestClosedContext(t *testing.T) {
	lib := openLibrary(t)
	c1, c2 := pair(t, lib.NewGenerateEddsaKeyContext)
	require.NoError(t, mpcstep.Run(c1, c2))

	require.NoError(t, c1.Close())
	assert.True(t, c1.Finished())
	_, err := c1.NewShare()
	require.ErrorIs(t, err, mpcstep.ErrClosed)
	require.ErrorIs(t, err, mpcstep.ErrProtocolMisuse)
	_, err = c1.PublicKey()
	require.ErrorIs(t, err, mpcstep.ErrProtocolMisuse)
	_, err = c1.Step(nil)
	require.ErrorIs(t, err, mpcstep.ErrClosed)
	require.ErrorIs(t, err, mpcstep.ErrProtocolMisuse)
	require.NoError(t, c1.Close())

	// Closing before completion is misuse for later steps too.
	c3, err := lib.NewGenerateEddsaKeyContext(mpcstep.RoleP1)
	require.NoError(t, err)
	require.NoError(t, c3.Close())
	assert.False(t, c3.Finished())
	_, err = c3.Step(nil)
	require.ErrorIs(t, err, mpcstep.ErrProtocolMisuse)
}

func TestConstructorsValidateInputs(t *testing.T) {
	lib := openLibrary(t)

	_, err := lib.NewGenerateEcdsaKeyContext(mpcstep.Role(3))
	require.ErrorIs(t, err, mpcstep.ErrBadArgument)

	_, err = lib.NewRefreshContext(mpcstep.RoleP1, nil)
	require.ErrorIs(t, err, mpcstep.ErrBadArgument)

	_, err = lib.NewEcdsaSignContext(mpcstep.RoleP1, []byte{0xc1}, []byte("h"), false)
	require.ErrorIs(t, err, mpcstep.ErrFormat)

	k1, k2, _ := eddsaKeys(t, lib)
	_, err = lib.NewEcdsaSignContext(mpcstep.RoleP1, k1, []byte("h"), false)
	require.ErrorIs(t, err, mpcstep.ErrBadArgument, "eddsa share given to ecdsa signing")

	_, err = lib.NewEddsaSignContext(mpcstep.RoleP1, k2, []byte("m"), false)
	require.ErrorIs(t, err, mpcstep.ErrBadArgument, "share belongs to the other role")

	_, err = lib.NewGenerateGenericSecretContext(mpcstep.RoleP1, 12)
	require.ErrorIs(t, err, mpcstep.ErrBadArgument)
}
