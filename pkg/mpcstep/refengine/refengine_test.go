package refengine_test

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"testing"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/refengine"
)

func newEngine(t *testing.T) *refengine.Engine {
	t.Helper()
	e, err := refengine.New(refengine.Options{PaillierBits: 1024})
	require.NoError(t, err)
	return e
}

// relay steps both sessions until they finish, passing every message through
// its serialized form.
func relay(t *testing.T, e *refengine.Engine, s1, s2 engine.Session) (engine.Flags, engine.Flags) {
	t.Helper()
	var (
		msg            engine.Message
		flags1, flags2 engine.Flags
	)
	for i := 0; !flags1.Has(engine.FlagFinished) || !flags2.Has(engine.FlagFinished); i++ {
		require.Less(t, i, 16, "relay did not converge")
		if !flags1.Has(engine.FlagFinished) {
			out, f, err := s1.Step(msg)
			require.NoError(t, err)
			flags1 |= f
			msg = reload(t, e, out)
		}
		if msg == nil {
			break
		}
		if !flags2.Has(engine.FlagFinished) {
			out, f, err := s2.Step(msg)
			require.NoError(t, err)
			flags2 |= f
			msg = reload(t, e, out)
		}
	}
	require.True(t, flags1.Has(engine.FlagFinished))
	require.True(t, flags2.Has(engine.FlagFinished))
	return flags1, flags2
}

func reload(t *testing.T, e *refengine.Engine, m engine.Message) engine.Message {
	t.Helper()
	if m == nil {
		return nil
	}
	b, err := m.Bytes()
	require.NoError(t, err)
	m.Free()
	out, err := e.MessageFromBytes(b)
	require.NoError(t, err)
	return out
}

func shareBytes(t *testing.T, s engine.Session) []byte {
	t.Helper()
	sh, err := s.Share()
	require.NoError(t, err)
	defer sh.Free()
	b, err := sh.Bytes()
	require.NoError(t, err)
	return b
}

func loadShare(t *testing.T, e *refengine.Engine, b []byte) engine.Share {
	t.Helper()
	sh, err := e.ShareFromBytes(b)
	require.NoError(t, err)
	t.Cleanup(sh.Free)
	return sh
}

func ecdsaKeygen(t *testing.T, e *refengine.Engine) ([]byte, []byte) {
	t.Helper()
	s1, err := e.InitGenerateEcdsaKey(1)
	require.NoError(t, err)
	defer s1.Free()
	s2, err := e.InitGenerateEcdsaKey(2)
	require.NoError(t, err)
	defer s2.Free()

	f1, f2 := relay(t, e, s1, s2)
	require.True(t, f1.Has(engine.FlagChanged))
	require.True(t, f2.Has(engine.FlagChanged))
	return shareBytes(t, s1), shareBytes(t, s2)
}

func eddsaKeygen(t *testing.T, e *refengine.Engine) ([]byte, []byte) {
	t.Helper()
	s1, err := e.InitGenerateEddsaKey(1)
	require.NoError(t, err)
	defer s1.Free()
	s2, err := e.InitGenerateEddsaKey(2)
	require.NoError(t, err)
	defer s2.Free()

	relay(t, e, s1, s2)
	return shareBytes(t, s1), shareBytes(t, s2)
}

func ecdsaSign(t *testing.T, e *refengine.Engine, k1, k2, hash []byte, refresh bool) (engine.Session, engine.Session) {
	t.Helper()
	s1, err := e.InitEcdsaSign(1, loadShare(t, e, k1), hash, refresh)
	require.NoError(t, err)
	t.Cleanup(s1.Free)
	s2, err := e.InitEcdsaSign(2, loadShare(t, e, k2), hash, refresh)
	require.NoError(t, err)
	t.Cleanup(s2.Free)
	relay(t, e, s1, s2)
	return s1, s2
}

func requireCode(t *testing.T, err error, code engine.Code) {
	t.Helper()
	var ce *engine.CodeError
	require.True(t, errors.As(err, &ce), "want engine code error, got %v", err)
	assert.Equal(t, code, ce.Code)
}

func TestGenerateGenericSecret(t *testing.T) {
	e := newEngine(t)
	s1, err := e.InitGenerateGenericSecret(1, 256)
	require.NoError(t, err)
	defer s1.Free()
	s2, err := e.InitGenerateGenericSecret(2, 256)
	require.NoError(t, err)
	defer s2.Free()

	f1, f2 := relay(t, e, s1, s2)
	assert.True(t, f1.Has(engine.FlagChanged))
	assert.True(t, f2.Has(engine.FlagChanged))
	assert.NotEqual(t, shareBytes(t, s1), shareBytes(t, s2))
}

func TestGenerateGenericSecretRejectsOddBits(t *testing.T) {
	e := newEngine(t)
	_, err := e.InitGenerateGenericSecret(1, 100)
	requireCode(t, err, engine.CodeBadArgument)
}

func TestEcdsaKeygenAndSign(t *testing.T) {
	e := newEngine(t)
	k1, k2 := ecdsaKeygen(t, e)

	pub1, err := e.EcdsaPublicKey(loadShare(t, e, k1))
	require.NoError(t, err)
	pub2, err := e.EcdsaPublicKey(loadShare(t, e, k2))
	require.NoError(t, err)
	require.Equal(t, pub1, pub2)

	hash := sha256.Sum256([]byte("transfer 1 BTC"))
	s1, s2 := ecdsaSign(t, e, k1, k2, hash[:], false)

	sig1, err := s1.ResultEcdsaSign()
	require.NoError(t, err)
	sig2, err := s2.ResultEcdsaSign()
	require.NoError(t, err)
	require.Equal(t, sig1, sig2)

	pub, err := btcec.ParsePubKey(pub1)
	require.NoError(t, err)
	sig, err := btcecdsa.ParseDERSignature(sig1)
	require.NoError(t, err)
	assert.True(t, sig.Verify(hash[:], pub))
	assert.NoError(t, e.VerifyEcdsa(pub1, hash[:], sig1))

	other := sha256.Sum256([]byte("transfer 2 BTC"))
	requireCode(t, e.VerifyEcdsa(pub1, other[:], sig1), engine.CodeCrypto)

	_, err = s1.Share()
	requireCode(t, err, engine.CodeBadArgument)
}

func TestEcdsaSignWithRefresh(t *testing.T) {
	e := newEngine(t)
	k1, k2 := ecdsaKeygen(t, e)
	pub, err := e.EcdsaPublicKey(loadShare(t, e, k1))
	require.NoError(t, err)

	hash := sha256.Sum256([]byte("rotate while signing"))
	s1, s2 := ecdsaSign(t, e, k1, k2, hash[:], true)
	n1, n2 := shareBytes(t, s1), shareBytes(t, s2)
	assert.NotEqual(t, k1, n1)
	assert.NotEqual(t, k2, n2)

	newPub, err := e.EcdsaPublicKey(loadShare(t, e, n1))
	require.NoError(t, err)
	require.Equal(t, pub, newPub)

	next := sha256.Sum256([]byte("sign with refreshed shares"))
	r1, _ := ecdsaSign(t, e, n1, n2, next[:], false)
	sig, err := r1.ResultEcdsaSign()
	require.NoError(t, err)
	require.NoError(t, e.VerifyEcdsa(pub, next[:], sig))
}

func TestEddsaKeygenAndSign(t *testing.T) {
	e := newEngine(t)
	k1, k2 := eddsaKeygen(t, e)

	pub1, err := e.EddsaPublicKey(loadShare(t, e, k1))
	require.NoError(t, err)
	pub2, err := e.EddsaPublicKey(loadShare(t, e, k2))
	require.NoError(t, err)
	require.Equal(t, pub1, pub2)

	msg := []byte("withdraw 3 SOL")
	s1, err := e.InitEddsaSign(1, loadShare(t, e, k1), msg, false)
	require.NoError(t, err)
	defer s1.Free()
	s2, err := e.InitEddsaSign(2, loadShare(t, e, k2), msg, false)
	require.NoError(t, err)
	defer s2.Free()
	relay(t, e, s1, s2)

	sig1, err := s1.ResultEddsaSign()
	require.NoError(t, err)
	sig2, err := s2.ResultEddsaSign()
	require.NoError(t, err)
	require.Equal(t, sig1, sig2)
	assert.True(t, ed25519.Verify(pub1[:], msg, sig1[:]))
	assert.NoError(t, e.VerifyEddsa(pub1[:], msg, sig1))
	requireCode(t, e.VerifyEddsa(pub1[:], []byte("withdraw 4 SOL"), sig1), engine.CodeCrypto)
}

func TestRefreshKeepsKey(t *testing.T) {
	e := newEngine(t)

	t.Run("ecdsa", func(t *testing.T) {
		k1, k2 := ecdsaKeygen(t, e)
		n1, n2 := refreshPair(t, e, k1, k2)
		pub, err := e.EcdsaPublicKey(loadShare(t, e, k1))
		require.NoError(t, err)

		hash := sha256.Sum256([]byte("after refresh"))
		s1, _ := ecdsaSign(t, e, n1, n2, hash[:], false)
		sig, err := s1.ResultEcdsaSign()
		require.NoError(t, err)
		require.NoError(t, e.VerifyEcdsa(pub, hash[:], sig))
	})

	t.Run("eddsa", func(t *testing.T) {
		k1, k2 := eddsaKeygen(t, e)
		n1, n2 := refreshPair(t, e, k1, k2)
		pub, err := e.EddsaPublicKey(loadShare(t, e, n2))
		require.NoError(t, err)
		old, err := e.EddsaPublicKey(loadShare(t, e, k2))
		require.NoError(t, err)
		require.Equal(t, old, pub)

		msg := []byte("after refresh")
		s1, err := e.InitEddsaSign(1, loadShare(t, e, n1), msg, false)
		require.NoError(t, err)
		defer s1.Free()
		s2, err := e.InitEddsaSign(2, loadShare(t, e, n2), msg, false)
		require.NoError(t, err)
		defer s2.Free()
		relay(t, e, s1, s2)
		sig, err := s1.ResultEddsaSign()
		require.NoError(t, err)
		assert.True(t, ed25519.Verify(pub[:], msg, sig[:]))
	})
}

func refreshPair(t *testing.T, e *refengine.Engine, k1, k2 []byte) ([]byte, []byte) {
	t.Helper()
	s1, err := e.InitRefreshKey(1, loadShare(t, e, k1))
	require.NoError(t, err)
	defer s1.Free()
	s2, err := e.InitRefreshKey(2, loadShare(t, e, k2))
	require.NoError(t, err)
	defer s2.Free()
	f1, f2 := relay(t, e, s1, s2)
	require.True(t, f1.Has(engine.FlagChanged))
	require.True(t, f2.Has(engine.FlagChanged))
	n1, n2 := shareBytes(t, s1), shareBytes(t, s2)
	require.NotEqual(t, k1, n1)
	require.NotEqual(t, k2, n2)
	return n1, n2
}

func importSeed(t *testing.T, e *refengine.Engine, seed []byte) ([]byte, []byte) {
	t.Helper()
	s1, err := e.InitImportGenericSecret(1, seed)
	require.NoError(t, err)
	defer s1.Free()
	s2, err := e.InitImportGenericSecret(2, nil)
	require.NoError(t, err)
	defer s2.Free()
	relay(t, e, s1, s2)
	return shareBytes(t, s1), shareBytes(t, s2)
}

func derive(t *testing.T, e *refengine.Engine, k1, k2 []byte, hardened bool, index uint32) ([]byte, []byte) {
	t.Helper()
	s1, err := e.InitDeriveBIP32(1, loadShare(t, e, k1), hardened, index)
	require.NoError(t, err)
	defer s1.Free()
	s2, err := e.InitDeriveBIP32(2, loadShare(t, e, k2), hardened, index)
	require.NoError(t, err)
	defer s2.Free()

	f1, f2 := relay(t, e, s1, s2)
	assert.False(t, f1.Has(engine.FlagChanged))
	assert.False(t, f2.Has(engine.FlagChanged))

	out := make([][]byte, 2)
	for i, s := range []engine.Session{s1, s2} {
		sh, err := s.ResultDeriveBIP32()
		require.NoError(t, err)
		out[i], err = sh.Bytes()
		require.NoError(t, err)
		sh.Free()
	}
	return out[0], out[1]
}

func TestDeriveBIP32MatchesHDKeychain(t *testing.T) {
	e := newEngine(t)
	seed := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}
	g1, g2 := importSeed(t, e, seed)

	ref, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	require.NoError(t, err)

	m1, m2 := derive(t, e, g1, g2, false, 0)
	requireXPub(t, e, ref, m1, m2)

	h1, h2 := derive(t, e, m1, m2, true, 44)
	refHardened, err := ref.Derive(hdkeychain.HardenedKeyStart + 44)
	require.NoError(t, err)
	requireXPub(t, e, refHardened, h1, h2)

	c1, c2 := derive(t, e, h1, h2, false, 7)
	refChild, err := refHardened.Derive(7)
	require.NoError(t, err)
	requireXPub(t, e, refChild, c1, c2)

	hash := sha256.Sum256([]byte("spend from m/44'/7"))
	s1, _ := ecdsaSign(t, e, c1, c2, hash[:], false)
	sig, err := s1.ResultEcdsaSign()
	require.NoError(t, err)
	pub, err := refChild.ECPubKey()
	require.NoError(t, err)
	require.NoError(t, e.VerifyEcdsa(pub.SerializeCompressed(), hash[:], sig))
}

func requireXPub(t *testing.T, e *refengine.Engine, ref *hdkeychain.ExtendedKey, k1, k2 []byte) {
	t.Helper()
	neutered, err := ref.Neuter()
	require.NoError(t, err)
	want := neutered.String()

	for _, k := range [][]byte{k1, k2} {
		got, err := e.SerializePubBIP32(loadShare(t, e, k))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDeriveBIP32Deterministic(t *testing.T) {
	e := newEngine(t)
	g1, g2 := importSeed(t, e, bytes.Repeat([]byte{0x5a}, 32))

	a1, a2 := derive(t, e, g1, g2, false, 0)
	b1, b2 := derive(t, e, g1, g2, false, 0)
	require.Equal(t, a1, b1)
	require.Equal(t, a2, b2)

	h1, h2 := derive(t, e, a1, a2, true, 0)
	j1, j2 := derive(t, e, a1, a2, true, 0)
	require.Equal(t, h1, j1)
	require.Equal(t, h2, j2)
}

func TestDeriveBIP32Rejects(t *testing.T) {
	e := newEngine(t)
	g1, _ := importSeed(t, e, make([]byte, 32))
	k1, _ := ecdsaKeygen(t, e)
	d1, _ := eddsaKeygen(t, e)

	_, err := e.InitDeriveBIP32(1, loadShare(t, e, g1), true, 0)
	requireCode(t, err, engine.CodeBadArgument)
	_, err = e.InitDeriveBIP32(1, loadShare(t, e, k1), false, 0)
	requireCode(t, err, engine.CodeBadArgument)
	_, err = e.InitDeriveBIP32(1, loadShare(t, e, d1), false, 0)
	requireCode(t, err, engine.CodeBadArgument)
	_, err = e.SerializePubBIP32(loadShare(t, e, k1))
	requireCode(t, err, engine.CodeBadArgument)
}

func rsaBackupKey(t *testing.T) ([]byte, []byte) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pub, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	return pub, der
}

func TestEcdsaBackupRestore(t *testing.T) {
	e := newEngine(t)
	k1, k2 := ecdsaKeygen(t, e)
	pub, err := e.EcdsaPublicKey(loadShare(t, e, k1))
	require.NoError(t, err)
	backupPub, backupPriv := rsaBackupKey(t)

	s1, err := e.InitBackupEcdsaKey(1, loadShare(t, e, k1), backupPub)
	require.NoError(t, err)
	defer s1.Free()
	s2, err := e.InitBackupEcdsaKey(2, loadShare(t, e, k2), backupPub)
	require.NoError(t, err)
	defer s2.Free()
	relay(t, e, s1, s2)

	pkg1, err := s1.ResultBackup()
	require.NoError(t, err)
	pkg2, err := s2.ResultBackup()
	require.NoError(t, err)
	require.Equal(t, pkg1, pkg2)

	require.NoError(t, e.VerifyEcdsaBackup(backupPub, pub, pkg1))
	otherPub, _ := rsaBackupKey(t)
	requireCode(t, e.VerifyEcdsaBackup(otherPub, pub, pkg1), engine.CodeCrypto)

	x, err := e.RestoreEcdsaKey(backupPriv, pub, pkg1)
	require.NoError(t, err)
	priv, restoredPub := btcec.PrivKeyFromBytes(x)
	require.NotNil(t, priv)
	assert.Equal(t, pub, restoredPub.SerializeCompressed())
}

func TestEddsaBackupRestore(t *testing.T) {
	e := newEngine(t)
	k1, k2 := eddsaKeygen(t, e)
	pub, err := e.EddsaPublicKey(loadShare(t, e, k1))
	require.NoError(t, err)
	backupPub, backupPriv := rsaBackupKey(t)

	s1, err := e.InitBackupEddsaKey(1, loadShare(t, e, k1), backupPub)
	require.NoError(t, err)
	defer s1.Free()
	s2, err := e.InitBackupEddsaKey(2, loadShare(t, e, k2), backupPub)
	require.NoError(t, err)
	defer s2.Free()
	relay(t, e, s1, s2)

	pkg, err := s2.ResultBackup()
	require.NoError(t, err)
	require.NoError(t, e.VerifyEddsaBackup(backupPub, pub, pkg))

	x, err := e.RestoreEddsaKey(backupPriv, pub, pkg)
	require.NoError(t, err)
	scalar, err := edwards25519.NewScalar().SetCanonicalBytes(x[:])
	require.NoError(t, err)
	assert.Equal(t, pub[:], new(edwards25519.Point).ScalarBaseMult(scalar).Bytes())
}

func TestSessionSurvivesSerialization(t *testing.T) {
	e := newEngine(t)
	k1, k2 := eddsaKeygen(t, e)
	msg := []byte("paused between steps")

	s1, err := e.InitEddsaSign(1, loadShare(t, e, k1), msg, false)
	require.NoError(t, err)
	s2, err := e.InitEddsaSign(2, loadShare(t, e, k2), msg, false)
	require.NoError(t, err)
	defer s2.Free()

	out, _, err := s1.Step(nil)
	require.NoError(t, err)
	out, _, err = s2.Step(reload(t, e, out))
	require.NoError(t, err)

	b, err := s1.Bytes()
	require.NoError(t, err)
	s1.Free()
	s1, err = e.SessionFromBytes(b)
	require.NoError(t, err)
	defer s1.Free()
	peer, err := s1.Peer()
	require.NoError(t, err)
	assert.Equal(t, 1, peer)

	var flags engine.Flags
	msgOut := reload(t, e, out)
	for !flags.Has(engine.FlagFinished) {
		var f engine.Flags
		msgOut, f, err = s1.Step(msgOut)
		require.NoError(t, err)
		flags |= f
		if msgOut != nil {
			msgOut, _, err = s2.Step(reload(t, e, msgOut))
			require.NoError(t, err)
			msgOut = reload(t, e, msgOut)
		}
	}
	sig, err := s1.ResultEddsaSign()
	require.NoError(t, err)
	pub, err := e.EddsaPublicKey(loadShare(t, e, k1))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub[:], msg, sig[:]))
}

func TestStepMisuse(t *testing.T) {
	e := newEngine(t)

	s2, err := e.InitGenerateEddsaKey(2)
	require.NoError(t, err)
	defer s2.Free()
	_, _, err = s2.Step(nil)
	requireCode(t, err, engine.CodeBadArgument)

	ecdsa2, err := e.InitGenerateEcdsaKey(2)
	require.NoError(t, err)
	defer ecdsa2.Free()
	eddsa1, err := e.InitGenerateEddsaKey(1)
	require.NoError(t, err)
	defer eddsa1.Free()
	out, _, err := eddsa1.Step(nil)
	require.NoError(t, err)
	_, _, err = ecdsa2.Step(out)
	requireCode(t, err, engine.CodeBadArgument)

	_, _, err = eddsa1.Step(out)
	requireCode(t, err, engine.CodeBadArgument)

	_, err = e.MessageFromBytes([]byte{0xc1})
	requireCode(t, err, engine.CodeFormat)
	_, err = e.ShareFromBytes(nil)
	requireCode(t, err, engine.CodeBadArgument)

	_, err = e.InitGenerateEcdsaKey(3)
	requireCode(t, err, engine.CodeBadArgument)
}
