package refengine

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
)

const (
	// DefaultPaillierBits is the modulus size used when Options leaves it unset.
	DefaultPaillierBits = 2048
	// MinPaillierBits keeps the modulus large enough for the signing
	// plaintexts, which reach roughly 3*256 bits.
	MinPaillierBits = 1024

	engineName    = "reference"
	engineVersion = "refengine/1"
)

// Options tunes the reference engine.
type Options struct {
	// PaillierBits is the modulus size of role 1's Paillier key.
	PaillierBits int
	// Rand is the entropy source. Defaults to crypto/rand.Reader.
	Rand io.Reader
}

// Engine is a pure-Go implementation of engine.Engine.
type Engine struct {
	opts Options
	rand io.Reader
}

// New returns a reference engine configured by opts.
func New(opts Options) (*Engine, error) {
	if opts.PaillierBits == 0 {
		opts.PaillierBits = DefaultPaillierBits
	}
	if opts.PaillierBits < MinPaillierBits || opts.PaillierBits%2 != 0 {
		return nil, engine.Errorf("new", engine.CodeBadArgument, "paillier modulus of %d bits", opts.PaillierBits)
	}
	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}
	return &Engine{opts: opts, rand: opts.Rand}, nil
}

func (e *Engine) Name() string    { return engineName }
func (e *Engine) Version() string { return engineVersion }

func (e *Engine) randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(e.rand, b); err != nil {
		return nil, engine.Errorf("random", engine.CodeCrypto, "entropy source: %v", err)
	}
	return b, nil
}

func (e *Engine) checkPaillierModulus(op string, n []byte) (*paillierPublic, error) {
	v := new(big.Int).SetBytes(n)
	if v.BitLen() < MinPaillierBits || v.Bit(0) == 0 {
		return nil, engine.Errorf(op, engine.CodeCrypto, "paillier modulus of %d bits rejected", v.BitLen())
	}
	return newPaillierPublic(v), nil
}

func randInt(r io.Reader, max *big.Int) (*big.Int, error) {
	v, err := rand.Int(r, max)
	if err != nil {
		return nil, engine.Errorf("random", engine.CodeCrypto, "entropy source: %v", err)
	}
	return v, nil
}

// deterministicUnit maps seed to an element of Z*_n.
func deterministicUnit(pk *paillierPublic, seed []byte) *big.Int {
	buf, _ := expand(seed, "paillier-nonce", (pk.n.BitLen()+7)/8+16)
	v := new(big.Int).SetBytes(buf)
	v.Mod(v, pk.n)
	for v.Sign() == 0 || new(big.Int).GCD(nil, nil, v, pk.n).Cmp(one) != 0 {
		v.Add(v, one)
		v.Mod(v, pk.n)
	}
	return v
}

func paillierToWire(sk *paillierPrivate) *paillierWire {
	return &paillierWire{N: sk.n.Bytes(), P: sk.p.Bytes(), Q: sk.q.Bytes()}
}

func paillierFromWire(w *paillierWire) (*paillierPrivate, error) {
	if w == nil || len(w.P) == 0 || len(w.Q) == 0 {
		return nil, engine.Errorf("paillier", engine.CodeBadArgument, "share holds no paillier private key")
	}
	return newPaillierPrivate(new(big.Int).SetBytes(w.P), new(big.Int).SetBytes(w.Q))
}

// inputShare decodes a share handed to a constructor into a private copy.
func inputShare(op string, s engine.Share, want shareType, role int) (*keyShare, error) {
	h, ok := s.(*shareHandle)
	if !ok || h == nil || h.ks == nil {
		return nil, engine.Errorf(op, engine.CodeBadArgument, "foreign or released share")
	}
	if err := h.ks.validate(op, want, role); err != nil {
		return nil, err
	}
	return h.ks.clone(), nil
}

func (e *Engine) InitGenerateGenericSecret(peer, bits int) (engine.Session, error) {
	if bits <= 0 || bits%8 != 0 {
		return nil, engine.Errorf("init-generic-secret", engine.CodeBadArgument, "bits must be a positive multiple of 8, got %d", bits)
	}
	return e.newSession(opGenericSecret, peer, &genericSecret{Bits: bits})
}

// InitImportGenericSecret splits secret between the parties. Only role 1
// supplies the secret; role 2 passes nil.
func (e *Engine) InitImportGenericSecret(peer int, secret []byte) (engine.Session, error) {
	const op = "init-import-secret"
	switch {
	case peer == 1 && len(secret) == 0:
		return nil, engine.Errorf(op, engine.CodeBadArgument, "role 1 must supply the secret")
	case peer == 2 && len(secret) != 0:
		return nil, engine.Errorf(op, engine.CodeBadArgument, "only role 1 supplies the secret")
	}
	return e.newSession(opGenericSecret, peer, &genericSecret{Bits: len(secret) * 8, Import: true, Input: cloneBytes(secret)})
}

func (e *Engine) InitRefreshKey(peer int, share engine.Share) (engine.Session, error) {
	const op = "init-refresh"
	h, ok := share.(*shareHandle)
	if !ok || h == nil || h.ks == nil {
		return nil, engine.Errorf(op, engine.CodeBadArgument, "foreign or released share")
	}
	ks, err := inputShare(op, share, h.ks.Type, peer)
	if err != nil {
		return nil, err
	}
	return e.newSession(opRefresh, peer, &refresh{Key: ks})
}

func (e *Engine) InitDeriveBIP32(peer int, share engine.Share, hardened bool, index uint32) (engine.Session, error) {
	const op = "init-derive-bip32"
	h, ok := share.(*shareHandle)
	if !ok || h == nil || h.ks == nil {
		return nil, engine.Errorf(op, engine.CodeBadArgument, "foreign or released share")
	}
	if index >= hdkeychain.HardenedKeyStart {
		return nil, engine.Errorf(op, engine.CodeBadArgument, "index %d out of range", index)
	}
	switch h.ks.Type {
	case shareGenericSecret:
		if hardened || index != 0 {
			return nil, engine.Errorf(op, engine.CodeBadArgument, "a seed only derives the master key")
		}
		if n := len(h.ks.Secret); n < hdkeychain.MinSeedBytes || n > hdkeychain.MaxSeedBytes {
			return nil, engine.Errorf(op, engine.CodeBadArgument, "seed of %d bytes", n)
		}
	case shareEcdsa:
		if h.ks.HD == nil {
			return nil, engine.Errorf(op, engine.CodeBadArgument, "share has no chain code")
		}
		if h.ks.HD.Depth == 255 {
			return nil, engine.Errorf(op, engine.CodeBadArgument, "maximum depth reached")
		}
	default:
		return nil, engine.Errorf(op, engine.CodeBadArgument, "cannot derive from %s share", h.ks.Type)
	}
	ks, err := inputShare(op, share, h.ks.Type, peer)
	if err != nil {
		return nil, err
	}
	return e.newSession(opDeriveBIP32, peer, &deriveBIP32{
		Key:          ks,
		Hardened:     hardened,
		Index:        index,
		PaillierBits: e.opts.PaillierBits,
	})
}

func (e *Engine) InitGenerateEcdsaKey(peer int) (engine.Session, error) {
	return e.newSession(opEcdsaKeygen, peer, &ecdsaKeygen{})
}

func (e *Engine) InitEcdsaSign(peer int, share engine.Share, data []byte, refresh bool) (engine.Session, error) {
	const op = "init-ecdsa-sign"
	if len(data) == 0 {
		return nil, engine.Errorf(op, engine.CodeBadArgument, "empty data")
	}
	ks, err := inputShare(op, share, shareEcdsa, peer)
	if err != nil {
		return nil, err
	}
	return e.newSession(opEcdsaSign, peer, &ecdsaSign{Key: ks, Data: cloneBytes(data), Refresh: refresh})
}

func (e *Engine) InitBackupEcdsaKey(peer int, share engine.Share, backupPublicKey []byte) (engine.Session, error) {
	return e.initBackup(opEcdsaBackup, peer, share, shareEcdsa, backupPublicKey)
}

func (e *Engine) InitGenerateEddsaKey(peer int) (engine.Session, error) {
	return e.newSession(opEddsaKeygen, peer, &eddsaKeygen{})
}

func (e *Engine) InitEddsaSign(peer int, share engine.Share, data []byte, refresh bool) (engine.Session, error) {
	const op = "init-eddsa-sign"
	ks, err := inputShare(op, share, shareEddsa, peer)
	if err != nil {
		return nil, err
	}
	return e.newSession(opEddsaSign, peer, &eddsaSign{Key: ks, Data: cloneBytes(data), Refresh: refresh})
}

func (e *Engine) InitBackupEddsaKey(peer int, share engine.Share, backupPublicKey []byte) (engine.Session, error) {
	return e.initBackup(opEddsaBackup, peer, share, shareEddsa, backupPublicKey)
}

func (e *Engine) initBackup(op opcode, peer int, share engine.Share, want shareType, backupPublicKey []byte) (engine.Session, error) {
	if _, err := parseBackupPublicKey(backupPublicKey); err != nil {
		return nil, err
	}
	ks, err := inputShare("init-"+op.String(), share, want, peer)
	if err != nil {
		return nil, err
	}
	return e.newSession(op, peer, &backup{Key: ks, BackupPublicKey: cloneBytes(backupPublicKey)})
}

func (e *Engine) EcdsaPublicKey(share engine.Share) ([]byte, error) {
	ks, err := inputShare("ecdsa-public", share, shareEcdsa, 0)
	if err != nil {
		return nil, err
	}
	defer ks.wipe()
	return ks.PublicKey, nil
}

func (e *Engine) EddsaPublicKey(share engine.Share) ([32]byte, error) {
	var pub [32]byte
	ks, err := inputShare("eddsa-public", share, shareEddsa, 0)
	if err != nil {
		return pub, err
	}
	defer ks.wipe()
	copy(pub[:], ks.PublicKey)
	return pub, nil
}

func (e *Engine) SerializePubBIP32(share engine.Share) (string, error) {
	ks, err := inputShare("xpub", share, shareEcdsa, 0)
	if err != nil {
		return "", err
	}
	defer ks.wipe()
	return serializeXPub(ks)
}

func (e *Engine) VerifyEcdsa(publicKey, hash, signature []byte) error {
	if _, err := btcec.ParsePubKey(publicKey); err != nil {
		return engine.Errorf("verify-ecdsa", engine.CodeBadArgument, "public key: %v", err)
	}
	sig, err := btcecdsa.ParseDERSignature(signature)
	if err != nil {
		return engine.Errorf("verify-ecdsa", engine.CodeFormat, "signature: %v", err)
	}
	return verifyEcdsaSig(publicKey, hash, sig)
}

func (e *Engine) VerifyEddsa(publicKey, message []byte, signature [64]byte) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return engine.Errorf("verify-eddsa", engine.CodeBadArgument, "public key of %d bytes", len(publicKey))
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), message, signature[:]) {
		return engine.Errorf("verify-eddsa", engine.CodeCrypto, "eddsa signature does not verify")
	}
	return nil
}

func (e *Engine) VerifyEcdsaBackup(backupPublicKey, publicKey, backup []byte) error {
	return verifyBackup(shareEcdsa, backupPublicKey, publicKey, backup)
}

func (e *Engine) RestoreEcdsaKey(backupPrivateKey, publicKey, backup []byte) ([]byte, error) {
	return restoreScalar(shareEcdsa, backupPrivateKey, publicKey, backup)
}

func (e *Engine) VerifyEddsaBackup(backupPublicKey []byte, publicKey [32]byte, backup []byte) error {
	return verifyBackup(shareEddsa, backupPublicKey, publicKey[:], backup)
}

func (e *Engine) RestoreEddsaKey(backupPrivateKey []byte, publicKey [32]byte, backup []byte) ([32]byte, error) {
	var key [32]byte
	x, err := restoreScalar(shareEddsa, backupPrivateKey, publicKey[:], backup)
	if err != nil {
		return key, err
	}
	copy(key[:], x)
	clear(x)
	return key, nil
}

var _ engine.Engine = (*Engine)(nil)
