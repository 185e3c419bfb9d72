package mpcstep

import (
	"errors"
	"fmt"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
)

// verdict turns an engine verification result into (ok, err): a
// cryptographic rejection is a negative answer, anything else is an error.
func verdict(op string, err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	var ce *engine.CodeError
	if errors.As(err, &ce) && ce.Code == engine.CodeCrypto {
		return false, nil
	}
	return false, remapError(op, err)
}

// VerifyEcdsaBackup reports whether backup holds the ECDSA key publicKey
// encrypted to backupPublicKey.
func (l *Library) VerifyEcdsaBackup(backupPublicKey, publicKey, backup []byte) (bool, error) {
	const op = "verify-ecdsa-backup"
	if err := l.check(op); err != nil {
		return false, err
	}
	return verdict(op, l.eng.VerifyEcdsaBackup(backupPublicKey, publicKey, backup))
}

// RestoreEcdsaKey decrypts backup with backupPrivateKey and returns the raw
// secp256k1 private key. The caller owns the returned bytes and should
// zeroize them after use.
func (l *Library) RestoreEcdsaKey(backupPrivateKey, publicKey, backup []byte) ([]byte, error) {
	const op = "restore-ecdsa-key"
	if err := l.check(op); err != nil {
		return nil, err
	}
	key, err := l.eng.RestoreEcdsaKey(backupPrivateKey, publicKey, backup)
	if err != nil {
		return nil, remapError(op, err)
	}
	return key, nil
}

// VerifyEddsaBackup reports whether backup holds the Ed25519 key publicKey
// encrypted to backupPublicKey.
func (l *Library) VerifyEddsaBackup(backupPublicKey, publicKey, backup []byte) (bool, error) {
	const op = "verify-eddsa-backup"
	if err := l.check(op); err != nil {
		return false, err
	}
	pub, err := eddsaPublicKey(op, publicKey)
	if err != nil {
		return false, err
	}
	return verdict(op, l.eng.VerifyEddsaBackup(backupPublicKey, pub, backup))
}

// RestoreEddsaKey decrypts backup with backupPrivateKey and returns the
// 32-byte Ed25519 secret scalar.
func (l *Library) RestoreEddsaKey(backupPrivateKey, publicKey, backup []byte) ([32]byte, error) {
	const op = "restore-eddsa-key"
	if err := l.check(op); err != nil {
		return [32]byte{}, err
	}
	pub, err := eddsaPublicKey(op, publicKey)
	if err != nil {
		return [32]byte{}, err
	}
	key, err := l.eng.RestoreEddsaKey(backupPrivateKey, pub, backup)
	if err != nil {
		return [32]byte{}, remapError(op, err)
	}
	return key, nil
}

// VerifyEcdsa reports whether the DER signature over hash verifies against
// publicKey.
func (l *Library) VerifyEcdsa(publicKey, hash, signature []byte) (bool, error) {
	const op = "verify-ecdsa"
	if err := l.check(op); err != nil {
		return false, err
	}
	return verdict(op, l.eng.VerifyEcdsa(publicKey, hash, signature))
}

// VerifyEddsa reports whether the 64-byte signature over message verifies
// against publicKey.
func (l *Library) VerifyEddsa(publicKey, message, signature []byte) (bool, error) {
	const op = "verify-eddsa"
	if err := l.check(op); err != nil {
		return false, err
	}
	if len(signature) != 64 {
		return false, errorf(op, ErrBadArgument, "signature of %d bytes", len(signature))
	}
	return verdict(op, l.eng.VerifyEddsa(publicKey, message, [64]byte(signature)))
}

func eddsaPublicKey(op string, b []byte) ([32]byte, error) {
	if len(b) != 32 {
		return [32]byte{}, &Error{Op: op, Err: fmt.Errorf("%w: public key of %d bytes", ErrBadArgument, len(b))}
	}
	return [32]byte(b), nil
}
