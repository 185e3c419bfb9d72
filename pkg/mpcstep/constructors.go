package mpcstep

import (
	"context"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
)

func (l *Library) start(op string, kind OperationKind, role Role, init func(peer int) (engine.Session, error)) (*Context, error) {
	if err := l.check(op); err != nil {
		return nil, err
	}
	if !role.valid() {
		return nil, errorf(op, ErrBadArgument, "invalid role %d", uint8(role))
	}
	s, err := init(int(role))
	if err != nil {
		return nil, remapError(op, err)
	}
	c := l.newContext(kind, role, s)
	c.log.Debug(context.Background(), "context created")
	return c, nil
}

// startWithShare deserializes share for init and releases the handle before
// returning, whether or not the context was created.
func (l *Library) startWithShare(op string, kind OperationKind, role Role, share []byte, init func(peer int, h engine.Share) (engine.Session, error)) (*Context, error) {
	if err := l.check(op); err != nil {
		return nil, err
	}
	if !role.valid() {
		return nil, errorf(op, ErrBadArgument, "invalid role %d", uint8(role))
	}
	var c *Context
	err := l.withShare(op, share, func(h engine.Share) error {
		var err error
		c, err = l.start(op, kind, role, func(peer int) (engine.Session, error) {
			return init(peer, h)
		})
		return err
	})
	return c, err
}

// NewGenerateGenericSecretContext starts the joint generation of a random
// secret of bits bits, such as a BIP32 seed.
func (l *Library) NewGenerateGenericSecretContext(role Role, bits int) (*Context, error) {
	return l.start("new-generate-generic-secret", GenerateGenericSecret, role, func(peer int) (engine.Session, error) {
		return l.eng.InitGenerateGenericSecret(peer, bits)
	})
}

// NewImportGenericSecretContext splits an existing secret between the
// parties. RoleP1 supplies the secret; RoleP2 passes nil. The context runs
// as GenerateGenericSecret.
func (l *Library) NewImportGenericSecretContext(role Role, secret []byte) (*Context, error) {
	return l.start("new-import-generic-secret", GenerateGenericSecret, role, func(peer int) (engine.Session, error) {
		return l.eng.InitImportGenericSecret(peer, secret)
	})
}

// NewRefreshContext re-randomizes both parties' shares of one key.
func (l *Library) NewRefreshContext(role Role, share []byte) (*Context, error) {
	return l.startWithShare("new-refresh", Refresh, role, share, func(peer int, h engine.Share) (engine.Session, error) {
		return l.eng.InitRefreshKey(peer, h)
	})
}

// NewDeriveBIP32Context derives a BIP32 child. A generic secret share
// derives the master key (non-hardened, index 0); an ECDSA share from a
// previous derivation derives the child at index.
func (l *Library) NewDeriveBIP32Context(role Role, share []byte, hardened bool, index uint32) (*Context, error) {
	return l.startWithShare("new-derive-bip32", DeriveBIP32, role, share, func(peer int, h engine.Share) (engine.Session, error) {
		return l.eng.InitDeriveBIP32(peer, h, hardened, index)
	})
}

// NewGenerateEcdsaKeyContext starts two-party secp256k1 key generation.
func (l *Library) NewGenerateEcdsaKeyContext(role Role) (*Context, error) {
	return l.start("new-generate-ecdsa-key", GenerateEcdsaKey, role, func(peer int) (engine.Session, error) {
		return l.eng.InitGenerateEcdsaKey(peer)
	})
}

// NewEcdsaSignContext signs the hash data. With refresh set both parties also
// end with refreshed shares.
func (l *Library) NewEcdsaSignContext(role Role, share, data []byte, refresh bool) (*Context, error) {
	return l.startWithShare("new-ecdsa-sign", EcdsaSign, role, share, func(peer int, h engine.Share) (engine.Session, error) {
		return l.eng.InitEcdsaSign(peer, h, data, refresh)
	})
}

// NewBackupEcdsaKeyContext encrypts the key to backupPublicKey.
func (l *Library) NewBackupEcdsaKeyContext(role Role, share, backupPublicKey []byte) (*Context, error) {
	return l.startWithShare("new-backup-ecdsa-key", BackupEcdsaKey, role, share, func(peer int, h engine.Share) (engine.Session, error) {
		return l.eng.InitBackupEcdsaKey(peer, h, backupPublicKey)
	})
}

// NewGenerateEddsaKeyContext starts two-party Ed25519 key generation.
func (l *Library) NewGenerateEddsaKeyContext(role Role) (*Context, error) {
	return l.start("new-generate-eddsa-key", GenerateEddsaKey, role, func(peer int) (engine.Session, error) {
		return l.eng.InitGenerateEddsaKey(peer)
	})
}

// NewEddsaSignContext signs message. With refresh set both parties also end
// with refreshed shares.
func (l *Library) NewEddsaSignContext(role Role, share, message []byte, refresh bool) (*Context, error) {
	return l.startWithShare("new-eddsa-sign", EddsaSign, role, share, func(peer int, h engine.Share) (engine.Session, error) {
		return l.eng.InitEddsaSign(peer, h, message, refresh)
	})
}

// NewBackupEddsaKeyContext encrypts the key to backupPublicKey.
func (l *Library) NewBackupEddsaKeyContext(role Role, share, backupPublicKey []byte) (*Context, error) {
	return l.startWithShare("new-backup-eddsa-key", BackupEddsaKey, role, share, func(peer int, h engine.Share) (engine.Session, error) {
		return l.eng.InitBackupEddsaKey(peer, h, backupPublicKey)
	})
}
