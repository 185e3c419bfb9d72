package mpcstep

import "bytes"

// Outcome is the typed result of a finished Context. The concrete type
// depends on the operation kind:
//
//	GenerateGenericSecret, GenerateEcdsaKey, GenerateEddsaKey, Refresh  ShareOutcome
//	DeriveBIP32                                                         DeriveOutcome
//	EcdsaSign                                                           EcdsaSignOutcome
//	EddsaSign                                                           EddsaSignOutcome
//	BackupEcdsaKey, BackupEddsaKey                                      BackupOutcome
type Outcome interface {
	outcome()
	clone() Outcome
	wipe()
}

// ShareOutcome is the result of key generation and refresh. PublicKey is set
// for ECDSA and EdDSA key generation only.
type ShareOutcome struct {
	Kind      OperationKind
	Share     []byte
	PublicKey []byte
}

// DeriveOutcome is the result of a BIP32 derivation.
type DeriveOutcome struct {
	Share     []byte
	PublicKey []byte
	XPub      string
}

// EcdsaSignOutcome holds a DER signature. Share is the refreshed share when
// the signature was requested with refresh, nil otherwise.
type EcdsaSignOutcome struct {
	Signature []byte
	Share     []byte
}

// EddsaSignOutcome holds an Ed25519 signature. Share is the refreshed share
// when the signature was requested with refresh, nil otherwise.
type EddsaSignOutcome struct {
	Signature [64]byte
	Share     []byte
}

// BackupOutcome holds the backup package both parties end up with.
type BackupOutcome struct {
	Kind    OperationKind
	Package []byte
}

func (ShareOutcome) outcome()     {}
func (DeriveOutcome) outcome()    {}
func (EcdsaSignOutcome) outcome() {}
func (EddsaSignOutcome) outcome() {}
func (BackupOutcome) outcome()    {}

func (o ShareOutcome) clone() Outcome {
	return ShareOutcome{Kind: o.Kind, Share: bytes.Clone(o.Share), PublicKey: bytes.Clone(o.PublicKey)}
}

func (o DeriveOutcome) clone() Outcome {
	return DeriveOutcome{Share: bytes.Clone(o.Share), PublicKey: bytes.Clone(o.PublicKey), XPub: o.XPub}
}

func (o EcdsaSignOutcome) clone() Outcome {
	return EcdsaSignOutcome{Signature: bytes.Clone(o.Signature), Share: bytes.Clone(o.Share)}
}

func (o EddsaSignOutcome) clone() Outcome {
	return EddsaSignOutcome{Signature: o.Signature, Share: bytes.Clone(o.Share)}
}

func (o BackupOutcome) clone() Outcome {
	return BackupOutcome{Kind: o.Kind, Package: bytes.Clone(o.Package)}
}

func (o ShareOutcome) wipe()     { ZeroizeBytes(o.Share) }
func (o DeriveOutcome) wipe()    { ZeroizeBytes(o.Share) }
func (o EcdsaSignOutcome) wipe() { ZeroizeBytes(o.Share) }
func (o EddsaSignOutcome) wipe() { ZeroizeBytes(o.Share) }
func (o BackupOutcome) wipe()    {}
