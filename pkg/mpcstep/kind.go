package mpcstep

import "fmt"

// OperationKind identifies the MPC operation a Context runs. The values are
// the tag byte of a serialized Context and must never be renumbered.
type OperationKind uint8

const (
	GenerateGenericSecret OperationKind = 0
	Refresh               OperationKind = 1
	DeriveBIP32           OperationKind = 2
	EcdsaSign             OperationKind = 3
	GenerateEcdsaKey      OperationKind = 4
	BackupEcdsaKey        OperationKind = 5
	EddsaSign             OperationKind = 6
	GenerateEddsaKey      OperationKind = 7
	BackupEddsaKey        OperationKind = 8
)

func (k OperationKind) String() string {
	switch k {
	case GenerateGenericSecret:
		return "generate-generic-secret"
	case Refresh:
		return "refresh"
	case DeriveBIP32:
		return "derive-bip32"
	case EcdsaSign:
		return "ecdsa-sign"
	case GenerateEcdsaKey:
		return "generate-ecdsa-key"
	case BackupEcdsaKey:
		return "backup-ecdsa-key"
	case EddsaSign:
		return "eddsa-sign"
	case GenerateEddsaKey:
		return "generate-eddsa-key"
	case BackupEddsaKey:
		return "backup-eddsa-key"
	default:
		return fmt.Sprintf("OperationKind(%d)", uint8(k))
	}
}

// Valid reports whether k is a known kind.
func (k OperationKind) Valid() bool { return k <= BackupEddsaKey }

// IsKeyGeneration reports whether k creates a fresh key.
func (k OperationKind) IsKeyGeneration() bool {
	return k == GenerateGenericSecret || k == GenerateEcdsaKey || k == GenerateEddsaKey
}

// IsSign reports whether k produces a signature.
func (k OperationKind) IsSign() bool { return k == EcdsaSign || k == EddsaSign }

// IsBackup reports whether k produces a backup package.
func (k OperationKind) IsBackup() bool { return k == BackupEcdsaKey || k == BackupEddsaKey }

// producesShare reports whether a finished context of kind k holds a share.
func (k OperationKind) producesShare() bool {
	return k.IsKeyGeneration() || k == Refresh || k == DeriveBIP32 || k.IsSign()
}

// hasPublicKey reports whether k defines the public key slot.
func (k OperationKind) hasPublicKey() bool {
	return k == GenerateEcdsaKey || k == GenerateEddsaKey || k == DeriveBIP32
}
