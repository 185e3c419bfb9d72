// Package engine describes the primitive surface the session layer needs from
// an external two-party cryptographic engine.
//
// Every handle returned by an Engine is exclusively owned by the caller and
// must be released exactly once with Free. Implementations are not required
// to be safe for concurrent use of a single handle; distinct handles may be
// used from distinct goroutines.
package engine

// Flags is the raw status bitmask reported by Session.Step.
type Flags uint32

const (
	// FlagFinished reports that the session produced its final results.
	FlagFinished Flags = 1
	// FlagChanged reports that the session holds an updated key share.
	FlagChanged Flags = 2
)

// Has reports whether all bits of f are set.
func (fl Flags) Has(f Flags) bool { return fl&f == f }

// Share is an engine-owned key share.
type Share interface {
	Bytes() ([]byte, error)
	Free()
}

// Message is an engine-owned protocol message.
type Message interface {
	Bytes() ([]byte, error)
	Free()
}

// Session is one participant's running protocol state.
type Session interface {
	// Step consumes the optional incoming message and returns the optional
	// outgoing message together with the status flags.
	Step(in Message) (out Message, flags Flags, err error)
	Bytes() ([]byte, error)
	// Peer reports the protocol role (1 or 2) this session plays.
	Peer() (int, error)
	Share() (Share, error)

	ResultEcdsaSign() ([]byte, error)
	ResultEddsaSign() ([64]byte, error)
	ResultBackup() ([]byte, error)
	ResultDeriveBIP32() (Share, error)

	Free()
}

// Engine creates sessions and handles, and offers the stateless helpers that
// operate on serialized keys and backups.
type Engine interface {
	Name() string
	Version() string

	ShareFromBytes(b []byte) (Share, error)
	SessionFromBytes(b []byte) (Session, error)
	MessageFromBytes(b []byte) (Message, error)

	InitGenerateGenericSecret(peer, bits int) (Session, error)
	InitImportGenericSecret(peer int, secret []byte) (Session, error)
	InitRefreshKey(peer int, share Share) (Session, error)
	InitDeriveBIP32(peer int, share Share, hardened bool, index uint32) (Session, error)
	InitGenerateEcdsaKey(peer int) (Session, error)
	InitEcdsaSign(peer int, share Share, data []byte, refresh bool) (Session, error)
	InitBackupEcdsaKey(peer int, share Share, backupPublicKey []byte) (Session, error)
	InitGenerateEddsaKey(peer int) (Session, error)
	InitEddsaSign(peer int, share Share, data []byte, refresh bool) (Session, error)
	InitBackupEddsaKey(peer int, share Share, backupPublicKey []byte) (Session, error)

	EcdsaPublicKey(share Share) ([]byte, error)
	EddsaPublicKey(share Share) ([32]byte, error)
	SerializePubBIP32(share Share) (string, error)

	VerifyEcdsa(publicKey, hash, signature []byte) error
	VerifyEddsa(publicKey, message []byte, signature [64]byte) error

	VerifyEcdsaBackup(backupPublicKey, publicKey, backup []byte) error
	RestoreEcdsaKey(backupPrivateKey, publicKey, backup []byte) ([]byte, error)
	VerifyEddsaBackup(backupPublicKey []byte, publicKey [32]byte, backup []byte) error
	RestoreEddsaKey(backupPrivateKey []byte, publicKey [32]byte, backup []byte) ([32]byte, error)
}
