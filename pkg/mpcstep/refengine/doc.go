// Package refengine is a pure-Go two-party engine implementing engine.Engine.
//
// It covers every operation the session layer drives: XOR-shared generic
// secrets, secp256k1 ECDSA key generation and signing (additive shares, with
// role 2 holding a Paillier encryption of role 1's share), Ed25519 key
// generation and Schnorr-style signing, share refresh, BIP32 derivation and
// RSA-OAEP key backups.
//
// The engine exists so that the session layer, its persistence, transports
// and the CLI can be exercised without the native library. It omits the
// zero-knowledge proofs a custody deployment relies on, and the master and
// hardened BIP32 derivations reveal each party's share material to the
// counterparty. Use the native engine for real keys.
//
// Role 1 always starts a protocol by stepping with no input. Shares,
// messages, sessions and backup packages are msgpack encoded and carry a
// version byte.
package refengine
