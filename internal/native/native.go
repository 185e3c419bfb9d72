//go:build cgo && mpccrypto

package native

/*
#include <stdlib.h>
#include <string.h>
#include "mpc_crypto.h"
*/
import "C"

import (
	"strings"
	"unsafe"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
)

// New returns the engine backed by libmpc_crypto.
func New() (engine.Engine, error) { return &Engine{}, nil }

// Available reports whether the native library is linked in.
func Available() bool { return true }

// Version returns the native library version. MPCCrypto exposes no version
// call, so this is the API generation the binding targets.
func Version() string { return "mpc-crypto/1" }

// Engine implements engine.Engine over the MPCCrypto C API.
type Engine struct{}

func (*Engine) Name() string    { return engineName }
func (*Engine) Version() string { return Version() }

func fail(op string, rc C.int) error {
	return &engine.CodeError{Op: op, Code: engine.Code(uint32(rc))}
}

func badArg(op, msg string) error {
	return &engine.CodeError{Op: op, Code: engine.CodeBadArgument, Msg: msg}
}

// cbytes exposes b to C for the duration of a call. The C side only reads it.
func cbytes(b []byte) (*C.uint8_t, C.int) {
	if len(b) == 0 {
		return nil, 0
	}
	return (*C.uint8_t)(unsafe.Pointer(&b[0])), C.int(len(b))
}

// sizeThenFill runs the two-call pattern of the C API: the first call with a
// nil buffer reports the size, the second fills the buffer.
func sizeThenFill(op string, call func(out *C.uint8_t, size *C.int) C.int) ([]byte, error) {
	var size C.int
	if rc := call(nil, &size); rc != 0 {
		return nil, fail(op, rc)
	}
	if size <= 0 {
		return nil, nil
	}
	buf := make([]byte, int(size))
	if rc := call((*C.uint8_t)(unsafe.Pointer(&buf[0])), &size); rc != 0 {
		return nil, fail(op, rc)
	}
	return buf[:int(size)], nil
}

type share struct{ p *C.MPCCryptoShare }

func (s *share) Bytes() ([]byte, error) {
	if s == nil || s.p == nil {
		return nil, badArg("share-to-buf", "share released")
	}
	return sizeThenFill("share-to-buf", func(out *C.uint8_t, size *C.int) C.int {
		return C.MPCCrypto_shareToBuf(s.p, out, size)
	})
}

func (s *share) Free() {
	if s == nil || s.p == nil {
		return
	}
	C.MPCCrypto_freeShare(s.p)
	s.p = nil
}

type message struct{ p *C.MPCCryptoMessage }

func (m *message) Bytes() ([]byte, error) {
	if m == nil || m.p == nil {
		return nil, badArg("message-to-buf", "message released")
	}
	return sizeThenFill("message-to-buf", func(out *C.uint8_t, size *C.int) C.int {
		return C.MPCCrypto_messageToBuf(m.p, out, size)
	})
}

func (m *message) Free() {
	if m == nil || m.p == nil {
		return
	}
	C.MPCCrypto_freeMessage(m.p)
	m.p = nil
}

type session struct{ p *C.MPCCryptoContext }

func (s *session) Step(in engine.Message) (engine.Message, engine.Flags, error) {
	if s == nil || s.p == nil {
		return nil, 0, badArg("step", "session released")
	}
	var inPtr *C.MPCCryptoMessage
	if in != nil {
		m, ok := in.(*message)
		if !ok || m.p == nil {
			return nil, 0, badArg("step", "foreign or released message")
		}
		inPtr = m.p
	}
	var (
		out   *C.MPCCryptoMessage
		flags C.uint
	)
	if rc := C.MPCCrypto_step(s.p, inPtr, &out, &flags); rc != 0 {
		return nil, 0, fail("step", rc)
	}
	var msg engine.Message
	if out != nil {
		msg = &message{p: out}
	}
	return msg, engine.Flags(flags), nil
}

func (s *session) Bytes() ([]byte, error) {
	if s == nil || s.p == nil {
		return nil, badArg("context-to-buf", "session released")
	}
	return sizeThenFill("context-to-buf", func(out *C.uint8_t, size *C.int) C.int {
		return C.MPCCrypto_contextToBuf(s.p, out, size)
	})
}

func (s *session) Peer() (int, error) {
	if s == nil || s.p == nil {
		return 0, badArg("context-info", "session released")
	}
	var info C.mpc_crypto_context_info_t
	if rc := C.MPCCrypto_contextInfo(s.p, &info); rc != 0 {
		return 0, fail("context-info", rc)
	}
	return int(info.peer), nil
}

func (s *session) Share() (engine.Share, error) {
	if s == nil || s.p == nil {
		return nil, badArg("get-share", "session released")
	}
	var p *C.MPCCryptoShare
	if rc := C.MPCCrypto_getShare(s.p, &p); rc != 0 {
		return nil, fail("get-share", rc)
	}
	return &share{p: p}, nil
}

func (s *session) ResultEcdsaSign() ([]byte, error) {
	if s == nil || s.p == nil {
		return nil, badArg("result-ecdsa-sign", "session released")
	}
	return sizeThenFill("result-ecdsa-sign", func(out *C.uint8_t, size *C.int) C.int {
		return C.MPCCrypto_getResultEcdsaSign(s.p, out, size)
	})
}

func (s *session) ResultEddsaSign() ([64]byte, error) {
	var sig [64]byte
	if s == nil || s.p == nil {
		return sig, badArg("result-eddsa-sign", "session released")
	}
	if rc := C.MPCCrypto_getResultEddsaSign(s.p, (*C.uint8_t)(unsafe.Pointer(&sig[0]))); rc != 0 {
		return sig, fail("result-eddsa-sign", rc)
	}
	return sig, nil
}

// ResultBackup tries the ECDSA getter first. A session restored from bytes
// does not remember which backup it runs, and the C API rejects the wrong
// getter with a bad-argument code.
func (s *session) ResultBackup() ([]byte, error) {
	if s == nil || s.p == nil {
		return nil, badArg("result-backup", "session released")
	}
	out, err := sizeThenFill("result-backup", func(out *C.uint8_t, size *C.int) C.int {
		return C.MPCCrypto_getResultBackupEcdsaKey(s.p, out, size)
	})
	if err == nil {
		return out, nil
	}
	return sizeThenFill("result-backup", func(out *C.uint8_t, size *C.int) C.int {
		return C.MPCCrypto_getResultBackupEddsaKey(s.p, out, size)
	})
}

func (s *session) ResultDeriveBIP32() (engine.Share, error) {
	if s == nil || s.p == nil {
		return nil, badArg("result-derive-bip32", "session released")
	}
	var p *C.MPCCryptoShare
	if rc := C.MPCCrypto_getResultDeriveBIP32(s.p, &p); rc != 0 {
		return nil, fail("result-derive-bip32", rc)
	}
	return &share{p: p}, nil
}

func (s *session) Free() {
	if s == nil || s.p == nil {
		return
	}
	C.MPCCrypto_freeContext(s.p)
	s.p = nil
}

func (*Engine) ShareFromBytes(b []byte) (engine.Share, error) {
	in, n := cbytes(b)
	var p *C.MPCCryptoShare
	if rc := C.MPCCrypto_shareFromBuf(in, n, &p); rc != 0 {
		return nil, fail("share-from-buf", rc)
	}
	return &share{p: p}, nil
}

func (*Engine) SessionFromBytes(b []byte) (engine.Session, error) {
	in, n := cbytes(b)
	var p *C.MPCCryptoContext
	if rc := C.MPCCrypto_contextFromBuf(in, n, &p); rc != 0 {
		return nil, fail("context-from-buf", rc)
	}
	return &session{p: p}, nil
}

func (*Engine) MessageFromBytes(b []byte) (engine.Message, error) {
	in, n := cbytes(b)
	var p *C.MPCCryptoMessage
	if rc := C.MPCCrypto_messageFromBuf(in, n, &p); rc != 0 {
		return nil, fail("message-from-buf", rc)
	}
	return &message{p: p}, nil
}

func sharePtr(op string, s engine.Share) (*C.MPCCryptoShare, error) {
	h, ok := s.(*share)
	if !ok || h == nil || h.p == nil {
		return nil, badArg(op, "foreign or released share")
	}
	return h.p, nil
}

func newSession(op string, rc C.int, p *C.MPCCryptoContext) (engine.Session, error) {
	if rc != 0 {
		return nil, fail(op, rc)
	}
	return &session{p: p}, nil
}

func cbool(v bool) C.int {
	if v {
		return 1
	}
	return 0
}

func (*Engine) InitGenerateGenericSecret(peer, bits int) (engine.Session, error) {
	var p *C.MPCCryptoContext
	rc := C.MPCCrypto_initGenerateGenericSecret(C.int(peer), C.int(bits), &p)
	return newSession("init-generic-secret", rc, p)
}

func (*Engine) InitImportGenericSecret(peer int, secret []byte) (engine.Session, error) {
	in, n := cbytes(secret)
	var p *C.MPCCryptoContext
	rc := C.MPCCrypto_initImportGenericSecret(C.int(peer), in, n, &p)
	return newSession("init-import-secret", rc, p)
}

func (*Engine) InitRefreshKey(peer int, s engine.Share) (engine.Session, error) {
	sp, err := sharePtr("init-refresh", s)
	if err != nil {
		return nil, err
	}
	var p *C.MPCCryptoContext
	rc := C.MPCCrypto_initRefreshKey(C.int(peer), sp, &p)
	return newSession("init-refresh", rc, p)
}

func (*Engine) InitDeriveBIP32(peer int, s engine.Share, hardened bool, index uint32) (engine.Session, error) {
	sp, err := sharePtr("init-derive-bip32", s)
	if err != nil {
		return nil, err
	}
	var p *C.MPCCryptoContext
	rc := C.MPCCrypto_initDeriveBIP32(C.int(peer), sp, cbool(hardened), C.uint(index), &p)
	return newSession("init-derive-bip32", rc, p)
}

func (*Engine) InitGenerateEcdsaKey(peer int) (engine.Session, error) {
	var p *C.MPCCryptoContext
	rc := C.MPCCrypto_initGenerateEcdsaKey(C.int(peer), &p)
	return newSession("init-ecdsa-keygen", rc, p)
}

func (*Engine) InitEcdsaSign(peer int, s engine.Share, data []byte, refresh bool) (engine.Session, error) {
	sp, err := sharePtr("init-ecdsa-sign", s)
	if err != nil {
		return nil, err
	}
	in, n := cbytes(data)
	var p *C.MPCCryptoContext
	rc := C.MPCCrypto_initEcdsaSign(C.int(peer), sp, in, n, cbool(refresh), &p)
	return newSession("init-ecdsa-sign", rc, p)
}

func (*Engine) InitBackupEcdsaKey(peer int, s engine.Share, backupPublicKey []byte) (engine.Session, error) {
	sp, err := sharePtr("init-ecdsa-backup", s)
	if err != nil {
		return nil, err
	}
	in, n := cbytes(backupPublicKey)
	var p *C.MPCCryptoContext
	rc := C.MPCCrypto_initBackupEcdsaKey(C.int(peer), sp, in, n, &p)
	return newSession("init-ecdsa-backup", rc, p)
}

func (*Engine) InitGenerateEddsaKey(peer int) (engine.Session, error) {
	var p *C.MPCCryptoContext
	rc := C.MPCCrypto_initGenerateEddsaKey(C.int(peer), &p)
	return newSession("init-eddsa-keygen", rc, p)
}

func (*Engine) InitEddsaSign(peer int, s engine.Share, data []byte, refresh bool) (engine.Session, error) {
	sp, err := sharePtr("init-eddsa-sign", s)
	if err != nil {
		return nil, err
	}
	in, n := cbytes(data)
	var p *C.MPCCryptoContext
	rc := C.MPCCrypto_initEddsaSign(C.int(peer), sp, in, n, cbool(refresh), &p)
	return newSession("init-eddsa-sign", rc, p)
}

func (*Engine) InitBackupEddsaKey(peer int, s engine.Share, backupPublicKey []byte) (engine.Session, error) {
	sp, err := sharePtr("init-eddsa-backup", s)
	if err != nil {
		return nil, err
	}
	in, n := cbytes(backupPublicKey)
	var p *C.MPCCryptoContext
	rc := C.MPCCrypto_initBackupEddsaKey(C.int(peer), sp, in, n, &p)
	return newSession("init-eddsa-backup", rc, p)
}

func (*Engine) EcdsaPublicKey(s engine.Share) ([]byte, error) {
	sp, err := sharePtr("ecdsa-public", s)
	if err != nil {
		return nil, err
	}
	return sizeThenFill("ecdsa-public", func(out *C.uint8_t, size *C.int) C.int {
		return C.MPCCrypto_getEcdsaPublic(sp, out, size)
	})
}

func (*Engine) EddsaPublicKey(s engine.Share) ([32]byte, error) {
	var pub [32]byte
	sp, err := sharePtr("eddsa-public", s)
	if err != nil {
		return pub, err
	}
	if rc := C.MPCCrypto_getEddsaPublic(sp, (*C.uint8_t)(unsafe.Pointer(&pub[0]))); rc != 0 {
		return pub, fail("eddsa-public", rc)
	}
	return pub, nil
}

func (*Engine) SerializePubBIP32(s engine.Share) (string, error) {
	sp, err := sharePtr("xpub", s)
	if err != nil {
		return "", err
	}
	out, err := sizeThenFill("xpub", func(out *C.uint8_t, size *C.int) C.int {
		return C.MPCCrypto_serializePubBIP32(sp, (*C.char)(unsafe.Pointer(out)), size)
	})
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(out), "\x00"), nil
}

func (*Engine) VerifyEcdsa(publicKey, hash, signature []byte) error {
	pk, pkn := cbytes(publicKey)
	in, n := cbytes(hash)
	sig, sign := cbytes(signature)
	if rc := C.MPCCrypto_verifyEcdsa(pk, pkn, in, n, sig, sign); rc != 0 {
		return fail("verify-ecdsa", rc)
	}
	return nil
}

func (*Engine) VerifyEddsa(publicKey, message []byte, signature [64]byte) error {
	if len(publicKey) != 32 {
		return badArg("verify-eddsa", "public key must be 32 bytes")
	}
	pk, _ := cbytes(publicKey)
	in, n := cbytes(message)
	rc := C.MPCCrypto_verifyEddsa(pk, in, n, (*C.uint8_t)(unsafe.Pointer(&signature[0])))
	if rc != 0 {
		return fail("verify-eddsa", rc)
	}
	return nil
}

func (*Engine) VerifyEcdsaBackup(backupPublicKey, publicKey, backup []byte) error {
	bk, bkn := cbytes(backupPublicKey)
	pk, pkn := cbytes(publicKey)
	b, bn := cbytes(backup)
	if rc := C.MPCCrypto_verifyEcdsaBackupKey(bk, bkn, pk, pkn, b, bn); rc != 0 {
		return fail("verify-ecdsa-backup", rc)
	}
	return nil
}

func (*Engine) RestoreEcdsaKey(backupPrivateKey, publicKey, backup []byte) ([]byte, error) {
	bk, bkn := cbytes(backupPrivateKey)
	pk, pkn := cbytes(publicKey)
	b, bn := cbytes(backup)
	return sizeThenFill("restore-ecdsa", func(out *C.uint8_t, size *C.int) C.int {
		return C.MPCCrypto_restoreEcdsaKey(bk, bkn, pk, pkn, b, bn, out, size)
	})
}

func (*Engine) VerifyEddsaBackup(backupPublicKey []byte, publicKey [32]byte, backup []byte) error {
	bk, bkn := cbytes(backupPublicKey)
	b, bn := cbytes(backup)
	rc := C.MPCCrypto_verifyEddsaBackupKey(bk, bkn, (*C.uint8_t)(unsafe.Pointer(&publicKey[0])), b, bn)
	if rc != 0 {
		return fail("verify-eddsa-backup", rc)
	}
	return nil
}

func (*Engine) RestoreEddsaKey(backupPrivateKey []byte, publicKey [32]byte, backup []byte) ([32]byte, error) {
	var key [32]byte
	bk, bkn := cbytes(backupPrivateKey)
	b, bn := cbytes(backup)
	rc := C.MPCCrypto_restoreEddsaKey(bk, bkn, (*C.uint8_t)(unsafe.Pointer(&publicKey[0])), b, bn,
		(*C.uint8_t)(unsafe.Pointer(&key[0])))
	if rc != 0 {
		return key, fail("restore-eddsa", rc)
	}
	return key, nil
}

var _ engine.Engine = (*Engine)(nil)
