package mpcstep

import (
	"runtime"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
)

// Share is an exclusively owned engine handle over one party's key share.
// Contexts exchange shares only as serialized bytes; a Share exists to inspect
// those bytes. Close releases the handle; a finalizer does so as a safety net.
type Share struct {
	lib *Library
	h   engine.Share
}

// LoadShare deserializes share bytes produced by a finished context.
func (l *Library) LoadShare(data []byte) (*Share, error) {
	const op = "load-share"
	if err := l.check(op); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errorf(op, ErrBadArgument, "empty share")
	}
	h, err := l.eng.ShareFromBytes(data)
	if err != nil {
		return nil, remapError(op, err)
	}
	s := &Share{lib: l, h: h}
	runtime.SetFinalizer(s, func(s *Share) { _ = s.Close() })
	return s, nil
}

func (s *Share) handle(op string) (engine.Share, error) {
	if s == nil || s.h == nil {
		return nil, &Error{Op: op, Err: ErrClosed}
	}
	return s.h, nil
}

// Bytes serializes the share.
func (s *Share) Bytes() ([]byte, error) {
	h, err := s.handle("share-bytes")
	if err != nil {
		return nil, err
	}
	b, err := h.Bytes()
	return b, remapError("share-bytes", err)
}

// EcdsaPublicKey returns the joint ECDSA public key of an ECDSA share.
func (s *Share) EcdsaPublicKey() ([]byte, error) {
	h, err := s.handle("ecdsa-public-key")
	if err != nil {
		return nil, err
	}
	pub, err := s.lib.eng.EcdsaPublicKey(h)
	return pub, remapError("ecdsa-public-key", err)
}

// EddsaPublicKey returns the joint Ed25519 public key of an EdDSA share.
func (s *Share) EddsaPublicKey() ([32]byte, error) {
	h, err := s.handle("eddsa-public-key")
	if err != nil {
		return [32]byte{}, err
	}
	pub, err := s.lib.eng.EddsaPublicKey(h)
	return pub, remapError("eddsa-public-key", err)
}

// XPub serializes the BIP32 extended public key of a derived share.
func (s *Share) XPub() (string, error) {
	h, err := s.handle("xpub")
	if err != nil {
		return "", err
	}
	xpub, err := s.lib.eng.SerializePubBIP32(h)
	return xpub, remapError("xpub", err)
}

// Close releases the engine handle. It is idempotent.
func (s *Share) Close() error {
	if s == nil || s.h == nil {
		return nil
	}
	runtime.SetFinalizer(s, nil)
	s.h.Free()
	s.h = nil
	return nil
}

// withShare loads data into a temporary engine handle for fn and releases it
// on every path.
func (l *Library) withShare(op string, data []byte, fn func(engine.Share) error) error {
	if len(data) == 0 {
		return errorf(op, ErrBadArgument, "empty share")
	}
	h, err := l.eng.ShareFromBytes(data)
	if err != nil {
		return remapError(op, err)
	}
	defer h.Free()
	return fn(h)
}
