package refengine

import (
	"crypto/sha512"
	"io"

	"filippo.io/edwards25519"
)

func randomEdScalar(r io.Reader) (*edwards25519.Scalar, error) {
	var buf [64]byte
	defer clear(buf[:])
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	return edwards25519.NewScalar().SetUniformBytes(buf[:])
}

func edScalar(b []byte) (*edwards25519.Scalar, bool) {
	s, err := edwards25519.NewScalar().SetCanonicalBytes(b)
	if err != nil {
		return nil, false
	}
	return s, true
}

func edPoint(b []byte) (*edwards25519.Point, bool) {
	p, err := new(edwards25519.Point).SetBytes(b)
	if err != nil {
		return nil, false
	}
	return p, true
}

func edBaseMult(s *edwards25519.Scalar) *edwards25519.Point {
	return new(edwards25519.Point).ScalarBaseMult(s)
}

// edChallenge is the RFC 8032 challenge SHA-512(R || A || M) mod l.
func edChallenge(r, a, msg []byte) *edwards25519.Scalar {
	h := sha512.New()
	h.Write(r)
	h.Write(a)
	h.Write(msg)
	k, _ := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
	return k
}

// edScalarFromDigest reduces a 64-byte digest to a scalar.
func edScalarFromDigest(d []byte) *edwards25519.Scalar {
	s, _ := edwards25519.NewScalar().SetUniformBytes(d)
	return s
}
