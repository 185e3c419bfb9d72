package refengine

import (
	"io"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
)

var curveN = btcec.S256().N

func randomSecpScalar(r io.Reader) (*btcec.ModNScalar, error) {
	var buf [32]byte
	defer clear(buf[:])
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		var k btcec.ModNScalar
		if overflow := k.SetBytes(&buf); overflow != 0 || k.IsZero() {
			continue
		}
		return &k, nil
	}
}

// secpScalar parses a canonical 32-byte scalar.
func secpScalar(b []byte) (*btcec.ModNScalar, bool) {
	if len(b) != 32 {
		return nil, false
	}
	var k btcec.ModNScalar
	if k.SetByteSlice(b) {
		return nil, false
	}
	return &k, true
}

func secpScalarBytes(k *btcec.ModNScalar) []byte {
	b := k.Bytes()
	return b[:]
}

func secpScalarToBig(k *btcec.ModNScalar) *big.Int {
	b := k.Bytes()
	return new(big.Int).SetBytes(b[:])
}

// secpScalarFromBig reduces v modulo the group order.
func secpScalarFromBig(v *big.Int) *btcec.ModNScalar {
	r := new(big.Int).Mod(v, curveN)
	var k btcec.ModNScalar
	k.SetByteSlice(r.Bytes())
	return &k
}

// hashScalar maps the leading bytes of a digest to a scalar the same way
// ECDSA verification does.
func hashScalar(hash []byte) *btcec.ModNScalar {
	var e btcec.ModNScalar
	e.SetByteSlice(hash)
	return &e
}

func secpBaseMult(k *btcec.ModNScalar) *btcec.JacobianPoint {
	var p btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(k, &p)
	return &p
}

func secpMult(k *btcec.ModNScalar, p *btcec.JacobianPoint) *btcec.JacobianPoint {
	var r btcec.JacobianPoint
	btcec.ScalarMultNonConst(k, p, &r)
	return &r
}

func secpAdd(a, b *btcec.JacobianPoint) *btcec.JacobianPoint {
	var r btcec.JacobianPoint
	btcec.AddNonConst(a, b, &r)
	return &r
}

func secpIsInfinity(p *btcec.JacobianPoint) bool {
	return (p.X.IsZero() && p.Y.IsZero()) || p.Z.IsZero()
}

// secpEncode returns the compressed SEC1 encoding of p.
func secpEncode(p *btcec.JacobianPoint) ([]byte, bool) {
	if secpIsInfinity(p) {
		return nil, false
	}
	a := *p
	a.ToAffine()
	return btcec.NewPublicKey(&a.X, &a.Y).SerializeCompressed(), true
}

func secpDecode(b []byte) (*btcec.JacobianPoint, bool) {
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, false
	}
	var p btcec.JacobianPoint
	pub.AsJacobian(&p)
	return &p, true
}

// secpXScalar returns the affine x coordinate of p reduced modulo the group
// order.
func secpXScalar(p *btcec.JacobianPoint) *btcec.ModNScalar {
	a := *p
	a.ToAffine()
	var r btcec.ModNScalar
	r.SetBytes(a.X.Bytes())
	return &r
}
