package refengine

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

var (
	one = big.NewInt(1)
	two = big.NewInt(2)
)

var errPaillierCiphertext = errors.New("paillier: ciphertext out of range")

// paillierPublic is the encryption half of a Paillier key with generator
// g = n + 1.
type paillierPublic struct {
	n  *big.Int
	nn *big.Int
}

type paillierPrivate struct {
	paillierPublic
	p, q   *big.Int
	phi    *big.Int
	phiInv *big.Int
}

func newPaillierPublic(n *big.Int) *paillierPublic {
	return &paillierPublic{n: n, nn: new(big.Int).Mul(n, n)}
}

func newPaillierPrivate(p, q *big.Int) (*paillierPrivate, error) {
	n := new(big.Int).Mul(p, q)
	phi := new(big.Int).Mul(new(big.Int).Sub(p, one), new(big.Int).Sub(q, one))
	phiInv := new(big.Int).ModInverse(phi, n)
	if phiInv == nil {
		return nil, errors.New("paillier: phi not invertible modulo n")
	}
	return &paillierPrivate{
		paillierPublic: *newPaillierPublic(n),
		p:              p,
		q:              q,
		phi:            phi,
		phiInv:         phiInv,
	}, nil
}

func generatePaillier(r io.Reader, bits int) (*paillierPrivate, error) {
	for {
		p, err := rand.Prime(r, bits/2)
		if err != nil {
			return nil, err
		}
		q, err := rand.Prime(r, bits/2)
		if err != nil {
			return nil, err
		}
		if p.Cmp(q) == 0 {
			continue
		}
		if new(big.Int).Mul(p, q).BitLen() != bits {
			continue
		}
		return newPaillierPrivate(p, q)
	}
}

// derivePaillier builds a key whose primes are a pure function of seed, so
// that replaying a derivation reproduces the same key.
func derivePaillier(seed []byte, bits int) (*paillierPrivate, error) {
	p, err := derivePrime(seed, "paillier-p", bits/2)
	if err != nil {
		return nil, err
	}
	q, err := derivePrime(seed, "paillier-q", bits/2)
	if err != nil {
		return nil, err
	}
	if p.Cmp(q) == 0 {
		return nil, errors.New("paillier: derived equal primes")
	}
	return newPaillierPrivate(p, q)
}

func derivePrime(seed []byte, label string, bits int) (*big.Int, error) {
	buf := make([]byte, (bits+7)/8)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, nil, []byte(label)), buf); err != nil {
		return nil, err
	}
	p := new(big.Int).SetBytes(buf)
	// Keep the modulus at full length and start from an odd candidate.
	p.SetBit(p, bits-1, 1)
	p.SetBit(p, bits-2, 1)
	p.SetBit(p, 0, 1)
	for !p.ProbablyPrime(20) {
		p.Add(p, two)
	}
	return p, nil
}

func (pk *paillierPublic) randomUnit(r io.Reader) (*big.Int, error) {
	for {
		v, err := rand.Int(r, pk.n)
		if err != nil {
			return nil, err
		}
		if v.Sign() > 0 && new(big.Int).GCD(nil, nil, v, pk.n).Cmp(one) == 0 {
			return v, nil
		}
	}
}

func (pk *paillierPublic) encrypt(r io.Reader, m *big.Int) (*big.Int, error) {
	rho, err := pk.randomUnit(r)
	if err != nil {
		return nil, err
	}
	return pk.encryptWithNonce(m, rho), nil
}

// encryptWithNonce computes (1 + m*n) * rho^n mod n^2.
func (pk *paillierPublic) encryptWithNonce(m, rho *big.Int) *big.Int {
	gm := new(big.Int).Mod(m, pk.n)
	gm.Mul(gm, pk.n)
	gm.Add(gm, one)
	rn := new(big.Int).Exp(rho, pk.n, pk.nn)
	gm.Mul(gm, rn)
	return gm.Mod(gm, pk.nn)
}

func (pk *paillierPublic) add(c1, c2 *big.Int) *big.Int {
	r := new(big.Int).Mul(c1, c2)
	return r.Mod(r, pk.nn)
}

func (pk *paillierPublic) mulConst(c, k *big.Int) *big.Int {
	return new(big.Int).Exp(c, k, pk.nn)
}

func (pk *paillierPublic) validCiphertext(c *big.Int) bool {
	if c.Sign() <= 0 || c.Cmp(pk.nn) >= 0 {
		return false
	}
	return new(big.Int).GCD(nil, nil, c, pk.n).Cmp(one) == 0
}

func (sk *paillierPrivate) decrypt(c *big.Int) (*big.Int, error) {
	if !sk.validCiphertext(c) {
		return nil, errPaillierCiphertext
	}
	u := new(big.Int).Exp(c, sk.phi, sk.nn)
	u.Sub(u, one)
	u.Div(u, sk.n)
	u.Mul(u, sk.phiInv)
	return u.Mod(u, sk.n), nil
}
