package refengine

import (
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
)

// ecdsaKeygen produces additive secp256k1 shares. Role 1 owns a Paillier key
// and role 2 keeps Enc(x1) for signing.
//
//	1 -> 2: Q1, N, Enc(x1)
//	2 -> 1: Q2
type ecdsaKeygen struct {
	X        []byte
	Paillier *paillierWire
	EncX1    []byte
	Result   *keyShare
}

type ecdsaKeygenMsg1 struct {
	Q1    []byte
	N     []byte
	EncX1 []byte
}

type ecdsaKeygenMsg2 struct {
	Q2 []byte
}

func (p *ecdsaKeygen) step(e *Engine, role, stage int, in []byte) ([]byte, engine.Flags, error) {
	const op = "ecdsa-keygen"
	switch {
	case role == 1 && stage == 0:
		x1, err := randomSecpScalar(e.rand)
		if err != nil {
			return nil, 0, err
		}
		sk, err := generatePaillier(e.rand, e.opts.PaillierBits)
		if err != nil {
			return nil, 0, err
		}
		c, err := sk.encrypt(e.rand, secpScalarToBig(x1))
		if err != nil {
			return nil, 0, err
		}
		q1, _ := secpEncode(secpBaseMult(x1))
		p.X = secpScalarBytes(x1)
		p.Paillier = paillierToWire(sk)
		out, err := encodeBody(op, &ecdsaKeygenMsg1{Q1: q1, N: sk.n.Bytes(), EncX1: c.Bytes()})
		return out, 0, err

	case role == 2 && stage == 0:
		var msg ecdsaKeygenMsg1
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		q1, ok := secpDecode(msg.Q1)
		if !ok {
			return nil, 0, engine.Errorf(op, engine.CodeFormat, "invalid public share")
		}
		pub, err := e.checkPaillierModulus(op, msg.N)
		if err != nil {
			return nil, 0, err
		}
		if !pub.validCiphertext(new(big.Int).SetBytes(msg.EncX1)) {
			return nil, 0, engine.Errorf(op, engine.CodeCrypto, "invalid encrypted share")
		}
		x2, err := randomSecpScalar(e.rand)
		if err != nil {
			return nil, 0, err
		}
		q2Point := secpBaseMult(x2)
		q, ok := secpEncode(secpAdd(q1, q2Point))
		if !ok {
			return nil, 0, engine.Errorf(op, engine.CodeCrypto, "degenerate public key")
		}
		q2, _ := secpEncode(q2Point)
		p.Result = &keyShare{
			Version:    wireVersion,
			Type:       shareEcdsa,
			Role:       role,
			X:          secpScalarBytes(x2),
			PublicKey:  q,
			PeerPublic: msg.Q1,
			Paillier:   &paillierWire{N: msg.N},
			EncPeerX:   msg.EncX1,
		}
		out, err := encodeBody(op, &ecdsaKeygenMsg2{Q2: q2})
		return out, engine.FlagChanged | engine.FlagFinished, err

	case role == 1 && stage == 1:
		var msg ecdsaKeygenMsg2
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		q2, ok := secpDecode(msg.Q2)
		if !ok {
			return nil, 0, engine.Errorf(op, engine.CodeFormat, "invalid public share")
		}
		x1, _ := secpScalar(p.X)
		q, ok := secpEncode(secpAdd(secpBaseMult(x1), q2))
		if !ok {
			return nil, 0, engine.Errorf(op, engine.CodeCrypto, "degenerate public key")
		}
		p.Result = &keyShare{
			Version:    wireVersion,
			Type:       shareEcdsa,
			Role:       role,
			X:          p.X,
			PublicKey:  q,
			PeerPublic: msg.Q2,
			Paillier:   p.Paillier,
		}
		return nil, engine.FlagChanged | engine.FlagFinished, nil
	}
	return nil, 0, unexpectedStage(opEcdsaKeygen, role, stage)
}

func (p *ecdsaKeygen) share() *keyShare { return p.Result }

func (p *ecdsaKeygen) wipe() {
	clear(p.X)
	if p.Paillier != nil {
		clear(p.Paillier.P)
		clear(p.Paillier.Q)
	}
	p.Result.wipe()
}

// ecdsaSign is a two-party signature over a prehashed message. Role 2
// contributes its half homomorphically under role 1's Paillier key, role 1
// completes the signature and forwards it.
//
//	1 -> 2: R1
//	2 -> 1: R2, Enc(k2^-1 (m + r x2) + rho n) * Enc(x1)^(k2^-1 r)
//	1 -> 2: DER signature
type ecdsaSign struct {
	Key       *keyShare
	Data      []byte
	Refresh   bool
	K         []byte
	Sig       []byte
	Refreshed *keyShare
}

type ecdsaSignMsg1 struct {
	R1 []byte
}

type ecdsaSignMsg2 struct {
	R2 []byte
	C  []byte
}

type ecdsaSignMsg3 struct {
	Sig []byte
}

func (p *ecdsaSign) step(e *Engine, role, stage int, in []byte) ([]byte, engine.Flags, error) {
	const op = "ecdsa-sign"
	switch {
	case role == 1 && stage == 0:
		k1, err := randomSecpScalar(e.rand)
		if err != nil {
			return nil, 0, err
		}
		p.K = secpScalarBytes(k1)
		r1, _ := secpEncode(secpBaseMult(k1))
		out, err := encodeBody(op, &ecdsaSignMsg1{R1: r1})
		return out, 0, err

	case role == 2 && stage == 0:
		var msg ecdsaSignMsg1
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		r1, ok := secpDecode(msg.R1)
		if !ok {
			return nil, 0, engine.Errorf(op, engine.CodeFormat, "invalid nonce point")
		}
		k2, err := randomSecpScalar(e.rand)
		if err != nil {
			return nil, 0, err
		}
		r := secpXScalar(secpMult(k2, r1))
		if r.IsZero() {
			return nil, 0, engine.Errorf(op, engine.CodeCrypto, "zero signature nonce")
		}
		x2, _ := secpScalar(p.Key.X)
		pub := newPaillierPublic(new(big.Int).SetBytes(p.Key.Paillier.N))

		kInv := new(btcec.ModNScalar).InverseValNonConst(k2)
		// a = k2^-1 (m + r x2), b = k2^-1 r
		a := new(btcec.ModNScalar).Mul2(r, x2).Add(hashScalar(p.Data)).Mul(kInv)
		b := new(btcec.ModNScalar).Mul2(kInv, r)

		nn := new(big.Int).Mul(curveN, curveN)
		rho, err := randInt(e.rand, nn)
		if err != nil {
			return nil, 0, err
		}
		v := rho.Mul(rho, curveN)
		v.Add(v, secpScalarToBig(a))
		ca, err := pub.encrypt(e.rand, v)
		if err != nil {
			return nil, 0, err
		}
		c := pub.add(ca, pub.mulConst(new(big.Int).SetBytes(p.Key.EncPeerX), secpScalarToBig(b)))

		p.K = secpScalarBytes(k2)
		r2, _ := secpEncode(secpBaseMult(k2))
		out, err := encodeBody(op, &ecdsaSignMsg2{R2: r2, C: c.Bytes()})
		return out, 0, err

	case role == 1 && stage == 1:
		var msg ecdsaSignMsg2
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		r2, ok := secpDecode(msg.R2)
		if !ok {
			return nil, 0, engine.Errorf(op, engine.CodeFormat, "invalid nonce point")
		}
		k1, _ := secpScalar(p.K)
		r := secpXScalar(secpMult(k1, r2))
		if r.IsZero() {
			return nil, 0, engine.Errorf(op, engine.CodeCrypto, "zero signature nonce")
		}
		sk, err := paillierFromWire(p.Key.Paillier)
		if err != nil {
			return nil, 0, engine.Errorf(op, engine.CodeFormat, "paillier key: %v", err)
		}
		sPrime, err := sk.decrypt(new(big.Int).SetBytes(msg.C))
		if err != nil {
			return nil, 0, engine.Errorf(op, engine.CodeCrypto, "decrypt partial signature: %v", err)
		}
		s := secpScalarFromBig(sPrime)
		s.Mul(new(btcec.ModNScalar).InverseValNonConst(k1))
		if s.IsZero() {
			return nil, 0, engine.Errorf(op, engine.CodeCrypto, "zero signature")
		}
		sig := btcecdsa.NewSignature(r, s)
		if err := verifyEcdsaSig(p.Key.PublicKey, p.Data, sig); err != nil {
			return nil, 0, err
		}
		p.Sig = sig.Serialize()
		flags := engine.FlagFinished
		if p.Refresh {
			if err := p.refreshKey(role); err != nil {
				return nil, 0, err
			}
			flags |= engine.FlagChanged
		}
		out, err := encodeBody(op, &ecdsaSignMsg3{Sig: p.Sig})
		return out, flags, err

	case role == 2 && stage == 1:
		var msg ecdsaSignMsg3
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		sig, err := btcecdsa.ParseDERSignature(msg.Sig)
		if err != nil {
			return nil, 0, engine.Errorf(op, engine.CodeFormat, "signature: %v", err)
		}
		if err := verifyEcdsaSig(p.Key.PublicKey, p.Data, sig); err != nil {
			return nil, 0, err
		}
		p.Sig = sig.Serialize()
		flags := engine.FlagFinished
		if p.Refresh {
			if err := p.refreshKey(role); err != nil {
				return nil, 0, err
			}
			flags |= engine.FlagChanged
		}
		return nil, flags, nil
	}
	return nil, 0, unexpectedStage(opEcdsaSign, role, stage)
}

// refreshKey re-randomizes the shares by an offset both parties derive from
// the signing transcript.
func (p *ecdsaSign) refreshKey(role int) error {
	delta := hashScalar(transcriptHash("ecdsa-sign-refresh", p.Key.PublicKey, p.Data, p.Sig))
	next, err := offsetEcdsaShare(p.Key, role, delta)
	if err != nil {
		return err
	}
	p.Refreshed = next
	return nil
}

func (p *ecdsaSign) share() *keyShare { return p.Refreshed }

func (p *ecdsaSign) wipe() {
	clear(p.K)
	p.Key.wipe()
	p.Refreshed.wipe()
}

// offsetEcdsaShare moves delta from role 2's share to role 1's share. The
// joint key is unchanged; role 2's ciphertext of x1 is updated
// homomorphically with a deterministic nonce so both parties agree on the
// result without another round.
func offsetEcdsaShare(ks *keyShare, role int, delta *btcec.ModNScalar) (*keyShare, error) {
	next := ks.clone()
	x, _ := secpScalar(ks.X)
	deltaPoint := secpBaseMult(delta)
	peer, ok := secpDecode(ks.PeerPublic)
	if !ok {
		return nil, engine.Errorf("refresh", engine.CodeFormat, "invalid peer public share")
	}
	if role == 1 {
		x.Add(delta)
		negDelta := new(btcec.ModNScalar).NegateVal(delta)
		peerNext, ok := secpEncode(secpAdd(peer, secpBaseMult(negDelta)))
		if !ok {
			return nil, engine.Errorf("refresh", engine.CodeCrypto, "degenerate peer share")
		}
		next.PeerPublic = peerNext
	} else {
		x.Add(new(btcec.ModNScalar).NegateVal(delta))
		peerNext, ok := secpEncode(secpAdd(peer, deltaPoint))
		if !ok {
			return nil, engine.Errorf("refresh", engine.CodeCrypto, "degenerate peer share")
		}
		next.PeerPublic = peerNext
		pub := newPaillierPublic(new(big.Int).SetBytes(ks.Paillier.N))
		nonce := deterministicUnit(pub, transcriptHash("refresh-nonce", ks.EncPeerX, secpScalarBytes(delta)))
		encDelta := pub.encryptWithNonce(secpScalarToBig(delta), nonce)
		next.EncPeerX = pub.add(new(big.Int).SetBytes(ks.EncPeerX), encDelta).Bytes()
	}
	if x.IsZero() {
		return nil, engine.Errorf("refresh", engine.CodeCrypto, "degenerate share")
	}
	next.X = secpScalarBytes(x)
	return next, nil
}

func verifyEcdsaSig(publicKey, hash []byte, sig *btcecdsa.Signature) error {
	pub, err := btcec.ParsePubKey(publicKey)
	if err != nil {
		return engine.Errorf("verify", engine.CodeBadArgument, "public key: %v", err)
	}
	if !sig.Verify(hash, pub) {
		return engine.Errorf("verify", engine.CodeCrypto, "ecdsa signature does not verify")
	}
	return nil
}
