package refengine

import (
	"crypto/ed25519"

	"filippo.io/edwards25519"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
)

// eddsaKeygen produces additive Ed25519 scalar shares.
//
//	1 -> 2: A1
//	2 -> 1: A2
type eddsaKeygen struct {
	X      []byte
	Result *keyShare
}

type eddsaKeygenMsg struct {
	A []byte
}

func (p *eddsaKeygen) step(e *Engine, role, stage int, in []byte) ([]byte, engine.Flags, error) {
	const op = "eddsa-keygen"
	switch {
	case role == 1 && stage == 0:
		a1, err := randomEdScalar(e.rand)
		if err != nil {
			return nil, 0, err
		}
		p.X = a1.Bytes()
		out, err := encodeBody(op, &eddsaKeygenMsg{A: edBaseMult(a1).Bytes()})
		return out, 0, err

	case role == 2 && stage == 0:
		var msg eddsaKeygenMsg
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		a2, err := randomEdScalar(e.rand)
		if err != nil {
			return nil, 0, err
		}
		p.X = a2.Bytes()
		own := edBaseMult(a2).Bytes()
		result, err := p.finish(role, own, msg.A)
		if err != nil {
			return nil, 0, err
		}
		p.Result = result
		out, err := encodeBody(op, &eddsaKeygenMsg{A: own})
		return out, engine.FlagChanged | engine.FlagFinished, err

	case role == 1 && stage == 1:
		var msg eddsaKeygenMsg
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		a1, _ := edScalar(p.X)
		result, err := p.finish(role, edBaseMult(a1).Bytes(), msg.A)
		if err != nil {
			return nil, 0, err
		}
		p.Result = result
		return nil, engine.FlagChanged | engine.FlagFinished, nil
	}
	return nil, 0, unexpectedStage(opEddsaKeygen, role, stage)
}

func (p *eddsaKeygen) finish(role int, own, peer []byte) (*keyShare, error) {
	ownPoint, _ := edPoint(own)
	peerPoint, ok := edPoint(peer)
	if !ok {
		return nil, engine.Errorf("eddsa-keygen", engine.CodeFormat, "invalid public share")
	}
	joint := new(edwards25519.Point).Add(ownPoint, peerPoint)
	if joint.Equal(edwards25519.NewIdentityPoint()) == 1 {
		return nil, engine.Errorf("eddsa-keygen", engine.CodeCrypto, "degenerate public key")
	}
	return &keyShare{
		Version:    wireVersion,
		Type:       shareEddsa,
		Role:       role,
		X:          cloneBytes(p.X),
		PublicKey:  joint.Bytes(),
		PeerPublic: cloneBytes(peer),
	}, nil
}

func (p *eddsaKeygen) share() *keyShare { return p.Result }

func (p *eddsaKeygen) wipe() {
	clear(p.X)
	p.Result.wipe()
}

// eddsaSign produces a plain RFC 8032 signature from additive shares with a
// committed nonce from role 1.
//
//	1 -> 2: H(R1)
//	2 -> 1: R2
//	1 -> 2: R1, s1
//	2 -> 1: s2
type eddsaSign struct {
	Key        *keyShare
	Data       []byte
	Refresh    bool
	R          []byte
	CommitSalt []byte
	PeerCommit []byte
	JointR     []byte
	Partial    []byte
	Sig        []byte
	Refreshed  *keyShare
}

type eddsaSignCommit struct {
	Commit []byte
}

type eddsaSignNonce struct {
	R []byte
}

type eddsaSignOpen struct {
	R    []byte
	Salt []byte
	S    []byte
}

type eddsaSignPartial struct {
	S []byte
}

const eddsaNonceTag = "eddsa-sign-nonce"

func (p *eddsaSign) step(e *Engine, role, stage int, in []byte) ([]byte, engine.Flags, error) {
	const op = "eddsa-sign"
	switch {
	case role == 1 && stage == 0:
		r1, err := randomEdScalar(e.rand)
		if err != nil {
			return nil, 0, err
		}
		salt, err := e.randomBytes(32)
		if err != nil {
			return nil, 0, err
		}
		p.R = r1.Bytes()
		p.CommitSalt = salt
		c := commitment(eddsaNonceTag, salt, edBaseMult(r1).Bytes())
		out, err := encodeBody(op, &eddsaSignCommit{Commit: c})
		return out, 0, err

	case role == 2 && stage == 0:
		var msg eddsaSignCommit
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		if len(msg.Commit) == 0 {
			return nil, 0, engine.Errorf(op, engine.CodeFormat, "missing nonce commitment")
		}
		r2, err := randomEdScalar(e.rand)
		if err != nil {
			return nil, 0, err
		}
		p.R = r2.Bytes()
		p.PeerCommit = msg.Commit
		out, err := encodeBody(op, &eddsaSignNonce{R: edBaseMult(r2).Bytes()})
		return out, 0, err

	case role == 1 && stage == 1:
		var msg eddsaSignNonce
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		peerR, ok := edPoint(msg.R)
		if !ok {
			return nil, 0, engine.Errorf(op, engine.CodeFormat, "invalid nonce point")
		}
		r1, _ := edScalar(p.R)
		ownR := edBaseMult(r1)
		bigR := new(edwards25519.Point).Add(ownR, peerR).Bytes()
		s1 := p.partial(r1, bigR)
		p.JointR = bigR
		p.Partial = s1.Bytes()
		out, err := encodeBody(op, &eddsaSignOpen{R: ownR.Bytes(), Salt: p.CommitSalt, S: p.Partial})
		return out, 0, err

	case role == 2 && stage == 1:
		var msg eddsaSignOpen
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		if !openCommitment(eddsaNonceTag, p.PeerCommit, msg.Salt, msg.R) {
			return nil, 0, engine.Errorf(op, engine.CodeCrypto, "nonce commitment does not open")
		}
		peerR, ok := edPoint(msg.R)
		if !ok {
			return nil, 0, engine.Errorf(op, engine.CodeFormat, "invalid nonce point")
		}
		s1, ok := edScalar(msg.S)
		if !ok {
			return nil, 0, engine.Errorf(op, engine.CodeFormat, "invalid partial signature")
		}
		r2, _ := edScalar(p.R)
		bigR := new(edwards25519.Point).Add(edBaseMult(r2), peerR).Bytes()
		s2 := p.partial(r2, bigR)
		if err := p.complete(bigR, s1, s2); err != nil {
			return nil, 0, err
		}
		flags, err := p.maybeRefresh(role)
		if err != nil {
			return nil, 0, err
		}
		out, err := encodeBody(op, &eddsaSignPartial{S: s2.Bytes()})
		return out, flags, err

	case role == 1 && stage == 2:
		var msg eddsaSignPartial
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		s2, ok := edScalar(msg.S)
		if !ok {
			return nil, 0, engine.Errorf(op, engine.CodeFormat, "invalid partial signature")
		}
		s1, _ := edScalar(p.Partial)
		if err := p.complete(p.JointR, s1, s2); err != nil {
			return nil, 0, err
		}
		flags, err := p.maybeRefresh(role)
		return nil, flags, err
	}
	return nil, 0, unexpectedStage(opEddsaSign, role, stage)
}

func (p *eddsaSign) partial(r *edwards25519.Scalar, bigR []byte) *edwards25519.Scalar {
	a, _ := edScalar(p.Key.X)
	k := edChallenge(bigR, p.Key.PublicKey, p.Data)
	return edwards25519.NewScalar().MultiplyAdd(k, a, r)
}

func (p *eddsaSign) complete(bigR []byte, s1, s2 *edwards25519.Scalar) error {
	s := edwards25519.NewScalar().Add(s1, s2)
	sig := make([]byte, 0, ed25519.SignatureSize)
	sig = append(sig, bigR...)
	sig = append(sig, s.Bytes()...)
	if !ed25519.Verify(ed25519.PublicKey(p.Key.PublicKey), p.Data, sig) {
		return engine.Errorf("eddsa-sign", engine.CodeCrypto, "eddsa signature does not verify")
	}
	p.Sig = sig
	return nil
}

func (p *eddsaSign) maybeRefresh(role int) (engine.Flags, error) {
	if !p.Refresh {
		return engine.FlagFinished, nil
	}
	delta := edScalarFromDigest(transcriptWide("eddsa-sign-refresh", p.Key.PublicKey, p.Data, p.Sig))
	next, err := offsetEddsaShare(p.Key, role, delta)
	if err != nil {
		return 0, err
	}
	p.Refreshed = next
	return engine.FlagFinished | engine.FlagChanged, nil
}

func (p *eddsaSign) share() *keyShare { return p.Refreshed }

func (p *eddsaSign) wipe() {
	clear(p.R)
	clear(p.Partial)
	p.Key.wipe()
	p.Refreshed.wipe()
}

// offsetEddsaShare moves delta from role 2's share to role 1's share.
func offsetEddsaShare(ks *keyShare, role int, delta *edwards25519.Scalar) (*keyShare, error) {
	next := ks.clone()
	x, _ := edScalar(ks.X)
	peer, ok := edPoint(ks.PeerPublic)
	if !ok {
		return nil, engine.Errorf("refresh", engine.CodeFormat, "invalid peer public share")
	}
	deltaPoint := edBaseMult(delta)
	if role == 1 {
		x.Add(x, delta)
		next.PeerPublic = new(edwards25519.Point).Subtract(peer, deltaPoint).Bytes()
	} else {
		x.Subtract(x, delta)
		next.PeerPublic = new(edwards25519.Point).Add(peer, deltaPoint).Bytes()
	}
	next.X = x.Bytes()
	return next, nil
}
