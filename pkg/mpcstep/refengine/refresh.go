package refengine

import (
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
)

// refresh re-randomizes a share pair with a jointly sampled offset; the
// public key (or generic secret) is unchanged.
//
//	1 -> 2: H(seed1)
//	2 -> 1: seed2
//	1 -> 2: seed1
type refresh struct {
	Key        *keyShare
	Seed       []byte
	Salt       []byte
	PeerCommit []byte
	PeerSeed   []byte
	Result     *keyShare
}

type refreshCommit struct {
	Commit []byte
}

type refreshSeed struct {
	Seed []byte
	Salt []byte
}

const refreshSeedTag = "refresh-seed"

func (p *refresh) step(e *Engine, role, stage int, in []byte) ([]byte, engine.Flags, error) {
	const op = "refresh"
	switch {
	case role == 1 && stage == 0:
		seed, err := e.randomBytes(32)
		if err != nil {
			return nil, 0, err
		}
		salt, err := e.randomBytes(32)
		if err != nil {
			return nil, 0, err
		}
		p.Seed, p.Salt = seed, salt
		out, err := encodeBody(op, &refreshCommit{Commit: commitment(refreshSeedTag, salt, seed)})
		return out, 0, err

	case role == 2 && stage == 0:
		var msg refreshCommit
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		if len(msg.Commit) == 0 {
			return nil, 0, engine.Errorf(op, engine.CodeFormat, "missing seed commitment")
		}
		seed, err := e.randomBytes(32)
		if err != nil {
			return nil, 0, err
		}
		p.Seed = seed
		p.PeerCommit = msg.Commit
		out, err := encodeBody(op, &refreshSeed{Seed: seed})
		return out, 0, err

	case role == 1 && stage == 1:
		var msg refreshSeed
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		if len(msg.Seed) != 32 {
			return nil, 0, engine.Errorf(op, engine.CodeFormat, "malformed seed")
		}
		if err := p.apply(role, p.Seed, msg.Seed); err != nil {
			return nil, 0, err
		}
		out, err := encodeBody(op, &refreshSeed{Seed: p.Seed, Salt: p.Salt})
		return out, engine.FlagChanged | engine.FlagFinished, err

	case role == 2 && stage == 1:
		var msg refreshSeed
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		if !openCommitment(refreshSeedTag, p.PeerCommit, msg.Salt, msg.Seed) {
			return nil, 0, engine.Errorf(op, engine.CodeCrypto, "seed commitment does not open")
		}
		if err := p.apply(role, msg.Seed, p.Seed); err != nil {
			return nil, 0, err
		}
		return nil, engine.FlagChanged | engine.FlagFinished, nil
	}
	return nil, 0, unexpectedStage(opRefresh, role, stage)
}

// apply derives the offset from both seeds, always ordered role 1 first.
func (p *refresh) apply(role int, seed1, seed2 []byte) error {
	joint := transcriptWide("refresh-offset", p.Key.PublicKey, seed1, seed2)
	defer clear(joint)

	var (
		next *keyShare
		err  error
	)
	switch p.Key.Type {
	case shareEcdsa:
		next, err = offsetEcdsaShare(p.Key, role, hashScalar(joint))
	case shareEddsa:
		next, err = offsetEddsaShare(p.Key, role, edScalarFromDigest(joint))
	case shareGenericSecret:
		var mask []byte
		mask, err = expand(joint, "refresh-mask", len(p.Key.Secret))
		if err == nil {
			next = p.Key.clone()
			next.Secret = xorBytes(p.Key.Secret, mask)
			clear(mask)
		}
	default:
		err = engine.Errorf("refresh", engine.CodeBadArgument, "cannot refresh %s share", p.Key.Type)
	}
	if err != nil {
		return err
	}
	p.Result = next
	return nil
}

func (p *refresh) share() *keyShare { return p.Result }

func (p *refresh) wipe() {
	clear(p.Seed)
	p.Key.wipe()
	p.Result.wipe()
}
