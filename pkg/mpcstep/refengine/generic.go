package refengine

import (
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
)

// genericSecret generates, or imports on behalf of role 1, a secret held as
// XOR shares.
//
//	1 -> 2: bits, mask (mask only when importing)
//	2 -> 1: bits
type genericSecret struct {
	Bits   int
	Import bool
	Input  []byte
	Result *keyShare
}

type genericSecretMsg struct {
	Bits int
	Mask []byte
}

func (p *genericSecret) step(e *Engine, role, stage int, in []byte) ([]byte, engine.Flags, error) {
	const op = "generic-secret"
	switch {
	case role == 1 && stage == 0:
		msg := genericSecretMsg{Bits: p.Bits}
		if p.Import {
			mask, err := e.randomBytes(len(p.Input))
			if err != nil {
				return nil, 0, err
			}
			msg.Mask = mask
			p.Result = p.newShare(role, xorBytes(p.Input, mask))
			clear(p.Input)
			p.Input = nil
		} else {
			secret, err := e.randomBytes(p.Bits / 8)
			if err != nil {
				return nil, 0, err
			}
			p.Result = p.newShare(role, secret)
		}
		out, err := encodeBody(op, &msg)
		return out, 0, err

	case role == 2 && stage == 0:
		var msg genericSecretMsg
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		var secret []byte
		if msg.Mask != nil {
			if len(msg.Mask)*8 != msg.Bits || msg.Bits <= 0 {
				return nil, 0, engine.Errorf(op, engine.CodeFormat, "mask does not match %d bits", msg.Bits)
			}
			p.Bits = msg.Bits
			secret = cloneBytes(msg.Mask)
		} else {
			if msg.Bits != p.Bits {
				return nil, 0, engine.Errorf(op, engine.CodeBadArgument, "peer asked for %d bits, have %d", msg.Bits, p.Bits)
			}
			var err error
			if secret, err = e.randomBytes(p.Bits / 8); err != nil {
				return nil, 0, err
			}
		}
		p.Result = p.newShare(role, secret)
		out, err := encodeBody(op, &genericSecretMsg{Bits: p.Bits})
		return out, engine.FlagChanged | engine.FlagFinished, err

	case role == 1 && stage == 1:
		var msg genericSecretMsg
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		if msg.Bits != p.Bits {
			return nil, 0, engine.Errorf(op, engine.CodeCrypto, "peer acknowledged %d bits, have %d", msg.Bits, p.Bits)
		}
		return nil, engine.FlagChanged | engine.FlagFinished, nil
	}
	return nil, 0, unexpectedStage(opGenericSecret, role, stage)
}

func (p *genericSecret) newShare(role int, secret []byte) *keyShare {
	return &keyShare{Version: wireVersion, Type: shareGenericSecret, Role: role, Bits: p.Bits, Secret: secret}
}

func (p *genericSecret) share() *keyShare {
	return p.Result
}

func (p *genericSecret) wipe() {
	clear(p.Input)
	p.Result.wipe()
}
