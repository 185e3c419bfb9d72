package refengine

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
)

var bip32MasterKey = []byte("Bitcoin seed")

// deriveBIP32 derives either the master key from a generic secret or a child
// of an HD ECDSA share. The master and hardened cases need the joint secret
// inside the hash, so both parties reveal their share material to each
// other; the non-hardened case only uses public data. The result is a pure
// function of the inputs, so repeating a derivation reproduces the same
// shares byte for byte.
//
//	1 -> 2: index, parent public key, material1, N (master only)
//	2 -> 1: material2
type deriveBIP32 struct {
	Key          *keyShare
	Hardened     bool
	Index        uint32
	PaillierBits int
	Master       *paillierWire
	Child        *keyShare
}

type deriveMsg struct {
	Hardened  bool
	Index     uint32
	PublicKey []byte
	Material  []byte
	N         []byte
}

func (p *deriveBIP32) master() bool { return p.Key.Type == shareGenericSecret }

func (p *deriveBIP32) material() []byte {
	switch {
	case p.master():
		return p.Key.Secret
	case p.Hardened:
		return p.Key.X
	default:
		return nil
	}
}

func (p *deriveBIP32) step(e *Engine, role, stage int, in []byte) ([]byte, engine.Flags, error) {
	const op = "derive-bip32"
	switch {
	case role == 1 && stage == 0:
		msg := deriveMsg{Hardened: p.Hardened, Index: p.Index, PublicKey: p.Key.PublicKey, Material: p.material()}
		if p.master() {
			sk, err := derivePaillier(transcriptHash("bip32-master-paillier", p.Key.Secret), p.PaillierBits)
			if err != nil {
				return nil, 0, err
			}
			p.Master = paillierToWire(sk)
			msg.N = sk.n.Bytes()
		}
		out, err := encodeBody(op, &msg)
		return out, 0, err

	case role == 2 && stage == 0:
		var msg deriveMsg
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		if msg.Hardened != p.Hardened || msg.Index != p.Index || !bytes.Equal(msg.PublicKey, p.Key.PublicKey) {
			return nil, 0, engine.Errorf(op, engine.CodeBadArgument, "peer derives a different child")
		}
		n := p.Key.Paillier.modulus()
		if p.master() {
			if _, err := e.checkPaillierModulus(op, msg.N); err != nil {
				return nil, 0, err
			}
			n = msg.N
		}
		child, err := p.compute(role, msg.Material, n)
		if err != nil {
			return nil, 0, err
		}
		p.Child = child
		out, err := encodeBody(op, &deriveMsg{Hardened: p.Hardened, Index: p.Index, Material: p.material()})
		return out, engine.FlagFinished, err

	case role == 1 && stage == 1:
		var msg deriveMsg
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		child, err := p.compute(role, msg.Material, nil)
		if err != nil {
			return nil, 0, err
		}
		p.Child = child
		return nil, engine.FlagFinished, nil
	}
	return nil, 0, unexpectedStage(opDeriveBIP32, role, stage)
}

// compute builds this role's child share. peer is the counterpart's share
// material and n the Paillier modulus role 2 should encrypt under.
func (p *deriveBIP32) compute(role int, peer, n []byte) (*keyShare, error) {
	const op = "derive-bip32"
	if (p.master() || p.Hardened) && len(peer) != len(p.material()) {
		return nil, engine.Errorf(op, engine.CodeFormat, "peer material has %d bytes", len(peer))
	}

	var (
		il       *btcec.ModNScalar
		full     *btcec.ModNScalar
		x1Source []byte
		hd       = &hdWire{ParentFP: make([]byte, 4)}
	)
	own1, own2 := p.material(), peer
	if role == 2 {
		own1, own2 = peer, p.material()
	}

	switch {
	case p.master():
		seed := xorBytes(own1, own2)
		defer clear(seed)
		i := hmacSHA512(bip32MasterKey, seed)
		k, ok := secpScalar(i[:32])
		if !ok || k.IsZero() {
			return nil, engine.Errorf(op, engine.CodeCrypto, "seed yields an unusable master key")
		}
		full = k
		hd.ChainCode = i[32:]
		x1Source = own1

	default:
		if p.Key.HD == nil {
			return nil, engine.Errorf(op, engine.CodeBadArgument, "share has no chain code")
		}
		childNum := p.Index
		var data []byte
		if p.Hardened {
			childNum += hdkeychain.HardenedKeyStart
			x1, ok1 := secpScalar(own1)
			x2, ok2 := secpScalar(own2)
			if !ok1 || !ok2 {
				return nil, engine.Errorf(op, engine.CodeFormat, "malformed scalar share")
			}
			parent := new(btcec.ModNScalar).Add2(x1, x2)
			data = append([]byte{0x00}, secpScalarBytes(parent)...)
		} else {
			data = append([]byte(nil), p.Key.PublicKey...)
		}
		data = binary.BigEndian.AppendUint32(data, childNum)
		i := hmacSHA512(p.Key.HD.ChainCode, data)
		clear(data)
		var ok bool
		if il, ok = secpScalar(i[:32]); !ok {
			return nil, engine.Errorf(op, engine.CodeCrypto, "index %d yields an invalid child", p.Index)
		}
		hd.ChainCode = i[32:]
		hd.Depth = p.Key.HD.Depth + 1
		hd.ChildNum = childNum
		copy(hd.ParentFP, btcutil.Hash160(p.Key.PublicKey)[:4])
		if p.Hardened {
			x1, _ := secpScalar(own1)
			x2, _ := secpScalar(own2)
			full = new(btcec.ModNScalar).Add2(x1, x2).Add(il)
			x1Source = own1
		}
	}

	if full != nil {
		return p.splitChild(role, full, x1Source, hd, n)
	}
	return p.shiftChild(role, il, hd)
}

// splitChild re-shares a fully known child key deterministically.
func (p *deriveBIP32) splitChild(role int, full *btcec.ModNScalar, x1Source []byte, hd *hdWire, n []byte) (*keyShare, error) {
	const op = "derive-bip32"
	if full.IsZero() {
		return nil, engine.Errorf(op, engine.CodeCrypto, "derived key is zero")
	}
	x1 := hashScalar(transcriptHash("bip32-split", x1Source, hd.ChainCode))
	x2 := new(btcec.ModNScalar).NegateVal(x1).Add(full)
	if x1.IsZero() || x2.IsZero() {
		return nil, engine.Errorf(op, engine.CodeCrypto, "degenerate split")
	}
	q, _ := secpEncode(secpBaseMult(full))
	q1, _ := secpEncode(secpBaseMult(x1))
	q2, _ := secpEncode(secpBaseMult(x2))

	child := &keyShare{Version: wireVersion, Type: shareEcdsa, Role: role, PublicKey: q, HD: hd}
	if role == 1 {
		child.X = secpScalarBytes(x1)
		child.PeerPublic = q2
		if p.Master != nil {
			child.Paillier = p.Master
		} else {
			child.Paillier = p.Key.Paillier.clone()
		}
		return child, nil
	}
	child.X = secpScalarBytes(x2)
	child.PeerPublic = q1
	child.Paillier = &paillierWire{N: cloneBytes(n)}
	pub := newPaillierPublic(new(big.Int).SetBytes(n))
	nonce := deterministicUnit(pub, transcriptHash("bip32-enc", q1, hd.ChainCode))
	child.EncPeerX = pub.encryptWithNonce(secpScalarToBig(x1), nonce).Bytes()
	return child, nil
}

// shiftChild adds the public tweak to role 1's share.
func (p *deriveBIP32) shiftChild(role int, il *btcec.ModNScalar, hd *hdWire) (*keyShare, error) {
	const op = "derive-bip32"
	parent, _ := secpDecode(p.Key.PublicKey)
	tweak := secpBaseMult(il)
	q, ok := secpEncode(secpAdd(parent, tweak))
	if !ok {
		return nil, engine.Errorf(op, engine.CodeCrypto, "index %d yields an invalid child", p.Index)
	}
	child := p.Key.clone()
	child.PublicKey = q
	child.HD = hd
	if role == 1 {
		x, _ := secpScalar(p.Key.X)
		x.Add(il)
		if x.IsZero() {
			return nil, engine.Errorf(op, engine.CodeCrypto, "degenerate child share")
		}
		child.X = secpScalarBytes(x)
		return child, nil
	}
	peer, ok := secpDecode(p.Key.PeerPublic)
	if !ok {
		return nil, engine.Errorf(op, engine.CodeFormat, "invalid peer public share")
	}
	peerNext, ok := secpEncode(secpAdd(peer, tweak))
	if !ok {
		return nil, engine.Errorf(op, engine.CodeCrypto, "degenerate child share")
	}
	child.PeerPublic = peerNext
	pub := newPaillierPublic(new(big.Int).SetBytes(p.Key.Paillier.N))
	nonce := deterministicUnit(pub, transcriptHash("bip32-shift", p.Key.EncPeerX, secpScalarBytes(il)))
	tweakEnc := pub.encryptWithNonce(secpScalarToBig(il), nonce)
	child.EncPeerX = pub.add(new(big.Int).SetBytes(p.Key.EncPeerX), tweakEnc).Bytes()
	return child, nil
}

func (p *deriveBIP32) share() *keyShare { return nil }

func (p *deriveBIP32) wipe() {
	p.Key.wipe()
	p.Child.wipe()
	if p.Master != nil {
		clear(p.Master.P)
		clear(p.Master.Q)
	}
}

func serializeXPub(ks *keyShare) (string, error) {
	if ks.Type != shareEcdsa || ks.HD == nil {
		return "", engine.Errorf("xpub", engine.CodeBadArgument, "share has no chain code")
	}
	key := hdkeychain.NewExtendedKey(
		chaincfg.MainNetParams.HDPublicKeyID[:],
		ks.PublicKey,
		ks.HD.ChainCode,
		ks.HD.ParentFP,
		ks.HD.Depth,
		ks.HD.ChildNum,
		false,
	)
	return key.String(), nil
}
