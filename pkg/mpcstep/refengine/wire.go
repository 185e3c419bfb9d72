package refengine

import (
	"github.com/shamaton/msgpack/v2"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
)

const wireVersion uint8 = 1

type shareType uint8

const (
	shareGenericSecret shareType = 1
	shareEcdsa         shareType = 2
	shareEddsa         shareType = 3
)

func (t shareType) String() string {
	switch t {
	case shareGenericSecret:
		return "generic-secret"
	case shareEcdsa:
		return "ecdsa"
	case shareEddsa:
		return "eddsa"
	default:
		return "unknown"
	}
}

// keyShare is one party's half of a jointly held secret. Scalar shares are
// additive; generic secrets are XOR shares.
type keyShare struct {
	Version uint8
	Type    shareType
	Role    int

	Bits   int
	Secret []byte

	X          []byte
	PublicKey  []byte
	PeerPublic []byte

	Paillier *paillierWire
	EncPeerX []byte

	HD *hdWire
}

// paillierWire carries the whole key for role 1 and only N for role 2.
type paillierWire struct {
	N []byte
	P []byte
	Q []byte
}

func (w *paillierWire) modulus() []byte {
	if w == nil {
		return nil
	}
	return w.N
}

func (w *paillierWire) clone() *paillierWire {
	if w == nil {
		return nil
	}
	return &paillierWire{N: cloneBytes(w.N), P: cloneBytes(w.P), Q: cloneBytes(w.Q)}
}

type hdWire struct {
	ChainCode []byte
	Depth     uint8
	ParentFP  []byte
	ChildNum  uint32
}

func (ks *keyShare) clone() *keyShare {
	if ks == nil {
		return nil
	}
	c := *ks
	c.Secret = cloneBytes(ks.Secret)
	c.X = cloneBytes(ks.X)
	c.PublicKey = cloneBytes(ks.PublicKey)
	c.PeerPublic = cloneBytes(ks.PeerPublic)
	c.EncPeerX = cloneBytes(ks.EncPeerX)
	c.Paillier = ks.Paillier.clone()
	if ks.HD != nil {
		hd := *ks.HD
		hd.ChainCode = cloneBytes(ks.HD.ChainCode)
		hd.ParentFP = cloneBytes(ks.HD.ParentFP)
		c.HD = &hd
	}
	return &c
}

func (ks *keyShare) wipe() {
	if ks == nil {
		return
	}
	clear(ks.Secret)
	clear(ks.X)
	if ks.Paillier != nil {
		clear(ks.Paillier.P)
		clear(ks.Paillier.Q)
	}
}

func (ks *keyShare) validate(op string, want shareType, role int) error {
	if ks.Version != wireVersion {
		return engine.Errorf(op, engine.CodeFormat, "unsupported share version %d", ks.Version)
	}
	if ks.Type != want {
		return engine.Errorf(op, engine.CodeBadArgument, "%s share given, %s required", ks.Type, want)
	}
	if role != 0 && ks.Role != role {
		return engine.Errorf(op, engine.CodeBadArgument, "share belongs to role %d, not %d", ks.Role, role)
	}
	switch ks.Type {
	case shareGenericSecret:
		if ks.Bits <= 0 || len(ks.Secret)*8 != ks.Bits {
			return engine.Errorf(op, engine.CodeFormat, "malformed generic secret share")
		}
	case shareEcdsa:
		if _, ok := secpScalar(ks.X); !ok {
			return engine.Errorf(op, engine.CodeFormat, "malformed ecdsa scalar share")
		}
		if ks.Paillier == nil || len(ks.Paillier.N) == 0 {
			return engine.Errorf(op, engine.CodeFormat, "ecdsa share without paillier modulus")
		}
		if ks.Role == 2 && len(ks.EncPeerX) == 0 {
			return engine.Errorf(op, engine.CodeFormat, "ecdsa share without encrypted counterpart")
		}
		if _, ok := secpDecode(ks.PublicKey); !ok {
			return engine.Errorf(op, engine.CodeFormat, "malformed ecdsa public key")
		}
	case shareEddsa:
		if _, ok := edScalar(ks.X); !ok {
			return engine.Errorf(op, engine.CodeFormat, "malformed eddsa scalar share")
		}
		if _, ok := edPoint(ks.PublicKey); !ok {
			return engine.Errorf(op, engine.CodeFormat, "malformed eddsa public key")
		}
	}
	return nil
}

func decodeShare(op string, b []byte) (*keyShare, error) {
	if len(b) == 0 {
		return nil, engine.Errorf(op, engine.CodeBadArgument, "empty share")
	}
	var ks keyShare
	if err := msgpack.Unmarshal(b, &ks); err != nil {
		return nil, engine.Errorf(op, engine.CodeFormat, "decode share: %v", err)
	}
	if ks.Role != 1 && ks.Role != 2 {
		return nil, engine.Errorf(op, engine.CodeFormat, "share has invalid role %d", ks.Role)
	}
	return &ks, nil
}

// wireMessage frames every protocol message. Seq counts messages across both
// parties: role 1 sends the even ones.
type wireMessage struct {
	Version uint8
	Op      opcode
	From    int
	Seq     int
	Body    []byte
}

func encodeBody(op string, v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, engine.Errorf(op, engine.CodeFormat, "encode: %v", err)
	}
	return b, nil
}

func decodeBody(op string, b []byte, v any) error {
	if err := msgpack.Unmarshal(b, v); err != nil {
		return engine.Errorf(op, engine.CodeFormat, "decode: %v", err)
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

type shareHandle struct {
	ks *keyShare
}

func (h *shareHandle) Bytes() ([]byte, error) {
	if h == nil || h.ks == nil {
		return nil, engine.Errorf("share", engine.CodeBadArgument, "share released")
	}
	return encodeBody("share", h.ks)
}

func (h *shareHandle) Free() {
	if h == nil || h.ks == nil {
		return
	}
	h.ks.wipe()
	h.ks = nil
}

type messageHandle struct {
	m *wireMessage
}

func (h *messageHandle) Bytes() ([]byte, error) {
	if h == nil || h.m == nil {
		return nil, engine.Errorf("message", engine.CodeBadArgument, "message released")
	}
	return encodeBody("message", h.m)
}

func (h *messageHandle) Free() {
	if h == nil {
		return
	}
	h.m = nil
}

var (
	_ engine.Share   = (*shareHandle)(nil)
	_ engine.Message = (*messageHandle)(nil)
)
