package refengine

import (
	"github.com/shamaton/msgpack/v2"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
)

type opcode uint8

const (
	opGenericSecret opcode = iota + 1
	opRefresh
	opDeriveBIP32
	opEcdsaKeygen
	opEcdsaSign
	opEcdsaBackup
	opEddsaKeygen
	opEddsaSign
	opEddsaBackup
)

func (o opcode) String() string {
	switch o {
	case opGenericSecret:
		return "generic-secret"
	case opRefresh:
		return "refresh"
	case opDeriveBIP32:
		return "derive-bip32"
	case opEcdsaKeygen:
		return "ecdsa-keygen"
	case opEcdsaSign:
		return "ecdsa-sign"
	case opEcdsaBackup:
		return "ecdsa-backup"
	case opEddsaKeygen:
		return "eddsa-keygen"
	case opEddsaSign:
		return "eddsa-sign"
	case opEddsaBackup:
		return "eddsa-backup"
	default:
		return "unknown"
	}
}

// protocol is the per-operation state carried by a session. Implementations
// are plain structs with exported fields so the session can be serialized at
// any point between steps.
type protocol interface {
	// step runs the stage-th step of role. in is nil exactly when role 1
	// takes its first step.
	step(e *Engine, role, stage int, in []byte) (out []byte, flags engine.Flags, err error)
	// share returns the updated share once the protocol reports a change.
	share() *keyShare
	wipe()
}

func newProtocol(op opcode) (protocol, bool) {
	switch op {
	case opGenericSecret:
		return &genericSecret{}, true
	case opRefresh:
		return &refresh{}, true
	case opDeriveBIP32:
		return &deriveBIP32{}, true
	case opEcdsaKeygen:
		return &ecdsaKeygen{}, true
	case opEcdsaSign:
		return &ecdsaSign{}, true
	case opEddsaKeygen:
		return &eddsaKeygen{}, true
	case opEddsaSign:
		return &eddsaSign{}, true
	case opEcdsaBackup, opEddsaBackup:
		return &backup{}, true
	default:
		return nil, false
	}
}

type session struct {
	eng   *Engine
	op    opcode
	role  int
	stage int
	done  bool
	proto protocol
}

// sessionWire is the serialized form of a session.
type sessionWire struct {
	Version uint8
	Op      opcode
	Role    int
	Stage   int
	Done    bool
	State   []byte
}

func (s *session) Step(in engine.Message) (engine.Message, engine.Flags, error) {
	const op = "step"
	if s == nil || s.proto == nil {
		return nil, 0, engine.Errorf(op, engine.CodeBadArgument, "session released")
	}
	if s.done {
		return nil, 0, engine.Errorf(op, engine.CodeBadArgument, "%s session already finished", s.op)
	}

	var body []byte
	switch {
	case s.role == 1 && s.stage == 0:
		if in != nil {
			return nil, 0, engine.Errorf(op, engine.CodeBadArgument, "initiator takes no input on its first step")
		}
	default:
		if in == nil {
			return nil, 0, engine.Errorf(op, engine.CodeBadArgument, "role %d needs an input message at stage %d", s.role, s.stage)
		}
		mh, ok := in.(*messageHandle)
		if !ok || mh.m == nil {
			return nil, 0, engine.Errorf(op, engine.CodeBadArgument, "foreign or released message")
		}
		m := mh.m
		switch {
		case m.Op != s.op:
			return nil, 0, engine.Errorf(op, engine.CodeBadArgument, "%s message given to %s session", m.Op, s.op)
		case m.From != 3-s.role:
			return nil, 0, engine.Errorf(op, engine.CodeBadArgument, "message from role %d given to role %d", m.From, s.role)
		case m.Seq != s.expectedSeq():
			return nil, 0, engine.Errorf(op, engine.CodeBadArgument, "message %d out of order, expected %d", m.Seq, s.expectedSeq())
		}
		body = m.Body
	}

	outBody, flags, err := s.proto.step(s.eng, s.role, s.stage, body)
	if err != nil {
		return nil, 0, err
	}
	seq := s.sentSeq()
	s.stage++
	if flags.Has(engine.FlagFinished) {
		s.done = true
	}
	if outBody == nil {
		return nil, flags, nil
	}
	return &messageHandle{m: &wireMessage{Version: wireVersion, Op: s.op, From: s.role, Seq: seq, Body: outBody}}, flags, nil
}

func (s *session) expectedSeq() int {
	if s.role == 1 {
		return 2*s.stage - 1
	}
	return 2 * s.stage
}

func (s *session) sentSeq() int {
	if s.role == 1 {
		return 2 * s.stage
	}
	return 2*s.stage + 1
}

func (s *session) Bytes() ([]byte, error) {
	if s == nil || s.proto == nil {
		return nil, engine.Errorf("session", engine.CodeBadArgument, "session released")
	}
	state, err := encodeBody("session", s.proto)
	if err != nil {
		return nil, err
	}
	return encodeBody("session", &sessionWire{
		Version: wireVersion,
		Op:      s.op,
		Role:    s.role,
		Stage:   s.stage,
		Done:    s.done,
		State:   state,
	})
}

func (s *session) Peer() (int, error) {
	if s == nil || s.proto == nil {
		return 0, engine.Errorf("peer", engine.CodeBadArgument, "session released")
	}
	return s.role, nil
}

func (s *session) Share() (engine.Share, error) {
	if s == nil || s.proto == nil {
		return nil, engine.Errorf("share", engine.CodeBadArgument, "session released")
	}
	ks := s.proto.share()
	if ks == nil {
		return nil, engine.Errorf("share", engine.CodeBadArgument, "%s session holds no updated share", s.op)
	}
	return &shareHandle{ks: ks.clone()}, nil
}

func (s *session) ResultEcdsaSign() ([]byte, error) {
	p, ok := s.finishedProtocol().(*ecdsaSign)
	if !ok {
		return nil, engine.Errorf("result", engine.CodeBadArgument, "no ecdsa signature available")
	}
	return cloneBytes(p.Sig), nil
}

func (s *session) ResultEddsaSign() ([64]byte, error) {
	var sig [64]byte
	p, ok := s.finishedProtocol().(*eddsaSign)
	if !ok || len(p.Sig) != len(sig) {
		return sig, engine.Errorf("result", engine.CodeBadArgument, "no eddsa signature available")
	}
	copy(sig[:], p.Sig)
	return sig, nil
}

func (s *session) ResultBackup() ([]byte, error) {
	p, ok := s.finishedProtocol().(*backup)
	if !ok {
		return nil, engine.Errorf("result", engine.CodeBadArgument, "no backup available")
	}
	return cloneBytes(p.Package), nil
}

func (s *session) ResultDeriveBIP32() (engine.Share, error) {
	p, ok := s.finishedProtocol().(*deriveBIP32)
	if !ok || p.Child == nil {
		return nil, engine.Errorf("result", engine.CodeBadArgument, "no derived share available")
	}
	return &shareHandle{ks: p.Child.clone()}, nil
}

func (s *session) finishedProtocol() protocol {
	if s == nil || !s.done {
		return nil
	}
	return s.proto
}

func (s *session) Free() {
	if s == nil || s.proto == nil {
		return
	}
	s.proto.wipe()
	s.proto = nil
}

func (e *Engine) SessionFromBytes(b []byte) (engine.Session, error) {
	const op = "load-session"
	if len(b) == 0 {
		return nil, engine.Errorf(op, engine.CodeBadArgument, "empty session")
	}
	var w sessionWire
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return nil, engine.Errorf(op, engine.CodeFormat, "decode: %v", err)
	}
	if w.Version != wireVersion {
		return nil, engine.Errorf(op, engine.CodeFormat, "unsupported session version %d", w.Version)
	}
	if w.Role != 1 && w.Role != 2 {
		return nil, engine.Errorf(op, engine.CodeFormat, "invalid role %d", w.Role)
	}
	proto, ok := newProtocol(w.Op)
	if !ok {
		return nil, engine.Errorf(op, engine.CodeFormat, "unknown operation %d", w.Op)
	}
	if err := decodeBody(op, w.State, proto); err != nil {
		return nil, err
	}
	return &session{eng: e, op: w.Op, role: w.Role, stage: w.Stage, done: w.Done, proto: proto}, nil
}

func (e *Engine) MessageFromBytes(b []byte) (engine.Message, error) {
	const op = "load-message"
	if len(b) == 0 {
		return nil, engine.Errorf(op, engine.CodeBadArgument, "empty message")
	}
	var m wireMessage
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, engine.Errorf(op, engine.CodeFormat, "decode: %v", err)
	}
	if m.Version != wireVersion {
		return nil, engine.Errorf(op, engine.CodeFormat, "unsupported message version %d", m.Version)
	}
	return &messageHandle{m: &m}, nil
}

func (e *Engine) ShareFromBytes(b []byte) (engine.Share, error) {
	ks, err := decodeShare("load-share", b)
	if err != nil {
		return nil, err
	}
	return &shareHandle{ks: ks}, nil
}

func (e *Engine) newSession(op opcode, role int, proto protocol) (engine.Session, error) {
	if role != 1 && role != 2 {
		proto.wipe()
		return nil, engine.Errorf("init", engine.CodeBadArgument, "invalid peer %d", role)
	}
	return &session{eng: e, op: op, role: role, proto: proto}, nil
}

func unexpectedStage(op opcode, role, stage int) error {
	return engine.Errorf("step", engine.CodeBadArgument, "%s has no stage %d for role %d", op, stage, role)
}

var _ engine.Session = (*session)(nil)
