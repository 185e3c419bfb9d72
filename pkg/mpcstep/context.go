package mpcstep

import (
	"bytes"
	"context"
	"runtime"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/logging"
)

// contextState is either *running or *completed. A closed Context has no
// state.
type contextState interface{ isContextState() }

type running struct {
	session engine.Session
}

type completed struct {
	outcome Outcome
}

func (*running) isContextState()   {}
func (*completed) isContextState() {}

// Context is one participant's run of one MPC operation. It advances one
// round per Step and, once finished, holds the typed results of its
// operation kind and no engine session.
//
// A Context is not safe for concurrent use. Abandoned contexts must be
// closed to release the engine session; a finalizer does so as a safety net.
type Context struct {
	lib  *Library
	log  logging.Logger
	kind OperationKind
	role Role

	state     contextState
	done      bool
	changed   bool
	share     []byte
	publicKey []byte
	failed    error
}

func (l *Library) newContext(kind OperationKind, role Role, s engine.Session) *Context {
	c := &Context{
		lib:   l,
		log:   l.log.With("kind", kind.String(), "role", role.String()),
		kind:  kind,
		role:  role,
		state: &running{session: s},
	}
	runtime.SetFinalizer(c, func(c *Context) { _ = c.Close() })
	return c
}

// Kind returns the operation the context runs.
func (c *Context) Kind() OperationKind { return c.kind }

// Role returns the protocol role the context plays.
func (c *Context) Role() Role { return c.role }

// Finished reports whether this side of the operation is complete.
func (c *Context) Finished() bool { return c != nil && c.done }

// Changed reports whether the latest step produced new share material.
func (c *Context) Changed() bool { return c != nil && c.changed }

// Status returns Changed and Finished together.
func (c *Context) Status() Status {
	return Status{Changed: c.Changed(), Finished: c.Finished()}
}

// Step advances the protocol one round. in is the counterpart's latest
// message, or nil for the initiator's first step. The returned message, if
// any, must be delivered to the counterpart; nil means this side has nothing
// to send.
//
// Stepping a finished context fails with ErrAlreadyFinished. After any other
// failure the context keeps its engine session, rejects further steps with
// ErrProtocolMisuse and must be closed by the caller.
func (c *Context) Step(in []byte) ([]byte, error) {
	return c.step(context.Background(), in)
}

func (c *Context) step(ctx context.Context, in []byte) ([]byte, error) {
	const op = "step"
	st, err := c.running(op)
	if err != nil {
		return nil, err
	}
	if err := c.lib.check(op); err != nil {
		return nil, err
	}

	out, err := c.advance(ctx, st, in)
	if err != nil {
		c.failed = err
		c.changed = false
		c.log.Warn(ctx, "step failed", "error", err)
		return nil, err
	}
	return out, nil
}

// running returns the live state or the error that forbids using it.
func (c *Context) running(op string) (*running, error) {
	if c == nil {
		return nil, errorf(op, ErrBadArgument, "nil context")
	}
	switch st := c.state.(type) {
	case *running:
		if c.failed != nil {
			return nil, errorf(op, ErrProtocolMisuse, "%s context failed and cannot be resumed", c.kind)
		}
		return st, nil
	case *completed:
		return nil, &Error{Op: op, Err: ErrAlreadyFinished}
	default:
		return nil, &Error{Op: op, Err: ErrClosed}
	}
}

func (c *Context) advance(ctx context.Context, st *running, in []byte) ([]byte, error) {
	const op = "step"
	var inMsg engine.Message
	if len(in) > 0 {
		m, err := c.lib.loadMessage(op, in)
		if err != nil {
			return nil, err
		}
		defer m.Free()
		inMsg = m
	}

	outMsg, flags, err := st.session.Step(inMsg)
	if err != nil {
		return nil, remapError(op, err)
	}
	if outMsg != nil {
		defer outMsg.Free()
	}
	status := statusFromFlags(flags)

	var out []byte
	if outMsg != nil {
		if out, err = outMsg.Bytes(); err != nil {
			return nil, remapError(op, err)
		}
	}

	c.changed = false
	if status.Changed {
		if err := c.extractShare(st.session); err != nil {
			return nil, err
		}
		c.changed = true
	}
	if status.Finished {
		outcome, err := c.finalize(st.session)
		if err != nil {
			return nil, err
		}
		st.session.Free()
		c.state = &completed{outcome: outcome}
		c.done = true
	}

	c.log.Debug(ctx, "step",
		"changed", status.Changed,
		"finished", status.Finished,
		"in_bytes", len(in),
		"out_bytes", len(out),
	)
	return out, nil
}

// extractShare serializes the session's updated share and, for key
// generation, caches the public key.
func (c *Context) extractShare(s engine.Session) error {
	const op = "extract-share"
	h, err := s.Share()
	if err != nil {
		return remapError(op, err)
	}
	defer h.Free()

	b, err := h.Bytes()
	if err != nil {
		return remapError(op, err)
	}
	switch c.kind {
	case GenerateEcdsaKey:
		pub, err := c.lib.eng.EcdsaPublicKey(h)
		if err != nil {
			ZeroizeBytes(b)
			return remapError(op, err)
		}
		c.publicKey = pub
	case GenerateEddsaKey:
		pub, err := c.lib.eng.EddsaPublicKey(h)
		if err != nil {
			ZeroizeBytes(b)
			return remapError(op, err)
		}
		c.publicKey = pub[:]
	}
	ZeroizeBytes(c.share)
	c.share = b
	return nil
}

// finalize pulls the kind-specific results out of a finished session.
func (c *Context) finalize(s engine.Session) (Outcome, error) {
	const op = "finalize"
	switch c.kind {
	case GenerateGenericSecret, GenerateEcdsaKey, GenerateEddsaKey, Refresh:
		if c.share == nil {
			return nil, errorf(op, ErrCryptoFault, "%s finished without a share", c.kind)
		}
		return ShareOutcome{Kind: c.kind, Share: c.share, PublicKey: c.publicKey}, nil

	case DeriveBIP32:
		h, err := s.ResultDeriveBIP32()
		if err != nil {
			return nil, remapError(op, err)
		}
		defer h.Free()
		b, err := h.Bytes()
		if err != nil {
			return nil, remapError(op, err)
		}
		pub, err := c.lib.eng.EcdsaPublicKey(h)
		if err != nil {
			ZeroizeBytes(b)
			return nil, remapError(op, err)
		}
		xpub, err := c.lib.eng.SerializePubBIP32(h)
		if err != nil {
			ZeroizeBytes(b)
			return nil, remapError(op, err)
		}
		return DeriveOutcome{Share: b, PublicKey: pub, XPub: xpub}, nil

	case EcdsaSign:
		sig, err := s.ResultEcdsaSign()
		if err != nil {
			return nil, remapError(op, err)
		}
		return EcdsaSignOutcome{Signature: sig, Share: c.share}, nil

	case EddsaSign:
		sig, err := s.ResultEddsaSign()
		if err != nil {
			return nil, remapError(op, err)
		}
		return EddsaSignOutcome{Signature: sig, Share: c.share}, nil

	case BackupEcdsaKey, BackupEddsaKey:
		pkg, err := s.ResultBackup()
		if err != nil {
			return nil, remapError(op, err)
		}
		return BackupOutcome{Kind: c.kind, Package: pkg}, nil
	}
	return nil, errorf(op, ErrBadArgument, "unknown operation kind %d", uint8(c.kind))
}

func (c *Context) outcome() (Outcome, bool) {
	st, ok := c.state.(*completed)
	if !ok {
		return nil, false
	}
	return st.outcome, true
}

func (c *Context) slot(op string, defined bool) error {
	if c == nil {
		return errorf(op, ErrBadArgument, "nil context")
	}
	if c.state == nil {
		return &Error{Op: op, Err: ErrClosed}
	}
	if !defined {
		return errorf(op, ErrProtocolMisuse, "%s has no such result", c.kind)
	}
	return nil
}

func notReady(op string, kind OperationKind) error {
	return errorf(op, ErrProtocolMisuse, "%s result not available yet", kind)
}

// NewShare returns the latest share produced by the context: the new share
// of key generation and refresh, the derived share of DeriveBIP32, or the
// refreshed share of a sign run with refresh.
func (c *Context) NewShare() ([]byte, error) {
	const op = "new-share"
	if err := c.slot(op, c.kind.producesShare()); err != nil {
		return nil, err
	}
	if c.kind == DeriveBIP32 {
		if o, ok := c.outcome(); ok {
			return bytes.Clone(o.(DeriveOutcome).Share), nil
		}
		return nil, notReady(op, c.kind)
	}
	if c.share == nil {
		return nil, notReady(op, c.kind)
	}
	return bytes.Clone(c.share), nil
}

// PublicKey returns the joint public key of ECDSA and EdDSA key generation
// and of DeriveBIP32.
func (c *Context) PublicKey() ([]byte, error) {
	const op = "public-key"
	if err := c.slot(op, c.kind.hasPublicKey()); err != nil {
		return nil, err
	}
	if c.kind == DeriveBIP32 {
		if o, ok := c.outcome(); ok {
			return bytes.Clone(o.(DeriveOutcome).PublicKey), nil
		}
		return nil, notReady(op, c.kind)
	}
	if c.publicKey == nil {
		return nil, notReady(op, c.kind)
	}
	return bytes.Clone(c.publicKey), nil
}

// XPub returns the extended public key of a finished DeriveBIP32 context.
func (c *Context) XPub() (string, error) {
	const op = "xpub"
	if err := c.slot(op, c.kind == DeriveBIP32); err != nil {
		return "", err
	}
	o, ok := c.outcome()
	if !ok {
		return "", notReady(op, c.kind)
	}
	return o.(DeriveOutcome).XPub, nil
}

// Signature returns the DER signature of EcdsaSign or the 64-byte signature
// of EddsaSign.
func (c *Context) Signature() ([]byte, error) {
	const op = "signature"
	if err := c.slot(op, c.kind.IsSign()); err != nil {
		return nil, err
	}
	o, ok := c.outcome()
	if !ok {
		return nil, notReady(op, c.kind)
	}
	switch o := o.(type) {
	case EcdsaSignOutcome:
		return bytes.Clone(o.Signature), nil
	case EddsaSignOutcome:
		return append([]byte(nil), o.Signature[:]...), nil
	}
	return nil, notReady(op, c.kind)
}

// BackupPackage returns the package of a finished backup context.
func (c *Context) BackupPackage() ([]byte, error) {
	const op = "backup-package"
	if err := c.slot(op, c.kind.IsBackup()); err != nil {
		return nil, err
	}
	o, ok := c.outcome()
	if !ok {
		return nil, notReady(op, c.kind)
	}
	return bytes.Clone(o.(BackupOutcome).Package), nil
}

// Outcome returns a copy of the typed results of a finished context.
func (c *Context) Outcome() (Outcome, error) {
	const op = "outcome"
	if err := c.slot(op, true); err != nil {
		return nil, err
	}
	o, ok := c.outcome()
	if !ok {
		return nil, notReady(op, c.kind)
	}
	return o.clone(), nil
}

// MarshalBinary serializes a running context for pause and resume: one
// OperationKind byte followed by the engine's session bytes. Finished and
// failed contexts cannot be serialized.
func (c *Context) MarshalBinary() ([]byte, error) {
	const op = "marshal"
	st, err := c.running(op)
	if err != nil {
		return nil, err
	}
	b, err := st.session.Bytes()
	if err != nil {
		return nil, remapError(op, err)
	}
	defer ZeroizeBytes(b)
	out := make([]byte, 1+len(b))
	out[0] = byte(c.kind)
	copy(out[1:], b)
	return out, nil
}

// LoadContext restores a context serialized with MarshalBinary. The role is
// read back from the engine session.
func (l *Library) LoadContext(data []byte) (*Context, error) {
	const op = "load-context"
	if err := l.check(op); err != nil {
		return nil, err
	}
	if len(data) < 2 {
		return nil, errorf(op, ErrFormat, "context of %d bytes", len(data))
	}
	kind := OperationKind(data[0])
	if !kind.Valid() {
		return nil, errorf(op, ErrFormat, "unknown operation kind %d", data[0])
	}
	s, err := l.eng.SessionFromBytes(data[1:])
	if err != nil {
		return nil, remapError(op, err)
	}
	peer, err := s.Peer()
	if err != nil {
		s.Free()
		return nil, remapError(op, err)
	}
	role := Role(peer)
	if !role.valid() {
		s.Free()
		return nil, errorf(op, ErrFormat, "session reports role %d", peer)
	}
	return l.newContext(kind, role, s), nil
}

// Close releases the engine session of an unfinished context and wipes any
// share material the context holds. It is idempotent.
func (c *Context) Close() error {
	if c == nil || c.state == nil {
		return nil
	}
	runtime.SetFinalizer(c, nil)
	switch st := c.state.(type) {
	case *running:
		st.session.Free()
	case *completed:
		st.outcome.wipe()
	}
	ZeroizeBytes(c.share)
	c.share = nil
	c.publicKey = nil
	c.changed = false
	c.state = nil
	return nil
}
