package mpcstep

import (
	"runtime"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
)

// Message is an exclusively owned engine handle over one protocol message.
// Contexts consume and produce message bytes directly; LoadMessage lets a
// transport check that bytes received from the network parse before they are
// persisted or forwarded.
type Message struct {
	h engine.Message
}

// LoadMessage deserializes message bytes.
func (l *Library) LoadMessage(data []byte) (*Message, error) {
	const op = "load-message"
	if err := l.check(op); err != nil {
		return nil, err
	}
	h, err := l.loadMessage(op, data)
	if err != nil {
		return nil, err
	}
	m := &Message{h: h}
	runtime.SetFinalizer(m, func(m *Message) { _ = m.Close() })
	return m, nil
}

func (l *Library) loadMessage(op string, data []byte) (engine.Message, error) {
	if len(data) == 0 {
		return nil, errorf(op, ErrBadArgument, "empty message")
	}
	h, err := l.eng.MessageFromBytes(data)
	if err != nil {
		return nil, remapError(op, err)
	}
	return h, nil
}

// Bytes serializes the message.
func (m *Message) Bytes() ([]byte, error) {
	if m == nil || m.h == nil {
		return nil, &Error{Op: "message-bytes", Err: ErrClosed}
	}
	b, err := m.h.Bytes()
	return b, remapError("message-bytes", err)
}

// Close releases the engine handle. It is idempotent.
func (m *Message) Close() error {
	if m == nil || m.h == nil {
		return nil
	}
	runtime.SetFinalizer(m, nil)
	m.h.Free()
	m.h = nil
	return nil
}
