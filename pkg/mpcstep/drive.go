package mpcstep

import (
	"context"
	"fmt"
)

// Transport delivers message bytes between the two roles of one operation,
// strictly in order and exactly once. Implementations should return promptly
// with ctx.Err() when ctx is cancelled.
type Transport interface {
	Send(ctx context.Context, to Role, msg []byte) error
	Receive(ctx context.Context, from Role) ([]byte, error)
}

// Drive runs one side of an operation against a counterpart reached through
// t, the transport-separated form of Run. The initiator steps first with no
// input; the other side starts by receiving. Drive returns once c is
// finished, after sending its last message, if any.
//
// A step that yields no message while c is unfinished ends the run with
// ErrProtocolStall. Transport failures are returned wrapped in *Error; the
// context is then left as its last step left it and may be serialized and
// resumed once the transport recovers.
func Drive(ctx context.Context, c *Context, t Transport, initiator bool) error {
	const op = "drive"
	if c == nil {
		return errorf(op, ErrBadArgument, "nil context")
	}
	if t == nil {
		return errorf(op, ErrBadArgument, "nil transport")
	}
	peer := c.role.Peer()

	var (
		in  []byte
		err error
	)
	if !initiator {
		if in, err = t.Receive(ctx, peer); err != nil {
			return &Error{Op: op, Err: fmt.Errorf("receive from %s: %w", peer, err)}
		}
	}

	for round := 0; ; round++ {
		if round == MaxRelayRounds {
			return stall(op, "no completion after %d rounds", MaxRelayRounds)
		}
		if err := ctx.Err(); err != nil {
			return &Error{Op: op, Err: err}
		}

		out, err := c.step(ctx, in)
		if err != nil {
			return err
		}
		if out != nil {
			if err := t.Send(ctx, peer, out); err != nil {
				return &Error{Op: op, Err: fmt.Errorf("send to %s: %w", peer, err)}
			}
		}
		if c.Finished() {
			return nil
		}
		if out == nil {
			return stall(op, "%s produced no message while unfinished", c.role)
		}

		if in, err = t.Receive(ctx, peer); err != nil {
			return &Error{Op: op, Err: fmt.Errorf("receive from %s: %w", peer, err)}
		}
	}
}
