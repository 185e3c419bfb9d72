package mpcstep

import "fmt"

// MaxRelayRounds bounds Run and Drive. Every supported operation finishes in
// a handful of rounds.
const MaxRelayRounds = 64

// Run drives two contexts of the same operation and opposite roles to joint
// completion in one process. It steps first, then second, passing a single
// message slot between them, until both are finished.
//
// The order is fixed: first starts with no input, so it must be the
// initiating role (RoleP1). Run returns ErrProtocolStall when a step yields
// no message while a side is unfinished, or when a message is left that no
// unfinished side can consume. On any error both contexts stay as their last
// successful step left them and must be closed by the caller.
func Run(first, second *Context) error {
	const op = "run"
	if first == nil || second == nil {
		return errorf(op, ErrBadArgument, "nil context")
	}
	if first == second {
		return errorf(op, ErrBadArgument, "a context cannot run against itself")
	}
	if first.kind != second.kind {
		return errorf(op, ErrBadArgument, "%s context paired with %s context", first.kind, second.kind)
	}
	if first.role == second.role {
		return errorf(op, ErrBadArgument, "both contexts play %s", first.role)
	}
	if first.role != RoleP1 {
		return errorf(op, ErrBadArgument, "first context plays %s, want %s", first.role, RoleP1)
	}

	var msg []byte
	for round := 0; !first.Finished() || !second.Finished(); round++ {
		if round == MaxRelayRounds {
			return stall(op, "no completion after %d rounds", MaxRelayRounds)
		}

		if !first.Finished() {
			out, err := first.Step(msg)
			if err != nil {
				return err
			}
			msg = out
		} else if msg != nil {
			return stall(op, "%s sent a message after %s finished", second.role, first.role)
		}
		if msg == nil {
			break
		}

		if second.Finished() {
			return stall(op, "%s sent a message after %s finished", first.role, second.role)
		}
		out, err := second.Step(msg)
		if err != nil {
			return err
		}
		msg = out
	}

	if !first.Finished() || !second.Finished() {
		return stall(op, "no message to deliver (%s finished=%t, %s finished=%t)",
			first.role, first.Finished(), second.role, second.Finished())
	}
	if msg != nil {
		return stall(op, "message left undelivered after both sides finished")
	}
	return nil
}

func stall(op, format string, args ...any) error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %s", ErrProtocolStall, fmt.Sprintf(format, args...))}
}
