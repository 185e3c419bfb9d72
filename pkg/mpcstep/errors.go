package mpcstep

import (
	"errors"
	"fmt"

	"github.com/coinbase/mpcstep-go/internal/native"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
)

var (
	// ErrBadArgument reports malformed or inconsistent inputs, such as a share
	// that belongs to the other role.
	ErrBadArgument = errors.New("mpcstep: bad argument")

	// ErrFormat reports malformed serialized bytes.
	ErrFormat = errors.New("mpcstep: malformed data")

	// ErrBufferTooSmall reports an undersized output buffer inside the engine.
	ErrBufferTooSmall = errors.New("mpcstep: buffer too small")

	// ErrCryptoFault reports a failure of the cryptographic computation itself.
	ErrCryptoFault = errors.New("mpcstep: cryptographic failure")

	// ErrProtocolMisuse reports a call that is invalid for the context's
	// current state or operation kind.
	ErrProtocolMisuse = errors.New("mpcstep: protocol misuse")

	// ErrAlreadyFinished is returned when stepping a finished context.
	ErrAlreadyFinished = fmt.Errorf("%w: context already finished", ErrProtocolMisuse)

	// ErrProtocolStall reports that a run cannot make progress although at
	// least one side is unfinished.
	ErrProtocolStall = errors.New("mpcstep: protocol stalled")

	// ErrClosed is returned by handles and contexts after Close. Using a
	// closed object is misuse, so it wraps ErrProtocolMisuse.
	ErrClosed = fmt.Errorf("%w: closed", ErrProtocolMisuse)

	// ErrLibraryClosed is returned once the owning Library has been closed.
	ErrLibraryClosed = errors.New("mpcstep: library closed")

	// ErrNotBuilt reports that the native engine is not linked in.
	ErrNotBuilt = native.ErrNotBuilt
)

// Error wraps an underlying error with the operation that failed.
type Error struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *Error) Error() string {
	return fmt.Sprintf("mpcstep.%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func errorf(op string, sentinel error, format string, args ...any) error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))}
}

// RemapError converts engine status errors to the package taxonomy. The
// result matches both the sentinel and the original *engine.CodeError with
// errors.Is and errors.As. Failures that carry no status code are treated as
// cryptographic faults.
func RemapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotBuilt) {
		return err
	}
	var ce *engine.CodeError
	if !errors.As(err, &ce) {
		return fmt.Errorf("%w: %w", ErrCryptoFault, err)
	}
	switch ce.Code {
	case engine.CodeBadArgument:
		return fmt.Errorf("%w: %w", ErrBadArgument, err)
	case engine.CodeFormat:
		return fmt.Errorf("%w: %w", ErrFormat, err)
	case engine.CodeBufferTooSmall:
		return fmt.Errorf("%w: %w", ErrBufferTooSmall, err)
	default:
		return fmt.Errorf("%w: %w", ErrCryptoFault, err)
	}
}

func remapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: RemapError(err)}
}
