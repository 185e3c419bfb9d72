package engine

import "fmt"

// Code is a numeric engine status code. Zero means success.
type Code uint32

// Status codes shared by every engine implementation. The values match the
// native library so codes survive a trip through either engine unchanged.
const (
	CodeBadArgument    Code = 0xff010002
	CodeFormat         Code = 0xff010003
	CodeBufferTooSmall Code = 0xff010008
	CodeCrypto         Code = 0xff040001
)

func (c Code) String() string {
	switch c {
	case CodeBadArgument:
		return "bad argument"
	case CodeFormat:
		return "format"
	case CodeBufferTooSmall:
		return "buffer too small"
	case CodeCrypto:
		return "crypto"
	default:
		return fmt.Sprintf("code 0x%08x", uint32(c))
	}
}

// CodeError is returned by engines for every non-success status.
type CodeError struct {
	Op   string
	Code Code
	Msg  string
}

func (e *CodeError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("engine %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("engine %s: %s: %s", e.Op, e.Code, e.Msg)
}

// Errorf builds a *CodeError.
func Errorf(op string, code Code, format string, args ...any) error {
	return &CodeError{Op: op, Code: code, Msg: fmt.Sprintf(format, args...)}
}
