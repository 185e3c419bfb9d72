//go:build !cgo || !mpccrypto

package native

import "github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"

// New reports ErrNotBuilt; rebuild with cgo and the mpccrypto tag.
func New() (engine.Engine, error) { return nil, ErrNotBuilt }

// Available reports whether the native library is linked in.
func Available() bool { return false }

// Version returns the native library version, or empty if not available.
func Version() string { return "" }
