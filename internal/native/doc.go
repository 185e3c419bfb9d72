// Package native binds the MPCCrypto C API (libmpc_crypto) to the
// engine.Engine interface.
//
// The binding is compiled only with cgo and the mpccrypto build tag:
//
//	CGO_CFLAGS="-I/opt/mpc-crypto/include" \
//	CGO_LDFLAGS="-L/opt/mpc-crypto/lib -lmpc_crypto" \
//	go build -tags mpccrypto ./...
//
// Every other build links a stub whose New reports ErrNotBuilt, so the rest of
// the module compiles and tests without the native library.
package native

import "errors"

// ErrNotBuilt reports that the native bindings were not linked into the
// current binary.
var ErrNotBuilt = errors.New("mpcstep/internal/native: native bindings not built")

const engineName = "native"
