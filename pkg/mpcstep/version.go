package mpcstep

import "github.com/coinbase/mpcstep-go/internal/native"

var Version = "v0.0.0-in-progress"

// WrapperVersion returns the semantic version populated at build time via
// ldflags. In development it defaults to v0.0.0-in-progress.
func WrapperVersion() string {
	return Version
}

// NativeVersion returns the version reported by the native bindings, or an
// empty string when they are not linked in.
func NativeVersion() string {
	return native.Version()
}
