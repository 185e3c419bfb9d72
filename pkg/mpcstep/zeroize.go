package mpcstep

import "runtime"

// ZeroizeBytes overwrites the provided slice with zeros and prevents compiler
// dead store elimination using runtime.KeepAlive.
//
// This cannot guarantee complete memory sanitization: the garbage collector
// and crypto libraries may have made copies. Engines wipe their own state when
// handles are freed.
func ZeroizeBytes(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	runtime.KeepAlive(buf)
}
