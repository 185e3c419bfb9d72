package mpcstep

import (
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/logging"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/refengine"
)

// Engine names accepted by Config.Engine.
const (
	EngineReference = "reference"
	EngineNative    = "native"
)

// Config selects and tunes the cryptographic engine behind a Library.
type Config struct {
	// Engine names the engine to load: EngineReference (the default) or
	// EngineNative, which needs a build with cgo and the mpccrypto tag.
	Engine string

	// Backend, when set, is used instead of the engine named by Engine.
	Backend engine.Engine

	// Logger receives per-step debug lines. Nil discards them.
	Logger logging.Logger

	// Reference tunes the reference engine.
	Reference refengine.Options
}
