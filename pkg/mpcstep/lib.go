package mpcstep

import (
	"fmt"
	"sync/atomic"

	"github.com/coinbase/mpcstep-go/internal/native"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/logging"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/refengine"
)

// Library is an opened engine. Contexts, shares and messages created through
// it remain bound to it.
type Library struct {
	cfg    Config
	eng    engine.Engine
	log    logging.Logger
	closed atomic.Bool
}

// Open loads the engine selected by cfg.
func Open(cfg Config) (*Library, error) {
	eng := cfg.Backend
	if eng == nil {
		var err error
		switch cfg.Engine {
		case "", EngineReference:
			eng, err = refengine.New(cfg.Reference)
		case EngineNative:
			eng, err = native.New()
		default:
			return nil, &Error{Op: "open", Err: fmt.Errorf("%w: unknown engine %q", ErrBadArgument, cfg.Engine)}
		}
		if err != nil {
			return nil, remapError("open", err)
		}
	}

	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Library{cfg: cfg, eng: eng, log: log.With("engine", eng.Name())}, nil
}

// Close marks the library closed. Later constructors and steps fail with
// ErrLibraryClosed; contexts must still be closed by their owners. Closing
// twice returns ErrLibraryClosed.
func (l *Library) Close() error {
	if l == nil {
		return nil
	}
	if !l.closed.CompareAndSwap(false, true) {
		return ErrLibraryClosed
	}
	return nil
}

// EngineName reports which engine backs the library.
func (l *Library) EngineName() string { return l.eng.Name() }

// EngineVersion reports the engine's version string.
func (l *Library) EngineVersion() string { return l.eng.Version() }

func (l *Library) check(op string) error {
	if l == nil {
		return &Error{Op: op, Err: fmt.Errorf("%w: nil library", ErrBadArgument)}
	}
	if l.closed.Load() {
		return &Error{Op: op, Err: ErrLibraryClosed}
	}
	return nil
}
