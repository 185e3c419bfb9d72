package mpcstep

import "github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"

// Status reports what the latest step did. Changed is true exactly when the
// step produced new share material; Finished is true once this side of the
// operation is complete and stays true.
type Status struct {
	Changed  bool
	Finished bool
}

func statusFromFlags(f engine.Flags) Status {
	return Status{
		Changed:  f.Has(engine.FlagChanged),
		Finished: f.Has(engine.FlagFinished),
	}
}
