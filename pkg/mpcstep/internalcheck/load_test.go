package internalcheck

import (
	"testing"

	"golang.org/x/tools/go/packages"
)

// policyScope lists the packages that hold or move share material.
var policyScope = []string{
	"github.com/coinbase/mpcstep-go/pkg/mpcstep",
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/refengine",
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/keyshare",
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/store",
}

func loadScope(t *testing.T, mode packages.LoadMode) []*packages.Package {
	t.Helper()
	cfg := &packages.Config{Mode: mode | packages.NeedFiles | packages.NeedName}
	pkgs, err := packages.Load(cfg, policyScope...)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		t.Fatalf("packages contain errors")
	}
	return pkgs
}
