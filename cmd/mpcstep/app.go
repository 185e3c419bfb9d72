package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coinbase/mpcstep-go/internal/config"
	"github.com/coinbase/mpcstep-go/internal/logger"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/keyshare"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/logging"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/refengine"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/store"
)

// app bundles what every command needs: the resolved home directory, its
// config, a logger and an opened library.
type app struct {
	home string
	cfg  config.Config
	log  zerolog.Logger
	lib  *mpcstep.Library
}

func newApp(cmd *cobra.Command) (*app, error) {
	home, err := cmd.Flags().GetString(flagHome)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(home)
	if err != nil {
		return nil, err
	}
	log := logger.Init(cmd.ErrOrStderr(), cfg)

	lib, err := mpcstep.Open(mpcstep.Config{
		Engine:    cfg.Engine,
		Logger:    logging.NewZerolog(log.With().Str("component", "mpcstep").Logger()),
		Reference: refengine.Options{PaillierBits: cfg.PaillierBits},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s engine: %w", cfg.Engine, err)
	}
	return &app{home: home, cfg: cfg, log: log, lib: lib}, nil
}

func (a *app) close() {
	if err := a.lib.Close(); err != nil {
		a.log.Warn().Err(err).Msg("library close")
	}
}

func (a *app) path(p string) string {
	return config.Resolve(a.home, p)
}

func (a *app) keyshares() (*keyshare.Manager, error) {
	password := os.Getenv(envPassword)
	if password == "" {
		return nil, fmt.Errorf("%s must be set to read or write keyshares", envPassword)
	}
	return keyshare.NewManager(a.path(a.cfg.KeyshareDir), []byte(password), keyshare.WithIterations(a.cfg.KeyshareIterations))
}

func (a *app) store() (*store.Store, error) {
	return store.Open(a.path(a.cfg.StoreDSN), a.log)
}
