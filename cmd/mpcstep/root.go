package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const (
	flagHome = "home"

	envHome     = "MPCSTEP_HOME"
	envPassword = "MPCSTEP_PASSWORD"
)

func defaultHome() string {
	if home := os.Getenv(envHome); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".mpcstep"
	}
	return filepath.Join(userHome, ".mpcstep")
}

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "mpcstep",
		Short:         "Two-party MPC key management",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String(flagHome, defaultHome(), "directory holding config, keyshares and paused sessions")

	InitRootCmd(rootCmd)

	return rootCmd
}
