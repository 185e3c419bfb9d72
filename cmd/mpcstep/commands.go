package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/coinbase/mpcstep-go/internal/backupkey"
	"github.com/coinbase/mpcstep-go/internal/config"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/store"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/tlsnet"
)

func InitRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(certsCmd())
	rootCmd.AddCommand(backupKeygenCmd())

	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(deriveCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(restoreCmd())

	rootCmd.AddCommand(partyCmd())
	rootCmd.AddCommand(sessionCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration into the home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := cmd.Flags().GetString(flagHome)
			if err != nil {
				return err
			}
			cfg, err := config.LoadDefaultConfig()
			if err != nil {
				return err
			}
			if err := config.Save(cfg, home); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", filepath.Join(home, "config", "mpcstep.json"))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print mpcstep version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			native := mpcstep.NativeVersion()
			if native == "" {
				native = "not built"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrapper:  %s\n", mpcstep.WrapperVersion())
			fmt.Fprintf(out, "Native:   %s\n", native)
			fmt.Fprintf(out, "Engine:   %s (%s)\n", a.lib.EngineName(), a.lib.EngineVersion())
			return nil
		},
	}
}

func certsCmd() *cobra.Command {
	var (
		outDir   string
		keyBits  int
		validity int
	)
	cmd := &cobra.Command{
		Use:   "certs [names...]",
		Short: "Generate a CA and mTLS certificates for the parties (default: p1 p2)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			names := args
			if len(names) == 0 {
				names = []string{mpcstep.RoleP1.String(), mpcstep.RoleP2.String()}
			}
			if outDir == "" {
				outDir = a.path(a.cfg.TLSDir)
			}
			bundle, err := tlsnet.GenerateCertificates(names, tlsnet.CertOptions{KeyBits: keyBits, ValidityDays: validity})
			if err != nil {
				return err
			}
			if err := bundle.WriteFiles(outDir); err != nil {
				return err
			}
			a.log.Info().Strs("names", names).Str("dir", outDir).Msg("certificates written")
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (default: <home>/<tls_dir>)")
	cmd.Flags().IntVar(&keyBits, "key-bits", 0, "RSA key size (default 3072)")
	cmd.Flags().IntVar(&validity, "validity-days", 0, "certificate lifetime (default 365)")
	return cmd
}

func backupKeygenCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "backup-keygen",
		Short: "Generate the RSA key pair that backups are encrypted to",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			pair, err := backupkey.Generate(a.cfg.BackupKeyBits)
			if err != nil {
				return err
			}
			defer mpcstep.ZeroizeBytes(pair.Private)
			if err := os.MkdirAll(outDir, 0o750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			pubPath := filepath.Join(outDir, "backup.pub.pem")
			keyPath := filepath.Join(outDir, "backup.key.pem")
			if err := os.WriteFile(pubPath, backupkey.EncodePublicPEM(pair.Public), 0o644); err != nil {
				return fmt.Errorf("failed to write public key: %w", err)
			}
			if err := os.WriteFile(keyPath, backupkey.EncodePrivatePEM(pair.Private), 0o600); err != nil {
				return fmt.Errorf("failed to write private key: %w", err)
			}
			a.log.Info().Int("bits", a.cfg.BackupKeyBits).Str("public", pubPath).Str("private", keyPath).Msg("backup key written")
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", ".", "output directory")
	return cmd
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and clean up paused sessions",
	}
	cmd.AddCommand(sessionListCmd(), sessionPurgeCmd())
	return cmd
}

func sessionListCmd() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			st, err := a.store()
			if err != nil {
				return err
			}
			defer st.Close()

			rows, err := st.List(status, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tROLE\tKIND\tSTATUS\tUPDATED\tERROR")
			for _, row := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					row.SessionID,
					mpcstep.Role(row.Role),
					mpcstep.OperationKind(row.Kind),
					row.Status,
					row.UpdatedAt.Format("2006-01-02 15:04:05"),
					row.ErrorMsg,
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only list sessions in this status (PAUSED, RESUMED, FINISHED, FAILED)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of rows")
	return cmd
}

func sessionPurgeCmd() *cobra.Command {
	var resetResumed bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete finished and failed sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			st, err := a.store()
			if err != nil {
				return err
			}
			defer st.Close()

			if resetResumed {
				n, err := st.ResetResumed()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %d resumed sessions to %s\n", n, store.StatusPaused)
			}
			n, err := st.Purge()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d sessions\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&resetResumed, "reset-resumed", false, "also return sessions left RESUMED by a crashed run to PAUSED")
	return cmd
}
