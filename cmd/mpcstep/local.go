package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/keyshare"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/mocknet"
)

// runPair drives both roles of an operation over an in-memory network.
func runPair(ctx context.Context, c1, c2 *mpcstep.Context) error {
	p1, p2 := mocknet.New().Pair()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mpcstep.Drive(gctx, c1, p1, true) })
	g.Go(func() error { return mpcstep.Drive(gctx, c2, p2, false) })
	return g.Wait()
}

// checkTargets refuses to start a run whose results could not be stored.
func checkTargets(km *keyshare.Manager, op *operation, roles ...mpcstep.Role) error {
	for _, id := range op.targets {
		for _, role := range roles {
			exists, err := km.Exists(shareID(id, role))
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%w: %s", keyshare.ErrKeyshareExists, shareID(id, role))
			}
		}
	}
	return nil
}

// runLocal plays both parties in this process. Both halves of every key are
// kept under the same home, which suits development and tests but not
// custody: a real deployment runs `mpcstep party` on two hosts.
func runLocal(cmd *cobra.Command, name string, f *opFlags) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	km, err := a.keyshares()
	if err != nil {
		return err
	}
	op, err := operationBuilders[name](a, km, f)
	if err != nil {
		return err
	}
	roles := []mpcstep.Role{mpcstep.RoleP1, mpcstep.RoleP2}
	if err := checkTargets(km, op, roles...); err != nil {
		return err
	}

	contexts := make([]*mpcstep.Context, 0, len(roles))
	defer func() {
		for _, c := range contexts {
			_ = c.Close()
		}
	}()
	for _, role := range roles {
		if op.prepare != nil {
			if err := op.prepare(role); err != nil {
				return err
			}
		}
		c, err := op.start(role)
		if err != nil {
			return err
		}
		contexts = append(contexts, c)
	}

	if err := runPair(cmd.Context(), contexts[0], contexts[1]); err != nil {
		return err
	}
	a.log.Debug().Stringer("kind", contexts[0].Kind()).Msg("local run finished")

	var line string
	for _, c := range contexts {
		o, err := c.Outcome()
		if err != nil {
			return err
		}
		if line, err = op.finish(c.Role(), o); err != nil {
			return err
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
	return nil
}

func localCmd(name string) *cobra.Command {
	f := &opFlags{}
	cmd := &cobra.Command{
		Use:   name,
		Short: operationShort[name] + " (both parties locally)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocal(cmd, name, f)
		},
	}
	bindOpFlags(cmd, name, f)
	return cmd
}

func seedCmd() *cobra.Command    { return localCmd("seed") }
func keygenCmd() *cobra.Command  { return localCmd("keygen") }
func deriveCmd() *cobra.Command  { return localCmd("derive") }
func signCmd() *cobra.Command    { return localCmd("sign") }
func refreshCmd() *cobra.Command { return localCmd("refresh") }
func backupCmd() *cobra.Command  { return localCmd("backup") }

func restoreCmd() *cobra.Command {
	var (
		scheme     string
		backupFile string
		backupKey  string
		publicKey  string
		out        string
	)
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Decrypt a backup package and write the private key",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := parseScheme(scheme)
			if err != nil {
				return err
			}
			pub, err := decodeHex("public-key", publicKey)
			if err != nil {
				return err
			}
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			priv, err := readPEMFile("backup-key", backupKey)
			if err != nil {
				return err
			}
			defer mpcstep.ZeroizeBytes(priv)
			pkg, err := os.ReadFile(backupFile) // #nosec G304 -- operator supplied path
			if err != nil {
				return fmt.Errorf("failed to read backup: %w", err)
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			var key []byte
			if s == keyshare.SchemeEddsa {
				k, err := a.lib.RestoreEddsaKey(priv, pub, pkg)
				if err != nil {
					return err
				}
				key = k[:]
			} else {
				if key, err = a.lib.RestoreEcdsaKey(priv, pub, pkg); err != nil {
					return err
				}
			}
			encoded := append([]byte(hex.EncodeToString(key)), '\n')
			mpcstep.ZeroizeBytes(key)
			defer mpcstep.ZeroizeBytes(encoded)
			if err := os.WriteFile(out, encoded, 0o600); err != nil {
				return fmt.Errorf("failed to write key: %w", err)
			}
			a.log.Info().Str("scheme", scheme).Str("out", out).Msg("key restored")
			return nil
		},
	}
	cmd.Flags().StringVar(&scheme, "scheme", string(keyshare.SchemeEcdsa), "ecdsa or eddsa")
	cmd.Flags().StringVar(&backupFile, "backup", "", "backup package file")
	cmd.Flags().StringVar(&backupKey, "backup-key", "", "PEM backup private key")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "hex public key of the backed up key")
	cmd.Flags().StringVar(&out, "out", "", "file to write the hex private key to")
	return cmd
}
