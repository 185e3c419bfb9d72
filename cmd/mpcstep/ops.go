package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coinbase/mpcstep-go/internal/backupkey"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/keyshare"
)

// opFlags holds the flags of every operation command. Each command binds
// only the ones it uses.
type opFlags struct {
	id        string
	newID     string
	scheme    string
	bits      int
	importHex string
	index     uint32
	hardened  bool
	data      string
	refresh   bool
	backupPub string
	out       string
}

// operation is one protocol run as seen by a single role: how to start its
// context and what to do with the outcome.
type operation struct {
	// targets are the key IDs the run writes, checked before any step so a
	// run never finishes without somewhere to put its shares.
	targets []string
	// prepare, when set, runs before the context is started or resumed.
	prepare func(role mpcstep.Role) error
	start   func(role mpcstep.Role) (*mpcstep.Context, error)
	finish  func(role mpcstep.Role, o mpcstep.Outcome) (string, error)
}

type operationBuilder func(a *app, km *keyshare.Manager, f *opFlags) (*operation, error)

// shareID names the keyshare file of role's half of key id.
func shareID(id string, role mpcstep.Role) string {
	return id + "." + role.String()
}

func loadShare(km *keyshare.Manager, id string, role mpcstep.Role) (*keyshare.Record, error) {
	if id == "" {
		return nil, fmt.Errorf("--id is required")
	}
	rec, err := km.Get(shareID(id, role))
	if err != nil {
		return nil, err
	}
	if rec.Role != role {
		mpcstep.ZeroizeBytes(rec.Share)
		return nil, fmt.Errorf("keyshare %s belongs to %s", shareID(id, role), rec.Role)
	}
	return rec, nil
}

// withShare loads role's share of id, hands it to start and wipes it
// afterwards. Contexts keep their own copy.
func withShare(km *keyshare.Manager, id string, role mpcstep.Role, start func(rec *keyshare.Record) (*mpcstep.Context, error)) (*mpcstep.Context, error) {
	rec, err := loadShare(km, id, role)
	if err != nil {
		return nil, err
	}
	defer mpcstep.ZeroizeBytes(rec.Share)
	return start(rec)
}

// metaLoader returns a prepare hook that reads the metadata of role's share
// of id into dst.
func metaLoader(km *keyshare.Manager, id string, dst *keyshare.Meta) func(mpcstep.Role) error {
	return func(role mpcstep.Role) error {
		if id == "" {
			return fmt.Errorf("--id is required")
		}
		meta, err := km.Meta(shareID(id, role))
		if err != nil {
			return err
		}
		if meta.Role != role {
			return fmt.Errorf("keyshare %s belongs to %s", shareID(id, role), meta.Role)
		}
		*dst = *meta
		return nil
	}
}

func decodeHex(flag, s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("--%s is required", flag)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return b, nil
}

func parseScheme(s string) (keyshare.Scheme, error) {
	switch keyshare.Scheme(s) {
	case keyshare.SchemeEcdsa, keyshare.SchemeEddsa:
		return keyshare.Scheme(s), nil
	default:
		return "", fmt.Errorf("--scheme must be %q or %q", keyshare.SchemeEcdsa, keyshare.SchemeEddsa)
	}
}

func storeShare(km *keyshare.Manager, id string, share []byte, meta keyshare.Meta) error {
	if err := km.Store(shareID(id, meta.Role), share, meta); err != nil {
		return fmt.Errorf("failed to store keyshare %s: %w", shareID(id, meta.Role), err)
	}
	return nil
}

func buildSeed(a *app, km *keyshare.Manager, f *opFlags) (*operation, error) {
	if f.id == "" {
		return nil, fmt.Errorf("--id is required")
	}
	var secret []byte
	if f.importHex != "" {
		var err error
		if secret, err = decodeHex("import", f.importHex); err != nil {
			return nil, err
		}
	}
	return &operation{
		targets: []string{f.id},
		start: func(role mpcstep.Role) (*mpcstep.Context, error) {
			if secret == nil {
				return a.lib.NewGenerateGenericSecretContext(role, f.bits)
			}
			if role == mpcstep.RoleP2 {
				return a.lib.NewImportGenericSecretContext(role, nil)
			}
			return a.lib.NewImportGenericSecretContext(role, secret)
		},
		finish: func(role mpcstep.Role, o mpcstep.Outcome) (string, error) {
			res := o.(mpcstep.ShareOutcome)
			defer mpcstep.ZeroizeBytes(res.Share)
			if err := storeShare(km, f.id, res.Share, keyshare.Meta{Scheme: keyshare.SchemeSecret, Role: role}); err != nil {
				return "", err
			}
			return fmt.Sprintf("seed %s stored", f.id), nil
		},
	}, nil
}

func buildKeygen(a *app, km *keyshare.Manager, f *opFlags) (*operation, error) {
	if f.id == "" {
		return nil, fmt.Errorf("--id is required")
	}
	scheme, err := parseScheme(f.scheme)
	if err != nil {
		return nil, err
	}
	op := &operation{
		targets: []string{f.id},
		start:   a.lib.NewGenerateEcdsaKeyContext,
	}
	if scheme == keyshare.SchemeEddsa {
		op.start = a.lib.NewGenerateEddsaKeyContext
	}
	op.finish = func(role mpcstep.Role, o mpcstep.Outcome) (string, error) {
		res := o.(mpcstep.ShareOutcome)
		defer mpcstep.ZeroizeBytes(res.Share)
		meta := keyshare.Meta{Scheme: scheme, Role: role, PublicKey: res.PublicKey}
		if err := storeShare(km, f.id, res.Share, meta); err != nil {
			return "", err
		}
		return hex.EncodeToString(res.PublicKey), nil
	}
	return op, nil
}

func childPath(parent keyshare.Meta, index uint32, hardened bool) string {
	if parent.Scheme == keyshare.SchemeSecret {
		return "m"
	}
	path := parent.Path
	if path == "" {
		path = "m"
	}
	path = fmt.Sprintf("%s/%d", path, index)
	if hardened {
		path += "'"
	}
	return path
}

func buildDerive(a *app, km *keyshare.Manager, f *opFlags) (*operation, error) {
	if f.newID == "" {
		return nil, fmt.Errorf("--new-id is required")
	}
	var parent keyshare.Meta
	return &operation{
		targets: []string{f.newID},
		prepare: metaLoader(km, f.id, &parent),
		start: func(role mpcstep.Role) (*mpcstep.Context, error) {
			return withShare(km, f.id, role, func(rec *keyshare.Record) (*mpcstep.Context, error) {
				return a.lib.NewDeriveBIP32Context(role, rec.Share, f.hardened, f.index)
			})
		},
		finish: func(role mpcstep.Role, o mpcstep.Outcome) (string, error) {
			res := o.(mpcstep.DeriveOutcome)
			defer mpcstep.ZeroizeBytes(res.Share)
			meta := keyshare.Meta{
				Scheme:    keyshare.SchemeEcdsa,
				Role:      role,
				PublicKey: res.PublicKey,
				XPub:      res.XPub,
				Path:      childPath(parent, f.index, f.hardened),
			}
			if err := storeShare(km, f.newID, res.Share, meta); err != nil {
				return "", err
			}
			return fmt.Sprintf("%s %s", meta.Path, res.XPub), nil
		},
	}, nil
}

func buildSign(a *app, km *keyshare.Manager, f *opFlags) (*operation, error) {
	data, err := decodeHex("data", f.data)
	if err != nil {
		return nil, err
	}
	if f.refresh && f.newID == "" {
		return nil, fmt.Errorf("--new-id is required with --refresh")
	}
	var (
		meta    keyshare.Meta
		targets []string
	)
	if f.refresh {
		targets = []string{f.newID}
	}
	keep := func(role mpcstep.Role, share []byte) error {
		if share == nil {
			return nil
		}
		defer mpcstep.ZeroizeBytes(share)
		next := meta
		next.Role = role
		return storeShare(km, f.newID, share, next)
	}
	return &operation{
		targets: targets,
		prepare: metaLoader(km, f.id, &meta),
		start: func(role mpcstep.Role) (*mpcstep.Context, error) {
			return withShare(km, f.id, role, func(rec *keyshare.Record) (*mpcstep.Context, error) {
				switch rec.Scheme {
				case keyshare.SchemeEcdsa:
					return a.lib.NewEcdsaSignContext(role, rec.Share, data, f.refresh)
				case keyshare.SchemeEddsa:
					return a.lib.NewEddsaSignContext(role, rec.Share, data, f.refresh)
				default:
					return nil, fmt.Errorf("keyshare %s holds a %s share and cannot sign", f.id, rec.Scheme)
				}
			})
		},
		finish: func(role mpcstep.Role, o mpcstep.Outcome) (string, error) {
			var (
				sig []byte
				ok  bool
				err error
			)
			switch res := o.(type) {
			case mpcstep.EcdsaSignOutcome:
				sig = res.Signature
				ok, err = a.lib.VerifyEcdsa(meta.PublicKey, data, sig)
				if kerr := keep(role, res.Share); kerr != nil {
					return "", kerr
				}
			case mpcstep.EddsaSignOutcome:
				sig = res.Signature[:]
				ok, err = a.lib.VerifyEddsa(meta.PublicKey, data, sig)
				if kerr := keep(role, res.Share); kerr != nil {
					return "", kerr
				}
			default:
				return "", fmt.Errorf("unexpected outcome %T", o)
			}
			if err != nil {
				return "", err
			}
			if !ok {
				return "", fmt.Errorf("signature does not verify against %s", f.id)
			}
			return hex.EncodeToString(sig), nil
		},
	}, nil
}

func buildRefresh(a *app, km *keyshare.Manager, f *opFlags) (*operation, error) {
	if f.newID == "" {
		return nil, fmt.Errorf("--new-id is required")
	}
	var meta keyshare.Meta
	return &operation{
		targets: []string{f.newID},
		prepare: metaLoader(km, f.id, &meta),
		start: func(role mpcstep.Role) (*mpcstep.Context, error) {
			return withShare(km, f.id, role, func(rec *keyshare.Record) (*mpcstep.Context, error) {
				return a.lib.NewRefreshContext(role, rec.Share)
			})
		},
		finish: func(role mpcstep.Role, o mpcstep.Outcome) (string, error) {
			res := o.(mpcstep.ShareOutcome)
			defer mpcstep.ZeroizeBytes(res.Share)
			next := meta
			next.Role = role
			if err := storeShare(km, f.newID, res.Share, next); err != nil {
				return "", err
			}
			return fmt.Sprintf("%s refreshed into %s", f.id, f.newID), nil
		},
	}, nil
}

func readPEMFile(flag, path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("--%s is required", flag)
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return backupkey.DecodePEM(data)
}

func buildBackup(a *app, km *keyshare.Manager, f *opFlags) (*operation, error) {
	backupPub, err := readPEMFile("backup-pub", f.backupPub)
	if err != nil {
		return nil, err
	}
	if f.out == "" {
		return nil, fmt.Errorf("--out is required")
	}
	var meta keyshare.Meta
	return &operation{
		prepare: metaLoader(km, f.id, &meta),
		start: func(role mpcstep.Role) (*mpcstep.Context, error) {
			return withShare(km, f.id, role, func(rec *keyshare.Record) (*mpcstep.Context, error) {
				switch rec.Scheme {
				case keyshare.SchemeEcdsa:
					return a.lib.NewBackupEcdsaKeyContext(role, rec.Share, backupPub)
				case keyshare.SchemeEddsa:
					return a.lib.NewBackupEddsaKeyContext(role, rec.Share, backupPub)
				default:
					return nil, fmt.Errorf("keyshare %s holds a %s share and cannot be backed up", f.id, rec.Scheme)
				}
			})
		},
		finish: func(role mpcstep.Role, o mpcstep.Outcome) (string, error) {
			res := o.(mpcstep.BackupOutcome)
			verify := a.lib.VerifyEcdsaBackup
			if res.Kind == mpcstep.BackupEddsaKey {
				verify = a.lib.VerifyEddsaBackup
			}
			ok, err := verify(backupPub, meta.PublicKey, res.Package)
			if err != nil {
				return "", err
			}
			if !ok {
				return "", fmt.Errorf("backup package does not verify against %s", f.id)
			}
			if err := os.WriteFile(f.out, res.Package, 0o600); err != nil {
				return "", fmt.Errorf("failed to write backup: %w", err)
			}
			return f.out, nil
		},
	}, nil
}

// bindOpFlags registers the flags operation name reads.
func bindOpFlags(cmd *cobra.Command, name string, f *opFlags) {
	fs := cmd.Flags()
	switch name {
	case "seed":
		fs.StringVar(&f.id, "id", "", "key ID to store the seed shares under")
		fs.IntVar(&f.bits, "bits", 256, "seed size in bits")
		fs.StringVar(&f.importHex, "import", "", "hex seed to split instead of generating one")
	case "keygen":
		fs.StringVar(&f.id, "id", "", "key ID to store the new shares under")
		fs.StringVar(&f.scheme, "scheme", string(keyshare.SchemeEcdsa), "ecdsa or eddsa")
	case "derive":
		fs.StringVar(&f.id, "id", "", "parent key ID (a seed or an HD ecdsa key)")
		fs.StringVar(&f.newID, "new-id", "", "key ID for the child shares")
		fs.Uint32Var(&f.index, "index", 0, "child index")
		fs.BoolVar(&f.hardened, "hardened", false, "derive a hardened child")
	case "sign":
		fs.StringVar(&f.id, "id", "", "key ID to sign with")
		fs.StringVar(&f.data, "data", "", "hex hash (ecdsa) or message (eddsa)")
		fs.BoolVar(&f.refresh, "refresh", false, "refresh the shares while signing")
		fs.StringVar(&f.newID, "new-id", "", "key ID for the refreshed shares")
	case "refresh":
		fs.StringVar(&f.id, "id", "", "key ID to refresh")
		fs.StringVar(&f.newID, "new-id", "", "key ID for the refreshed shares")
	case "backup":
		fs.StringVar(&f.id, "id", "", "key ID to back up")
		fs.StringVar(&f.backupPub, "backup-pub", "", "PEM backup public key")
		fs.StringVar(&f.out, "out", "", "file to write the backup package to")
	}
}

var operationBuilders = map[string]operationBuilder{
	"seed":    buildSeed,
	"keygen":  buildKeygen,
	"derive":  buildDerive,
	"sign":    buildSign,
	"refresh": buildRefresh,
	"backup":  buildBackup,
}

var operationShort = map[string]string{
	"seed":    "Generate or import a shared BIP32 seed",
	"keygen":  "Generate a shared ECDSA or EdDSA key",
	"derive":  "Derive a BIP32 child key",
	"sign":    "Sign with a shared key",
	"refresh": "Re-randomize the shares of a key",
	"backup":  "Encrypt a shared key to a backup public key",
}

var operationOrder = []string{"seed", "keygen", "derive", "sign", "refresh", "backup"}
