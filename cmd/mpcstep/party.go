package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/store"
	"github.com/coinbase/mpcstep-go/pkg/mpcstep/tlsnet"
)

type partyFlags struct {
	role    string
	addr    string
	name    string
	peer    string
	session string
	resume  bool
}

func parseRole(s string) (mpcstep.Role, error) {
	switch s {
	case mpcstep.RoleP1.String():
		return mpcstep.RoleP1, nil
	case mpcstep.RoleP2.String():
		return mpcstep.RoleP2, nil
	default:
		return 0, fmt.Errorf("--role must be %q or %q", mpcstep.RoleP1, mpcstep.RoleP2)
	}
}

func partyCmd() *cobra.Command {
	pf := &partyFlags{}
	cmd := &cobra.Command{
		Use:   "party",
		Short: "Run one side of an operation against a remote counterpart over mTLS",
		Long: `Run one side of an operation. p2 listens on --addr, p1 dials it.

If the connection drops or the process is interrupted, the context is paused
into the session store; run the same command again with --session and
--resume to continue where it stopped.`,
	}
	fs := cmd.PersistentFlags()
	fs.StringVar(&pf.role, "role", "", "p1 (dials) or p2 (listens)")
	fs.StringVar(&pf.addr, "addr", "127.0.0.1:7400", "address p2 listens on and p1 dials")
	fs.StringVar(&pf.name, "name", "", "own certificate name (default: the role)")
	fs.StringVar(&pf.peer, "peer", "", "counterpart certificate name (default: the other role)")
	fs.StringVar(&pf.session, "session", "", "session ID (default: a new one)")
	fs.BoolVar(&pf.resume, "resume", false, "resume the paused context of --session")

	for _, name := range operationOrder {
		f := &opFlags{}
		sub := &cobra.Command{
			Use:   name,
			Short: operationShort[name],
			RunE: func(cmd *cobra.Command, args []string) error {
				return runParty(cmd, name, f, pf)
			},
		}
		bindOpFlags(sub, name, f)
		cmd.AddCommand(sub)
	}
	return cmd
}

// pendingTransport remembers the last message that could not be handed to
// the underlying transport, so a paused context can resend it on resume.
type pendingTransport struct {
	mpcstep.Transport
	pending []byte
}

func (t *pendingTransport) Send(ctx context.Context, to mpcstep.Role, msg []byte) error {
	if err := t.Transport.Send(ctx, to, msg); err != nil {
		t.pending = bytes.Clone(msg)
		return err
	}
	t.pending = nil
	return nil
}

func (a *app) tlsConfig(role mpcstep.Role, pf *partyFlags) (tlsnet.Config, error) {
	name := pf.name
	if name == "" {
		name = role.String()
	}
	peer := pf.peer
	if peer == "" {
		peer = role.Peer().String()
	}
	dir := a.path(a.cfg.TLSDir)
	cert, err := tlsnet.LoadKeyPair(filepath.Join(dir, name+"-cert.pem"), filepath.Join(dir, name+"-key.pem"))
	if err != nil {
		return tlsnet.Config{}, err
	}
	pool, err := tlsnet.LoadCertPool(filepath.Join(dir, "rootCA.pem"))
	if err != nil {
		return tlsnet.Config{}, err
	}
	return tlsnet.Config{Self: role, PeerName: peer, Certificate: cert, RootCAs: pool}, nil
}

func (a *app) connect(ctx context.Context, role mpcstep.Role, pf *partyFlags) (*tlsnet.Transport, error) {
	cfg, err := a.tlsConfig(role, pf)
	if err != nil {
		return nil, err
	}
	if role == mpcstep.RoleP1 {
		dialCtx, cancel := context.WithTimeout(ctx, time.Duration(a.cfg.DialTimeoutSeconds)*time.Second)
		defer cancel()
		a.log.Info().Str("addr", pf.addr).Str("peer", cfg.PeerName).Msg("dialing counterpart")
		return tlsnet.Dial(dialCtx, pf.addr, cfg)
	}
	ln, err := tlsnet.Listen(pf.addr, cfg)
	if err != nil {
		return nil, err
	}
	defer ln.Close()
	a.log.Info().Stringer("addr", ln.Addr()).Str("peer", cfg.PeerName).Msg("waiting for counterpart")
	return ln.Accept(ctx)
}

func runParty(cmd *cobra.Command, name string, f *opFlags, pf *partyFlags) error {
	role, err := parseRole(pf.role)
	if err != nil {
		return err
	}
	if pf.resume && pf.session == "" {
		return fmt.Errorf("--resume needs --session")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	km, err := a.keyshares()
	if err != nil {
		return err
	}
	st, err := a.store()
	if err != nil {
		return err
	}
	defer st.Close()

	op, err := operationBuilders[name](a, km, f)
	if err != nil {
		return err
	}
	if err := checkTargets(km, op, role); err != nil {
		return err
	}
	if op.prepare != nil {
		if err := op.prepare(role); err != nil {
			return err
		}
	}

	session := pf.session
	if session == "" {
		session = store.NewSessionID()
	}
	log := a.log.With().Str("session_id", session).Stringer("role", role).Str("operation", name).Logger()

	var (
		c       *mpcstep.Context
		pending []byte
	)
	if pf.resume {
		c, pending, err = st.Resume(a.lib, session, role)
	} else {
		c, err = op.start(role)
	}
	if err != nil {
		return err
	}
	defer c.Close()

	pause := func(cause error, pending []byte) error {
		if perr := st.Pause(session, c, pending); perr != nil {
			log.Error().Err(perr).Msg("context could not be paused")
			if pf.resume {
				_ = st.MarkFailed(session, role, cause)
			}
			return cause
		}
		log.Warn().Err(cause).Msg("context paused")
		return fmt.Errorf("session %s paused, rerun with --session %s --resume: %w", session, session, cause)
	}

	tr, err := a.connect(ctx, role, pf)
	if err != nil {
		if pf.resume {
			return pause(err, pending)
		}
		return err
	}
	defer tr.Close()

	pt := &pendingTransport{Transport: tr}
	if pending != nil {
		if err := pt.Send(ctx, role.Peer(), pending); err != nil {
			return pause(err, pending)
		}
		log.Debug().Int("bytes", len(pending)).Msg("pending message resent")
	}

	initiator := role == mpcstep.RoleP1 && !pf.resume
	if err := mpcstep.Drive(ctx, c, pt, initiator); err != nil {
		if c.Finished() {
			return err
		}
		return pause(err, pt.pending)
	}

	o, err := c.Outcome()
	if err != nil {
		return err
	}
	line, err := op.finish(role, o)
	if err != nil {
		if pf.resume {
			_ = st.MarkFailed(session, role, err)
		}
		return err
	}
	if pf.resume {
		if err := st.MarkFinished(session, role); err != nil {
			log.Warn().Err(err).Msg("session not marked finished")
		}
	}
	log.Info().Stringer("kind", c.Kind()).Msg("operation finished")
	fmt.Fprintln(cmd.OutOrStdout(), line)
	return nil
}

var _ mpcstep.Transport = (*pendingTransport)(nil)
