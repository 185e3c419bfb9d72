// Package tlsnet connects the two parties of a run over mutually
// authenticated TLS and implements mpcstep.Transport on top of the link.
//
// RoleP2 listens and RoleP1 dials. After the handshake each side announces
// its role in a one-byte hello; messages then travel as length-prefixed
// frames.
package tlsnet

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep"
)

const (
	// MaxFrameSize bounds a single protocol message.
	MaxFrameSize = 16 << 20

	helloTimeout = 10 * time.Second
	redialDelay  = 200 * time.Millisecond
)

// Config configures one side of the link.
type Config struct {
	Self mpcstep.Role
	// PeerName must match the common name of the counterpart's certificate.
	// The dialing side also uses it as the TLS server name.
	PeerName    string
	Certificate tls.Certificate
	RootCAs     *x509.CertPool
}

func (c Config) validate() error {
	if c.RootCAs == nil {
		return errors.New("tlsnet: root CA pool required")
	}
	if c.Self != mpcstep.RoleP1 && c.Self != mpcstep.RoleP2 {
		return fmt.Errorf("tlsnet: invalid role %d", uint8(c.Self))
	}
	if c.PeerName == "" {
		return errors.New("tlsnet: peer name required")
	}
	return nil
}

// Transport implements mpcstep.Transport over one mTLS connection.
type Transport struct {
	self mpcstep.Role
	peer *peerConn

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

type peerConn struct {
	id   mpcstep.Role
	conn net.Conn

	send chan outFrame
	recv chan []byte
	done chan struct{}

	errOnce sync.Once
	errMu   sync.Mutex
	err     error
}

// outFrame is a queued message and the channel its write result goes to.
type outFrame struct {
	msg []byte
	res chan error
}

// Listener accepts the RoleP1 connection on the RoleP2 side.
type Listener struct {
	cfg Config
	ln  net.Listener
}

// Listen opens the listening side at addr. cfg.Self must be RoleP2.
func Listen(addr string, cfg Config) (*Listener, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Self != mpcstep.RoleP2 {
		return nil, errors.New("tlsnet: only p2 listens")
	}
	serverTLS := &tls.Config{
		Certificates: []tls.Certificate{cfg.Certificate},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    cfg.RootCAs,
		MinVersion:   tls.VersionTLS12,
	}
	ln, err := tls.Listen("tcp", addr, serverTLS)
	if err != nil {
		return nil, fmt.Errorf("tlsnet: listen: %w", err)
	}
	return &Listener{cfg: cfg, ln: ln}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops listening. Established transports stay open.
func (l *Listener) Close() error { return l.ln.Close() }

// Accept waits for the counterpart. Cancelling ctx closes the listener.
func (l *Listener) Accept(ctx context.Context) (*Transport, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = l.ln.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("tlsnet: accept: %w", err)
		}
		tlsConn, ok := conn.(*tls.Conn)
		if !ok {
			_ = conn.Close()
			continue
		}
		t, err := establish(ctx, l.cfg, tlsConn, false)
		if err != nil {
			// A stray or misconfigured client must not end the wait.
			_ = tlsConn.Close()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		return t, nil
	}
}

// Dial connects to the RoleP2 listener at addr, retrying until ctx ends.
// cfg.Self must be RoleP1.
func Dial(ctx context.Context, addr string, cfg Config) (*Transport, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Self != mpcstep.RoleP1 {
		return nil, errors.New("tlsnet: only p1 dials")
	}
	clientTLS := &tls.Config{
		Certificates: []tls.Certificate{cfg.Certificate},
		RootCAs:      cfg.RootCAs,
		ServerName:   cfg.PeerName,
		MinVersion:   tls.VersionTLS12,
	}
	dialer := &tls.Dialer{Config: clientTLS}

	var lastErr error
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			t, err := establish(ctx, cfg, conn.(*tls.Conn), true)
			if err == nil {
				return t, nil
			}
			_ = conn.Close()
			lastErr = err
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("tlsnet: dial %s: %w (last error: %v)", addr, ctx.Err(), lastErr)
		case <-time.After(redialDelay):
		}
	}
}

// establish completes the TLS handshake, checks the peer certificate and
// exchanges role hellos. The dialer speaks first.
func establish(ctx context.Context, cfg Config, conn *tls.Conn, dialer bool) (*Transport, error) {
	if err := conn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("tlsnet: handshake: %w", err)
	}
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 || state.PeerCertificates[0].Subject.CommonName != cfg.PeerName {
		return nil, fmt.Errorf("tlsnet: peer certificate is not for %q", cfg.PeerName)
	}

	if err := conn.SetDeadline(time.Now().Add(helloTimeout)); err != nil {
		return nil, err
	}
	want := cfg.Self.Peer()
	if dialer {
		if err := writeHello(conn, cfg.Self); err != nil {
			return nil, err
		}
	}
	got, err := readHello(conn)
	if err != nil {
		return nil, fmt.Errorf("tlsnet: read hello: %w", err)
	}
	if got != want {
		return nil, fmt.Errorf("tlsnet: peer announced %s, expected %s", got, want)
	}
	if !dialer {
		if err := writeHello(conn, cfg.Self); err != nil {
			return nil, err
		}
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, err
	}

	tctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		self:   cfg.Self,
		peer:   newPeerConn(tctx, want, conn),
		ctx:    tctx,
		cancel: cancel,
	}, nil
}

// Self returns the local role.
func (t *Transport) Self() mpcstep.Role { return t.self }

// Send returns once msg has been written to the connection. A nil error
// does not imply the peer has read it. After a non-nil error the message
// must be treated as undelivered and sent again on a new transport.
func (t *Transport) Send(ctx context.Context, to mpcstep.Role, msg []byte) error {
	if to != t.peer.id {
		return fmt.Errorf("tlsnet: unknown peer %s", to)
	}
	if len(msg) > MaxFrameSize {
		return fmt.Errorf("tlsnet: message of %d bytes exceeds frame limit", len(msg))
	}
	if err := t.peer.failed(); err != nil {
		return err
	}
	f := outFrame{msg: append([]byte(nil), msg...), res: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.peer.done:
		return t.peer.errOr(errTransportClosed)
	case t.peer.send <- f:
	}
	select {
	case err := <-f.res:
		return err
	case <-t.peer.done:
		// The writer may have finished f just before failing.
		select {
		case err := <-f.res:
			return err
		default:
		}
		return t.peer.errOr(errTransportClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) Receive(ctx context.Context, from mpcstep.Role) ([]byte, error) {
	if from != t.peer.id {
		return nil, fmt.Errorf("tlsnet: unknown peer %s", from)
	}
	return t.peer.recvOne(ctx, t.ctx)
}

// Close terminates the transport and the underlying connection.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		t.peer.close()
	})
	return nil
}

var _ mpcstep.Transport = (*Transport)(nil)

var errTransportClosed = errors.New("tlsnet: transport closed")

func newPeerConn(ctx context.Context, id mpcstep.Role, conn net.Conn) *peerConn {
	pc := &peerConn{
		id:   id,
		conn: conn,
		send: make(chan outFrame),
		recv: make(chan []byte, 16),
		done: make(chan struct{}),
	}
	go pc.writer(ctx)
	go pc.reader(ctx)
	return pc
}

func (pc *peerConn) writer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			pc.setErr(ctx.Err())
			return
		case <-pc.done:
			return
		case f := <-pc.send:
			err := writeFrame(pc.conn, f.msg)
			f.res <- err
			if err != nil {
				pc.setErr(err)
				return
			}
		}
	}
}

// reader is the only goroutine that sends on or closes recv.
func (pc *peerConn) reader(ctx context.Context) {
	defer close(pc.recv)
	for {
		msg, err := readFrame(pc.conn)
		if err != nil {
			pc.setErr(err)
			return
		}
		select {
		case pc.recv <- msg:
		case <-ctx.Done():
			pc.setErr(ctx.Err())
			return
		}
	}
}

func (pc *peerConn) recvOne(ctx, transportCtx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-pc.recv:
		if !ok {
			return nil, pc.errOr(io.EOF)
		}
		return msg, nil
	case <-transportCtx.Done():
		return nil, errTransportClosed
	}
}

// close shuts the connection; the reader notices and closes recv itself.
func (pc *peerConn) close() {
	pc.setErr(errTransportClosed)
}

func (pc *peerConn) setErr(err error) {
	pc.errOnce.Do(func() {
		if err == nil {
			err = io.EOF
		}
		pc.errMu.Lock()
		pc.err = err
		pc.errMu.Unlock()
		close(pc.done)
		_ = pc.conn.Close()
	})
}

// failed returns the connection's terminal error, or nil while it is usable.
func (pc *peerConn) failed() error {
	select {
	case <-pc.done:
		return pc.errOr(errTransportClosed)
	default:
		return nil
	}
}

func (pc *peerConn) errOr(fallback error) error {
	pc.errMu.Lock()
	defer pc.errMu.Unlock()
	if pc.err != nil {
		return pc.err
	}
	return fallback
}

func writeFrame(conn net.Conn, payload []byte) error {
	size := len(payload)
	if size > math.MaxUint32 {
		return fmt.Errorf("tlsnet: frame too large (%d bytes)", size)
	}
	buf := make([]byte, 4+size)
	binary.BigEndian.PutUint32(buf, uint32(size))
	copy(buf[4:], payload)
	_, err := conn.Write(buf)
	return err
}

func readFrame(conn net.Conn) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("tlsnet: frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeHello(conn net.Conn, role mpcstep.Role) error {
	_, err := conn.Write([]byte{byte(role)})
	return err
}

func readHello(conn net.Conn) (mpcstep.Role, error) {
	var buf [1]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return 0, err
	}
	return mpcstep.Role(buf[0]), nil
}
