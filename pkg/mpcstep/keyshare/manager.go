// Package keyshare stores key shares in password-encrypted files.
//
// Each file holds the share encrypted with AES-256-GCM under a PBKDF2-SHA256
// key, next to clear metadata (scheme, role, public key) that is bound to the
// ciphertext as associated data.
package keyshare

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shamaton/msgpack/v2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep"
)

var (
	ErrKeyshareNotFound = errors.New("keyshare not found")
	ErrKeyshareExists   = errors.New("keyshare already exists")
	ErrInvalidKeyID     = errors.New("invalid key ID")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrUnsupportedFile  = errors.New("unsupported keyshare file")
)

const (
	filePerms = 0o600
	dirPerms  = 0o700

	fileVersion = 1
	saltLength  = 32
	keyLength   = 32

	// DefaultIterations is the PBKDF2 work factor for new files.
	DefaultIterations = 600_000
	minIterations     = 1_000
)

// Scheme names the kind of share a file holds.
type Scheme string

const (
	SchemeSecret Scheme = "secret"
	SchemeEcdsa  Scheme = "ecdsa"
	SchemeEddsa  Scheme = "eddsa"
)

// Meta is stored in clear next to the encrypted share.
type Meta struct {
	Scheme    Scheme
	Role      mpcstep.Role
	PublicKey []byte
	XPub      string // Set for BIP32-derived shares
	Path      string // Derivation path, e.g. m/44'/0'
}

// Record is a decrypted keyshare file.
type Record struct {
	Meta
	Share []byte
}

type fileWire struct {
	Version    uint8
	Meta       Meta
	Iterations int
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte
}

// Manager reads and writes keyshare files in one directory.
type Manager struct {
	dir        string
	password   []byte
	iterations int
	rand       io.Reader
}

// Option configures a Manager.
type Option func(*Manager)

// WithIterations sets the PBKDF2 work factor for files the manager writes.
// Files record their own work factor, so reading is unaffected.
func WithIterations(n int) Option {
	return func(m *Manager) { m.iterations = n }
}

// NewManager creates dir if needed and returns a manager encrypting with
// password.
func NewManager(dir string, password []byte, opts ...Option) (*Manager, error) {
	if dir == "" {
		return nil, errors.New("keyshare directory cannot be empty")
	}
	if len(password) == 0 {
		return nil, errors.New("keyshare password cannot be empty")
	}
	m := &Manager{
		dir:        dir,
		password:   append([]byte(nil), password...),
		iterations: DefaultIterations,
		rand:       rand.Reader,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.iterations < minIterations {
		return nil, fmt.Errorf("PBKDF2 iterations must be at least %d, got %d", minIterations, m.iterations)
	}
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return nil, fmt.Errorf("failed to create keyshare directory: %w", err)
	}
	return m, nil
}

func (m *Manager) path(keyID string) (string, error) {
	if keyID == "" {
		return "", ErrInvalidKeyID
	}
	if strings.ContainsAny(keyID, `/\`) || strings.Contains(keyID, "..") {
		return "", fmt.Errorf("%w: keyID contains invalid characters", ErrInvalidKeyID)
	}
	return filepath.Join(m.dir, keyID), nil
}

// Store encrypts share and writes it as keyID. Existing files are never
// overwritten.
func (m *Manager) Store(keyID string, share []byte, meta Meta) error {
	p, err := m.path(keyID)
	if err != nil {
		return err
	}
	data, err := m.seal(share, meta)
	if err != nil {
		return fmt.Errorf("failed to encrypt keyshare: %w", err)
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerms) // #nosec G304 -- keyID validated by path
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrKeyshareExists, keyID)
	}
	if err != nil {
		return fmt.Errorf("failed to create keyshare file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return fmt.Errorf("failed to write keyshare file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(p)
		return fmt.Errorf("failed to write keyshare file: %w", err)
	}
	return nil
}

// Get reads and decrypts keyID. The caller should zeroize Record.Share after
// use.
func (m *Manager) Get(keyID string) (*Record, error) {
	p, err := m.path(keyID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p) // #nosec G304 -- keyID validated by path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyshareNotFound, keyID)
		}
		return nil, fmt.Errorf("failed to read keyshare file: %w", err)
	}
	rec, err := m.open(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt keyshare %s: %w", keyID, err)
	}
	return rec, nil
}

// Meta reads the clear metadata of keyID without decrypting the share.
func (m *Manager) Meta(keyID string) (*Meta, error) {
	p, err := m.path(keyID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p) // #nosec G304 -- keyID validated by path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyshareNotFound, keyID)
		}
		return nil, fmt.Errorf("failed to read keyshare file: %w", err)
	}
	w, err := decodeFile(data)
	if err != nil {
		return nil, err
	}
	return &w.Meta, nil
}

// Exists checks if a keyshare file exists for the given keyID.
func (m *Manager) Exists(keyID string) (bool, error) {
	p, err := m.path(keyID)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check keyshare file: %w", err)
	}
	return true, nil
}

// List returns all key IDs in the directory, sorted.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyshare directory: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Manager) seal(share []byte, meta Meta) ([]byte, error) {
	if len(share) == 0 {
		return nil, errors.New("keyshare data cannot be empty")
	}
	w := fileWire{Version: fileVersion, Meta: meta, Iterations: m.iterations, Salt: make([]byte, saltLength)}
	if _, err := io.ReadFull(m.rand, w.Salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	gcm, err := m.aead(w.Salt, w.Iterations)
	if err != nil {
		return nil, err
	}
	w.Nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(m.rand, w.Nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ad, err := associatedData(&w)
	if err != nil {
		return nil, err
	}
	w.Ciphertext = gcm.Seal(nil, w.Nonce, share, ad)
	return msgpack.Marshal(&w)
}

func (m *Manager) open(data []byte) (*Record, error) {
	w, err := decodeFile(data)
	if err != nil {
		return nil, err
	}
	gcm, err := m.aead(w.Salt, w.Iterations)
	if err != nil {
		return nil, err
	}
	if len(w.Nonce) != gcm.NonceSize() {
		return nil, ErrDecryptionFailed
	}
	ad, err := associatedData(w)
	if err != nil {
		return nil, err
	}
	share, err := gcm.Open(nil, w.Nonce, w.Ciphertext, ad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return &Record{Meta: w.Meta, Share: share}, nil
}

func (m *Manager) aead(salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key(m.password, salt, iterations, keyLength, sha256.New)
	defer mpcstep.ZeroizeBytes(key)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func decodeFile(data []byte) (*fileWire, error) {
	var w fileWire
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFile, err)
	}
	if w.Version != fileVersion {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedFile, w.Version)
	}
	if w.Iterations < minIterations || len(w.Salt) != saltLength {
		return nil, fmt.Errorf("%w: bad key derivation parameters", ErrUnsupportedFile)
	}
	return &w, nil
}

// associatedData binds the clear header to the ciphertext.
func associatedData(w *fileWire) ([]byte, error) {
	return msgpack.Marshal(&struct {
		Version    uint8
		Meta       Meta
		Iterations int
		Salt       []byte
	}{w.Version, w.Meta, w.Iterations, w.Salt})
}
