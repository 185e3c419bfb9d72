package tlsnet

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// CertOptions tunes GenerateCertificates.
type CertOptions struct {
	KeyBits      int // RSA modulus size, default 3072
	ValidityDays int // default 365
}

// Bundle is a demo CA and one certificate per party, PEM encoded.
type Bundle struct {
	CACert []byte
	CAKey  []byte
	Certs  map[string][]byte
	Keys   map[string][]byte
}

// GenerateCertificates issues a demo CA and a certificate for each name. The
// certificates support both server and client authentication and carry
// localhost SAN entries for local runs.
func GenerateCertificates(names []string, opts CertOptions) (*Bundle, error) {
	if len(names) < 2 {
		return nil, fmt.Errorf("tlsnet: provide at least two party names (got %v)", names)
	}
	if opts.KeyBits == 0 {
		opts.KeyBits = 3072
	}
	if opts.KeyBits < 2048 {
		return nil, fmt.Errorf("tlsnet: key size %d below 2048 bits", opts.KeyBits)
	}
	if opts.ValidityDays <= 0 {
		opts.ValidityDays = 365
	}
	notAfter := time.Now().Add(time.Duration(opts.ValidityDays) * 24 * time.Hour)

	caKey, err := rsa.GenerateKey(rand.Reader, opts.KeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate CA key: %w", err)
	}
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "mpcstep-demo-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("create CA certificate: %w", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		return nil, fmt.Errorf("parse CA certificate: %w", err)
	}

	b := &Bundle{
		CACert: encodeCert(caDER),
		CAKey:  encodeKey(caKey),
		Certs:  make(map[string][]byte, len(names)),
		Keys:   make(map[string][]byte, len(names)),
	}
	for i, name := range names {
		if _, dup := b.Certs[name]; dup || name == "" {
			return nil, fmt.Errorf("tlsnet: invalid or duplicate party name %q", name)
		}
		key, err := rsa.GenerateKey(rand.Reader, opts.KeyBits)
		if err != nil {
			return nil, fmt.Errorf("generate key for %s: %w", name, err)
		}
		tmpl := &x509.Certificate{
			SerialNumber: big.NewInt(int64(i + 2)),
			Subject:      pkix.Name{CommonName: name},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     notAfter,
			KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
			ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
			DNSNames:     []string{name, "localhost"},
			IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		}
		der, err := x509.CreateCertificate(rand.Reader, tmpl, caCert, &key.PublicKey, caKey)
		if err != nil {
			return nil, fmt.Errorf("create cert for %s: %w", name, err)
		}
		b.Certs[name] = encodeCert(der)
		b.Keys[name] = encodeKey(key)
	}
	return b, nil
}

// KeyPair returns the TLS certificate of name.
func (b *Bundle) KeyPair(name string) (tls.Certificate, error) {
	cert, ok := b.Certs[name]
	if !ok {
		return tls.Certificate{}, fmt.Errorf("tlsnet: no certificate for %q", name)
	}
	return tls.X509KeyPair(cert, b.Keys[name])
}

// CertPool returns a pool holding the bundle's CA.
func (b *Bundle) CertPool() (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(b.CACert) {
		return nil, fmt.Errorf("tlsnet: failed to parse CA certificate")
	}
	return pool, nil
}

// WriteFiles writes rootCA.pem, rootCA-key.pem and <name>-cert.pem /
// <name>-key.pem for every party into dir.
func (b *Bundle) WriteFiles(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	files := map[string][]byte{
		"rootCA.pem":     b.CACert,
		"rootCA-key.pem": b.CAKey,
	}
	for name, cert := range b.Certs {
		files[name+"-cert.pem"] = cert
		files[name+"-key.pem"] = b.Keys[name]
	}
	for file, data := range files {
		path := filepath.Join(dir, file)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// LoadKeyPair loads a PEM certificate and key from disk.
func LoadKeyPair(certPath, keyPath string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load key pair: %w", err)
	}
	return cert, nil
}

// LoadCertPool loads a PEM CA certificate pool from disk.
func LoadCertPool(path string) (*x509.CertPool, error) {
	pemData, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("tlsnet: failed to parse CA certificate")
	}
	return pool, nil
}

func encodeCert(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func encodeKey(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}
