// Package backupkey creates the RSA key pairs that key backups are encrypted
// to. The public half is PKIX DER, the private half PKCS#8 DER, which is what
// both engines accept.
//
// Real deployments keep the private half offline, often in an HSM; this
// package serves the CLI's backup-keygen command and tests.
package backupkey

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MinBits is the smallest modulus Generate accepts.
const MinBits = 2048

// Pair is a DER encoded RSA backup key pair.
type Pair struct {
	Public  []byte // PKIX
	Private []byte // PKCS#8
}

// Generate creates a fresh pair with a modulus of bits bits.
func Generate(bits int) (*Pair, error) {
	return GenerateFrom(rand.Reader, bits)
}

// GenerateFrom is Generate with an explicit entropy source.
func GenerateFrom(r io.Reader, bits int) (*Pair, error) {
	if bits < MinBits {
		return nil, fmt.Errorf("backupkey: %d-bit modulus is below %d", bits, MinBits)
	}
	priv, err := rsa.GenerateKey(r, bits)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	pub, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &Pair{Public: pub, Private: der}, nil
}

// PEM blocks used by EncodePEM and DecodePEM.
const (
	publicBlock  = "PUBLIC KEY"
	privateBlock = "PRIVATE KEY"
)

// EncodePublicPEM wraps a PKIX public key in PEM.
func EncodePublicPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: publicBlock, Bytes: der})
}

// EncodePrivatePEM wraps a PKCS#8 private key in PEM.
func EncodePrivatePEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: privateBlock, Bytes: der})
}

// DecodePEM returns the DER payload of the first PEM block. Input that is not
// PEM is returned unchanged so raw DER files work too.
func DecodePEM(data []byte) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		if len(data) == 0 {
			return nil, errors.New("backupkey: empty key")
		}
		return data, nil
	}
	switch block.Type {
	case publicBlock, privateBlock:
		return block.Bytes, nil
	default:
		return nil, fmt.Errorf("backupkey: unexpected PEM block %q", block.Type)
	}
}

var (
	testOnce sync.Once
	testPair *Pair
	testErr  error
)

// ForTest returns a process-wide pair so test suites pay for RSA key
// generation once.
func ForTest() (*Pair, error) {
	testOnce.Do(func() {
		testPair, testErr = Generate(MinBits)
	})
	return testPair, testErr
}
