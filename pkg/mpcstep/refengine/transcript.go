package refengine

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"
)

// transcriptHash is SHA-256 over length-prefixed parts under a domain tag.
func transcriptHash(tag string, parts ...[]byte) []byte {
	h := sha256.New()
	writePart(h, []byte(tag))
	for _, p := range parts {
		writePart(h, p)
	}
	return h.Sum(nil)
}

// transcriptWide is the 64-byte variant used where a uniform scalar is needed.
func transcriptWide(tag string, parts ...[]byte) []byte {
	h := sha512.New()
	writePart(h, []byte(tag))
	for _, p := range parts {
		writePart(h, p)
	}
	return h.Sum(nil)
}

func writePart(w io.Writer, p []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(p)))
	w.Write(n[:])
	w.Write(p)
}

func commitment(tag string, nonce []byte, parts ...[]byte) []byte {
	return transcriptHash(tag, append([][]byte{nonce}, parts...)...)
}

func openCommitment(tag string, c, nonce []byte, parts ...[]byte) bool {
	return hmac.Equal(c, commitment(tag, nonce, parts...))
}

// expand stretches key material to n bytes.
func expand(secret []byte, label string, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(label)), out); err != nil {
		return nil, err
	}
	return out, nil
}

func hmacSHA512(key []byte, parts ...[]byte) []byte {
	m := hmac.New(sha512.New, key)
	for _, p := range parts {
		m.Write(p)
	}
	return m.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
