package backupkey

import (
	"crypto/rsa"
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateProducesMatchingDER(t *testing.T) {
	pair, err := ForTest()
	require.NoError(t, err)

	pub, err := x509.ParsePKIXPublicKey(pair.Public)
	require.NoError(t, err)
	priv, err := x509.ParsePKCS8PrivateKey(pair.Private)
	require.NoError(t, err)

	rsaPriv, ok := priv.(*rsa.PrivateKey)
	require.True(t, ok)
	assert.True(t, rsaPriv.PublicKey.Equal(pub))
	assert.Equal(t, MinBits, rsaPriv.N.BitLen())
}

func TestGenerateRejectsSmallModulus(t *testing.T) {
	_, err := Generate(1024)
	require.Error(t, err)
}

func TestPEMRoundTrip(t *testing.T) {
	pair, err := ForTest()
	require.NoError(t, err)

	der, err := DecodePEM(EncodePublicPEM(pair.Public))
	require.NoError(t, err)
	assert.Equal(t, pair.Public, der)

	der, err = DecodePEM(EncodePrivatePEM(pair.Private))
	require.NoError(t, err)
	assert.Equal(t, pair.Private, der)

	der, err = DecodePEM(pair.Public)
	require.NoError(t, err)
	assert.Equal(t, pair.Public, der)

	_, err = DecodePEM(nil)
	require.Error(t, err)
}
