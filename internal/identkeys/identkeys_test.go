package identkeys

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	priv, err := Generate()
	require.NoError(t, err)
	pub := priv.Public()

	ct, err := pub.Encrypt([]byte("secret"))
	require.NoError(t, err)

	pt, err := priv.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), pt)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := Generate()
	require.NoError(t, err)
	pub := priv.Public()

	sig := priv.Sign([]byte("data"))
	require.True(t, pub.Verify(sig, []byte("data")))
	require.False(t, pub.Verify(sig, []byte("other data")))
}

func TestPublicPEMRoundTrip(t *testing.T) {
	priv, err := Generate()
	require.NoError(t, err)
	pub := priv.Public()

	encoded := pub.EncodePublicPEM()
	got, err := ParsePublicPEM(encoded)
	require.NoError(t, err)

	require.Equal(t, pub.RSA, got.RSA)
	require.True(t, pub.Ed.Equal(got.Ed))
}

func TestPrivatePEMRoundTrip(t *testing.T) {
	priv, err := Generate()
	require.NoError(t, err)

	encoded, err := priv.EncodePrivatePEM()
	require.NoError(t, err)

	got, err := ParsePrivatePEM(encoded)
	require.NoError(t, err)

	require.Equal(t, priv.RSA, got.RSA)
	require.True(t, priv.Ed.Equal(got.Ed))
}

func TestFingerprintIsStableAndDistinct(t *testing.T) {
	priv1, err := Generate()
	require.NoError(t, err)
	priv2, err := Generate()
	require.NoError(t, err)

	fp1a, err := priv1.Public().Fingerprint()
	require.NoError(t, err)
	fp1b, err := priv1.Public().Fingerprint()
	require.NoError(t, err)
	fp2, err := priv2.Public().Fingerprint()
	require.NoError(t, err)

	require.Len(t, fp1a, 16)
	require.Equal(t, fp1a, fp1b)
	require.NotEqual(t, fp1a, fp2)
}
