package retrocrypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAESCBCRoundTrip(t *testing.T) {
	key, err := Random(AESKeySize)
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	ct, iv, err := AESEncryptCBC(key, plaintext)
	require.NoError(t, err)

	got, err := AESDecryptCBC(key, ct, iv)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestAESCBCEmptyPlaintext(t *testing.T) {
	key, err := Random(AESKeySize)
	require.NoError(t, err)

	ct, iv, err := AESEncryptCBC(key, nil)
	require.NoError(t, err)
	require.Len(t, ct, 32) // one full 32-byte block of padding

	got, err := AESDecryptCBC(key, ct, iv)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestAESCBCTamperedCiphertextFailsPadding(t *testing.T) {
	key, err := Random(AESKeySize)
	require.NoError(t, err)

	ct, iv, err := AESEncryptCBC(key, []byte("hello world, this spans a block"))
	require.NoError(t, err)

	ct[len(ct)-1] ^= 0xff
	_, err = AESDecryptCBC(key, ct, iv)
	require.Error(t, err)
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	salt := []byte("some-salt")
	k1 := DeriveKey("correct horse battery staple", salt, 16, 1000)
	k2 := DeriveKey("correct horse battery staple", salt, 16, 1000)
	require.Equal(t, k1, k2)
	require.Len(t, k1, 16)
}

func TestDeriveKeyDiffersByPassphraseSaltOrIterations(t *testing.T) {
	base := DeriveKey("passphrase-a", []byte("salt"), 16, 100)
	diffPass := DeriveKey("passphrase-b", []byte("salt"), 16, 100)
	diffSalt := DeriveKey("passphrase-a", []byte("salt2"), 16, 100)
	diffIter := DeriveKey("passphrase-a", []byte("salt"), 16, 101)

	require.NotEqual(t, base, diffPass)
	require.NotEqual(t, base, diffSalt)
	require.NotEqual(t, base, diffIter)
}

func TestHMACSHA256Deterministic(t *testing.T) {
	key := []byte("key")
	data := []byte("data")
	require.Equal(t, HMACSHA256(key, data), HMACSHA256(key, data))
}

func TestAESEncryptFromFileRoundTrip(t *testing.T) {
	key, err := Random(AESKeySize)
	require.NoError(t, err)

	content := []byte("file contents go here, repeated a bit for compressibility. " +
		"file contents go here, repeated a bit for compressibility.")

	blob, err := AESEncryptFromFile(key, content)
	require.NoError(t, err)

	got, err := AESDecryptToFile(key, blob)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestAESDecryptToFileRejectsHmacTamper(t *testing.T) {
	key, err := Random(AESKeySize)
	require.NoError(t, err)

	blob, err := AESEncryptFromFile(key, []byte("data"))
	require.NoError(t, err)

	blob[len(blob)-1] ^= 0xff
	_, err = AESDecryptToFile(key, blob)
	require.ErrorIs(t, err, ErrHmacMismatch)
}

func TestRSAOAEPRoundTrip(t *testing.T) {
	priv, err := generateTestRSAKey(t)
	require.NoError(t, err)

	ct, err := RSAOAEPEncrypt(&priv.PublicKey, []byte("a short message"))
	require.NoError(t, err)

	pt, err := RSAOAEPDecrypt(priv, ct)
	require.NoError(t, err)
	require.Equal(t, []byte("a short message"), pt)
}

func TestEd25519SignVerify(t *testing.T) {
	pub, priv, err := generateTestEdKey(t)
	require.NoError(t, err)

	data := []byte("sign me")
	sig := Ed25519Sign(priv, data)
	require.True(t, Ed25519Verify(pub, sig, data))

	sig[0] ^= 0xff
	require.False(t, Ed25519Verify(pub, sig, data))
}
