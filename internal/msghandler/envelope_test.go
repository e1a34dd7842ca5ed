package msghandler

import (
	"testing"

	"github.com/lukwies/libretro/internal/identkeys"
	"github.com/lukwies/libretro/internal/retroerr"
	"github.com/stretchr/testify/require"
)

func mustGenerate(t *testing.T) *identkeys.PrivateKey {
	t.Helper()
	priv, err := identkeys.Generate()
	require.NoError(t, err)
	return priv
}

func TestMakeMsgDecryptMsgRoundTrip(t *testing.T) {
	alice := mustGenerate(t)
	bob := mustGenerate(t)

	plaintext := []byte("hey bob, it's alice")
	env, err := MakeMsg(1, 2, alice, bob.Public(), plaintext)
	require.NoError(t, err)
	require.Len(t, env.Header, HeaderSize)
	require.Len(t, env.Signature, SignatureSize)

	got, err := DecryptMsg(env, bob, alice.Public())
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestEnvelopeEncodeDecodeRoundTrip(t *testing.T) {
	alice := mustGenerate(t)
	bob := mustGenerate(t)

	env, err := MakeMsg(1, 2, alice, bob.Public(), []byte("payload"))
	require.NoError(t, err)

	raw := env.Encode()
	got, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	require.Equal(t, env.FromID, got.FromID)
	require.Equal(t, env.ToID, got.ToID)
	require.Equal(t, env.Header, got.Header)
	require.Equal(t, env.Signature, got.Signature)
	require.Equal(t, env.Body, got.Body)
}

func TestDecryptMsgTamperedBodyFailsHmac(t *testing.T) {
	alice := mustGenerate(t)
	bob := mustGenerate(t)

	env, err := MakeMsg(1, 2, alice, bob.Public(), []byte("hello"))
	require.NoError(t, err)

	env.Body[0] ^= 0xff
	_, err = DecryptMsg(env, bob, alice.Public())
	require.ErrorIs(t, err, retroerr.ErrHmacMismatch)
}

func TestDecryptMsgTamperedHeaderFailsToOpen(t *testing.T) {
	alice := mustGenerate(t)
	bob := mustGenerate(t)

	env, err := MakeMsg(1, 2, alice, bob.Public(), []byte("hello"))
	require.NoError(t, err)

	env.Header[0] ^= 0xff
	_, err = DecryptMsg(env, bob, alice.Public())
	require.Error(t, err)
}

func TestDecryptMsgWrongRecipientCannotOpenHeader(t *testing.T) {
	alice := mustGenerate(t)
	bob := mustGenerate(t)
	eve := mustGenerate(t)

	env, err := MakeMsg(1, 2, alice, bob.Public(), []byte("hello"))
	require.NoError(t, err)

	_, err = DecryptMsg(env, eve, alice.Public())
	require.Error(t, err)
}

func TestDecryptMsgWrongSenderFailsSignature(t *testing.T) {
	alice := mustGenerate(t)
	bob := mustGenerate(t)
	mallory := mustGenerate(t)

	env, err := MakeMsg(1, 2, alice, bob.Public(), []byte("hello"))
	require.NoError(t, err)

	_, err = DecryptMsg(env, bob, mallory.Public())
	require.ErrorIs(t, err, retroerr.ErrBadSignature)
}

func TestFileMsgRoundTrip(t *testing.T) {
	alice := mustGenerate(t)
	bob := mustGenerate(t)

	meta := FileMsgPayload{FileID: "abc123", Filename: "photo.png", Key: "a2V5", Size: 4096}
	env, err := MakeFileMsg(1, 2, alice, bob.Public(), meta)
	require.NoError(t, err)

	plaintext, err := DecryptMsg(env, bob, alice.Public())
	require.NoError(t, err)

	got, err := DecodeFileMsg(plaintext)
	require.NoError(t, err)
	require.Equal(t, meta, got)
}
