// Package retrocrypto implements the primitive crypto operations used to
// build and verify end-to-end encrypted envelopes and to protect account
// material at rest: hashing, HMAC, AES-256-CBC with PKCS7 padding,
// RSA-OAEP, Ed25519, compressed+encrypted file blobs and the bespoke
// iterated-SHA-512 KDF.
//
// This package intentionally mirrors the primitives of
// the reference hybrid-envelope scheme bit-for-bit so that accounts
// created by either implementation derive the same keys from the same
// passphrase and salt.
package retrocrypto

import (
	"bytes"
	"compress/zlib"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"fmt"
	"hash"
	"io"

	"crypto/ed25519"
)

// Fixed sizes dictated by the wire protocol's envelope and header
// layout.
const (
	AESKeySize = 32
	IVSize     = 16
	HMACSize   = 32
	RSAKeySize = 2048
	RSABlock   = RSAKeySize / 8 // 256
)

// pkcs7BlockSize is the PKCS7 padding block size in bytes: 256 bits,
// a multiple of the 16-byte AES block.
const pkcs7BlockSize = 32

var (
	ErrInvalidPadding = errors.New("retrocrypto: invalid PKCS7 padding")
	ErrHmacMismatch   = errors.New("retrocrypto: hmac mismatch")
	ErrInvalidPEM     = errors.New("retrocrypto: invalid PEM")
)

// Random returns n cryptographically random bytes.
func Random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("retrocrypto: random: %w", err)
	}
	return b, nil
}

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// SHA512 returns the SHA-512 digest of data.
func SHA512(data []byte) []byte {
	h := sha512.Sum512(data)
	return h[:]
}

// HMACSHA256 computes HMAC-SHA256(key, data).
func HMACSHA256(key, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(data)
	return m.Sum(nil)
}

// ConstantTimeEqual reports whether a and b are equal without leaking
// timing information about the point of first difference.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// pkcs7Pad pads data to a multiple of blockSize using PKCS7.
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

// pkcs7Unpad removes PKCS7 padding, validating its shape.
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, ErrInvalidPadding
	}
	pad := data[len(data)-padLen:]
	for _, b := range pad {
		if int(b) != padLen {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-padLen], nil
}

// AESEncryptCBC encrypts data with AES-256-CBC using a fresh random IV
// and PKCS7 padding. The reference implementation calls its padding
// "PKCS7(256)" meaning 256 *bits*, i.e. 32-byte padding blocks
// (pkcs7BlockSize), twice the 16-byte AES block.
func AESEncryptCBC(key32, data []byte) (ct, iv []byte, err error) {
	if len(key32) != AESKeySize {
		return nil, nil, fmt.Errorf("retrocrypto: key must be %d bytes", AESKeySize)
	}
	block, err := aes.NewCipher(key32)
	if err != nil {
		return nil, nil, err
	}
	iv, err = Random(IVSize)
	if err != nil {
		return nil, nil, err
	}
	padded := pkcs7Pad(data, pkcs7BlockSize)
	ct = make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ct, padded)
	return ct, iv, nil
}

// AESDecryptCBC decrypts data encrypted by AESEncryptCBC.
func AESDecryptCBC(key32, ct, iv []byte) ([]byte, error) {
	if len(key32) != AESKeySize {
		return nil, fmt.Errorf("retrocrypto: key must be %d bytes", AESKeySize)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, ErrInvalidPadding
	}
	block, err := aes.NewCipher(key32)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("retrocrypto: bad iv size")
	}
	out := make([]byte, len(ct))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(out, ct)
	return pkcs7Unpad(out, pkcs7BlockSize)
}

// RSAOAEPEncrypt encrypts data with RSA-OAEP-SHA256 (MGF1, no label).
func RSAOAEPEncrypt(pub *rsa.PublicKey, data []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha256New(), rand.Reader, pub, data, nil)
}

// RSAOAEPDecrypt decrypts ciphertext produced by RSAOAEPEncrypt.
func RSAOAEPDecrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	return rsa.DecryptOAEP(sha256New(), rand.Reader, priv, ciphertext, nil)
}

func sha256New() hash.Hash {
	return sha256.New()
}

// Ed25519Sign signs data with an Ed25519 private key, returning a
// 64-byte signature.
func Ed25519Sign(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// Ed25519Verify verifies a 64-byte Ed25519 signature.
func Ed25519Verify(pub ed25519.PublicKey, sig, data []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// DeriveKey is a bespoke KDF: iterated SHA-512 over passphrase‖salt,
// truncated to outLen bytes. This is NOT PBKDF2; it must reproduce
// the reference derive_key bit-for-bit so that existing accounts
// continue to open.
//
// The reference implementation repeatedly hashes the running state
// (starting from passphrase‖salt) with SHA-512 for `iterations` rounds.
func DeriveKey(passphrase string, salt []byte, outLen, iterations int) []byte {
	state := append([]byte(passphrase), salt...)
	for i := 0; i < iterations; i++ {
		state = SHA512(state)
	}
	if outLen > len(state) {
		outLen = len(state)
	}
	return state[:outLen]
}

// AESEncryptFromFile zlib-compresses the file contents in plaintext,
// encrypts them with AES-256-CBC under key and returns
// iv‖hmac‖ciphertext. It reads no file itself.
func AESEncryptFromFile(key32 []byte, plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(plaintext); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	ct, iv, err := AESEncryptCBC(key32, buf.Bytes())
	if err != nil {
		return nil, err
	}
	mac := HMACSHA256(key32, ct)

	out := make([]byte, 0, len(iv)+len(mac)+len(ct))
	out = append(out, iv...)
	out = append(out, mac...)
	out = append(out, ct...)
	return out, nil
}

// AESDecryptToFile is the inverse of AESEncryptFromFile: it verifies
// the embedded HMAC before decompressing, and returns the recovered
// plaintext.
func AESDecryptToFile(key32, blob []byte) ([]byte, error) {
	if len(blob) < IVSize+HMACSize {
		return nil, fmt.Errorf("retrocrypto: file blob too short")
	}
	iv := blob[:IVSize]
	mac := blob[IVSize : IVSize+HMACSize]
	ct := blob[IVSize+HMACSize:]

	mac2 := HMACSHA256(key32, ct)
	if !ConstantTimeEqual(mac, mac2) {
		return nil, ErrHmacMismatch
	}

	compressed, err := AESDecryptCBC(key32, ct, iv)
	if err != nil {
		return nil, err
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("retrocrypto: decompress: %w", err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
