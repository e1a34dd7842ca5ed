// Package identkeys implements a retro user's wire identity: an
// RSA-2048 key pair (used for OAEP envelope headers) paired with an
// Ed25519 key pair (used for envelope signatures), serialized as a
// concatenated two-block PEM exactly as the reference
// RetroPrivateKey/RetroPublicKey types do. File-permission checking
// follows a CheckKeyFilePermissions convention.
package identkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"runtime"

	"github.com/lukwies/libretro/internal/retrocrypto"
	"github.com/lukwies/libretro/internal/retroerr"
)

const (
	pemBlockRSA = "RSA PRIVATE KEY"
	pemBlockEd  = "ED25519 PRIVATE KEY"

	pemBlockRSAPub = "RSA PUBLIC KEY"
	pemBlockEdPub  = "ED25519 PUBLIC KEY"
)

// PrivateKey is the identity's private material: an RSA key used to
// open hybrid envelope headers and an Ed25519 key used to sign
// outgoing envelope bodies.
type PrivateKey struct {
	RSA *rsa.PrivateKey
	Ed  ed25519.PrivateKey
}

// PublicKey is the identity's public material, as distributed to
// peers via T_PUBKEY.
type PublicKey struct {
	RSA *rsa.PublicKey
	Ed  ed25519.PublicKey
}

// Public derives the public half of a PrivateKey.
func (p *PrivateKey) Public() PublicKey {
	return PublicKey{RSA: &p.RSA.PublicKey, Ed: p.Ed.Public().(ed25519.PublicKey)}
}

// Generate creates a fresh RSA-2048 + Ed25519 identity key pair.
func Generate() (*PrivateKey, error) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, retrocrypto.RSAKeySize)
	if err != nil {
		return nil, fmt.Errorf("identkeys: generate rsa: %w", err)
	}
	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identkeys: generate ed25519: %w", err)
	}
	_ = edPub
	return &PrivateKey{RSA: rsaKey, Ed: edPriv}, nil
}

// Sign signs data with the identity's Ed25519 key.
func (p *PrivateKey) Sign(data []byte) []byte {
	return retrocrypto.Ed25519Sign(p.Ed, data)
}

// Decrypt decrypts an RSA-OAEP-SHA256 ciphertext with the identity's
// RSA key.
func (p *PrivateKey) Decrypt(ciphertext []byte) ([]byte, error) {
	return retrocrypto.RSAOAEPDecrypt(p.RSA, ciphertext)
}

// Encrypt encrypts data for pub using RSA-OAEP-SHA256.
func (pub PublicKey) Encrypt(data []byte) ([]byte, error) {
	return retrocrypto.RSAOAEPEncrypt(pub.RSA, data)
}

// Verify checks a 64-byte Ed25519 signature against pub.
func (pub PublicKey) Verify(sig, data []byte) bool {
	return retrocrypto.Ed25519Verify(pub.Ed, sig, data)
}

// fingerprintTagSize is the number of bytes sampled from the SHA-512
// digest at 8-byte strides; hex-encoded this yields the 16-char tag.
const fingerprintTagSize = 8

// Fingerprint returns a stable 16-character hex tag identifying pub,
// derived as SHA-512(DER(rsa_pub) ‖ DER(ec_pub)), sampled at 8-byte
// strides. It is for human, out-of-band identity verification only —
// not a UserID, which is server-assigned.
func (pub PublicKey) Fingerprint() (string, error) {
	rsaDER, err := x509.MarshalPKIXPublicKey(pub.RSA)
	if err != nil {
		return "", fmt.Errorf("identkeys: marshal rsa public key: %w", err)
	}
	edDER, err := x509.MarshalPKIXPublicKey(pub.Ed)
	if err != nil {
		return "", fmt.Errorf("identkeys: marshal ed25519 public key: %w", err)
	}
	digest := retrocrypto.SHA512(append(append([]byte{}, rsaDER...), edDER...))

	tag := make([]byte, fingerprintTagSize)
	for i := range tag {
		tag[i] = digest[i*8]
	}
	return hex.EncodeToString(tag), nil
}

// encodePublicPEM serializes the public half as two concatenated PEM
// blocks, RSA first then Ed25519 — the "pem_concat" payload sent in
// T_PUBKEY.
func (pub PublicKey) encodePublicPEM() []byte {
	rsaDER, err := x509.MarshalPKIXPublicKey(pub.RSA)
	if err != nil {
		// Only possible with a key we generated ourselves; treat as
		// unreachable rather than threading another error return
		// through every caller of EncodePublicPEM.
		return nil
	}
	edDER, _ := x509.MarshalPKIXPublicKey(pub.Ed)

	var out []byte
	out = append(out, pem.EncodeToMemory(&pem.Block{Type: pemBlockRSAPub, Bytes: rsaDER})...)
	out = append(out, pem.EncodeToMemory(&pem.Block{Type: pemBlockEdPub, Bytes: edDER})...)
	return out
}

// EncodePublicPEM is the exported form of encodePublicPEM, used by
// the session layer to build the T_PUBKEY payload.
func (pub PublicKey) EncodePublicPEM() []byte {
	return pub.encodePublicPEM()
}

// ParsePublicPEM decodes the two concatenated PEM blocks produced by
// EncodePublicPEM.
func ParsePublicPEM(data []byte) (PublicKey, error) {
	var pub PublicKey
	rest := data
	for i := 0; i < 2; i++ {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return PublicKey{}, fmt.Errorf("identkeys: parse public pem: %w", retroerr.ErrInvalidPEM)
		}
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return PublicKey{}, fmt.Errorf("identkeys: parse public pem: %w", retroerr.ErrInvalidPEM)
		}
		switch k := key.(type) {
		case *rsa.PublicKey:
			pub.RSA = k
		case ed25519.PublicKey:
			pub.Ed = k
		default:
			return PublicKey{}, fmt.Errorf("identkeys: unexpected public key type %T: %w", key, retroerr.ErrInvalidPEM)
		}
	}
	if pub.RSA == nil || pub.Ed == nil {
		return PublicKey{}, fmt.Errorf("identkeys: missing key block: %w", retroerr.ErrInvalidPEM)
	}
	return pub, nil
}

// EncodePrivatePEM serializes the private half as two concatenated
// PEM blocks (PKCS8, unencrypted — at-rest protection is the caller's
// account-DB envelope, not this encoding).
func (p *PrivateKey) EncodePrivatePEM() ([]byte, error) {
	rsaDER, err := x509.MarshalPKCS8PrivateKey(p.RSA)
	if err != nil {
		return nil, fmt.Errorf("identkeys: marshal rsa private key: %w", err)
	}
	edDER, err := x509.MarshalPKCS8PrivateKey(p.Ed)
	if err != nil {
		return nil, fmt.Errorf("identkeys: marshal ed25519 private key: %w", err)
	}
	var out []byte
	out = append(out, pem.EncodeToMemory(&pem.Block{Type: pemBlockRSA, Bytes: rsaDER})...)
	out = append(out, pem.EncodeToMemory(&pem.Block{Type: pemBlockEd, Bytes: edDER})...)
	return out, nil
}

// ParsePrivatePEM decodes the two concatenated PEM blocks produced by
// EncodePrivatePEM.
func ParsePrivatePEM(data []byte) (*PrivateKey, error) {
	var p PrivateKey
	rest := data
	for i := 0; i < 2; i++ {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("identkeys: parse private pem: %w", retroerr.ErrInvalidPEM)
		}
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("identkeys: parse private pem: %w", retroerr.ErrInvalidPEM)
		}
		switch k := key.(type) {
		case *rsa.PrivateKey:
			p.RSA = k
		case ed25519.PrivateKey:
			p.Ed = k
		default:
			return nil, fmt.Errorf("identkeys: unexpected private key type %T: %w", key, retroerr.ErrInvalidPEM)
		}
	}
	if p.RSA == nil || p.Ed == nil {
		return nil, fmt.Errorf("identkeys: missing key block: %w", retroerr.ErrInvalidPEM)
	}
	return &p, nil
}

// LoadLegacyPrivatePEM reads a legacy two-block key.pem file from
// disk (the pre-account-DB on-disk layout) and checks its
// permissions before parsing it. Read-only: callers never write this
// layout back out. It takes no passphrase and parses only unencrypted
// PKCS#8 blocks; a password-encrypted key file fails with
// retroerr.ErrInvalidPEM.
func LoadLegacyPrivatePEM(path string) (*PrivateKey, error) {
	if err := CheckKeyFilePermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identkeys: read legacy key file: %w", err)
	}
	return ParsePrivatePEM(data)
}

// CheckKeyFilePermissions verifies that a key file is not readable by
// group or others.
func CheckKeyFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("identkeys: cannot stat key file %s: %w", path, err)
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("identkeys: key file %s has insecure permissions %04o (expected 0600)", path, mode)
	}
	return nil
}
