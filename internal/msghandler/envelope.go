// Package msghandler implements the E2EE envelope algorithm: hybrid
// RSA-OAEP + AES-256-CBC + HMAC-SHA256 encryption with an Ed25519
// signature over the ciphertext body. Grounded on the reference
// hybrid-envelope scheme (make_msg/decrypt_msg) and its envelope
// framing.
package msghandler

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lukwies/libretro/internal/identkeys"
	"github.com/lukwies/libretro/internal/retrocrypto"
	"github.com/lukwies/libretro/internal/retroerr"
)

// Fixed envelope field sizes.
const (
	IDSize        = 8
	HeaderSize    = 256
	SignatureSize = 64
	TimeASCIISize = 14

	// headerPlainSize = kM(32) + iv(16) + hmac(32) + time(14)
	headerPlainSize = retrocrypto.AESKeySize + retrocrypto.IVSize + retrocrypto.HMACSize + TimeASCIISize
)

// Envelope is a fully framed wire message: from_id ‖ to_id ‖ header ‖
// signature ‖ body.
type Envelope struct {
	FromID    uint64
	ToID      uint64
	Header    []byte // 256 bytes, RSA-OAEP ciphertext
	Signature []byte // 64 bytes, Ed25519 signature over Body
	Body      []byte // AES-CBC ciphertext
}

// Encode serializes the envelope to its wire form.
func (e *Envelope) Encode() []byte {
	out := make([]byte, 0, IDSize*2+HeaderSize+SignatureSize+len(e.Body))
	out = appendU64(out, e.FromID)
	out = appendU64(out, e.ToID)
	out = append(out, e.Header...)
	out = append(out, e.Signature...)
	out = append(out, e.Body...)
	return out
}

// DecodeEnvelope parses the fixed-size envelope fields out of raw
// wire bytes.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	minLen := IDSize*2 + HeaderSize + SignatureSize
	if len(raw) < minLen {
		return nil, fmt.Errorf("msghandler: envelope too short: %w", retroerr.ErrTruncated)
	}
	e := &Envelope{
		FromID:    binary.BigEndian.Uint64(raw[0:8]),
		ToID:      binary.BigEndian.Uint64(raw[8:16]),
		Header:    raw[16 : 16+HeaderSize],
		Signature: raw[16+HeaderSize : 16+HeaderSize+SignatureSize],
		Body:      raw[16+HeaderSize+SignatureSize:],
	}
	return e, nil
}

func appendU64(b []byte, v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return append(b, buf...)
}

// MakeMsg builds an E2EE envelope carrying plaintext from fromID to
// toID, encrypted under the recipient's public key and signed with
// the sender's private key.
func MakeMsg(fromID, toID uint64, senderPriv *identkeys.PrivateKey, recipientPub identkeys.PublicKey, plaintext []byte) (*Envelope, error) {
	kM, err := retrocrypto.Random(retrocrypto.AESKeySize)
	if err != nil {
		return nil, err
	}
	kE, kS := splitHeaderKey(kM)
	body, iv, err := retrocrypto.AESEncryptCBC(kE, plaintext)
	if err != nil {
		return nil, err
	}
	mac := retrocrypto.HMACSHA256(kS, append(append([]byte{}, iv...), body...))

	headerPlain := make([]byte, 0, headerPlainSize)
	headerPlain = append(headerPlain, kM...)
	headerPlain = append(headerPlain, iv...)
	headerPlain = append(headerPlain, mac...)
	headerPlain = append(headerPlain, timeASCII()...)

	header, err := recipientPub.Encrypt(headerPlain)
	if err != nil {
		return nil, fmt.Errorf("msghandler: encrypt header: %w", err)
	}
	if len(header) != HeaderSize {
		return nil, fmt.Errorf("msghandler: unexpected header size %d", len(header))
	}

	sig := senderPriv.Sign(body)

	return &Envelope{
		FromID:    fromID,
		ToID:      toID,
		Header:    header,
		Signature: sig,
		Body:      body,
	}, nil
}

// DecryptMsg opens an envelope addressed to us: it decrypts the
// header with our RSA private key, verifies the embedded HMAC,
// verifies the Ed25519 signature against the sender's known public
// key, then decrypts the body. senderPub must come from a trusted
// source (the friend store); an unknown sender should be rejected by
// the caller before calling DecryptMsg.
func DecryptMsg(env *Envelope, ourPriv *identkeys.PrivateKey, senderPub identkeys.PublicKey) ([]byte, error) {
	headerPlain, err := ourPriv.Decrypt(env.Header)
	if err != nil {
		return nil, fmt.Errorf("msghandler: decrypt header: %w", err)
	}
	if len(headerPlain) != headerPlainSize {
		return nil, fmt.Errorf("msghandler: malformed header plaintext: %w", retroerr.ErrAccountCorrupt)
	}

	kM := headerPlain[0:retrocrypto.AESKeySize]
	iv := headerPlain[retrocrypto.AESKeySize : retrocrypto.AESKeySize+retrocrypto.IVSize]
	mac := headerPlain[retrocrypto.AESKeySize+retrocrypto.IVSize : retrocrypto.AESKeySize+retrocrypto.IVSize+retrocrypto.HMACSize]
	kE, kS := splitHeaderKey(kM)

	expectedMac := retrocrypto.HMACSHA256(kS, append(append([]byte{}, iv...), env.Body...))
	if !retrocrypto.ConstantTimeEqual(mac, expectedMac) {
		return nil, retroerr.ErrHmacMismatch
	}

	if !senderPub.Verify(env.Signature, env.Body) {
		return nil, retroerr.ErrBadSignature
	}

	plaintext, err := retrocrypto.AESDecryptCBC(kE, env.Body, iv)
	if err != nil {
		return nil, fmt.Errorf("msghandler: decrypt body: %w", err)
	}
	return plaintext, nil
}

// splitHeaderKey derives the actual AES key (kE) and HMAC key (kS)
// from the header's carried key material kM: kH = SHA-512(kM),
// kE = kH[0:32], kS = kH[32:64]. kS is never transmitted; both sides
// re-derive it from kM, which is the only key material in the header.
func splitHeaderKey(kM []byte) (kE, kS []byte) {
	kH := retrocrypto.SHA512(kM)
	return kH[0:32], kH[32:64]
}

func timeASCII() []byte {
	s := fmt.Sprintf("%014d", time.Now().Unix())
	if len(s) > TimeASCIISize {
		s = s[len(s)-TimeASCIISize:]
	}
	return []byte(s)
}

// FileMsgPayload is the JSON body of a T_FILEMSG chat message: a
// pointer to a file already pushed over the file-transfer port, sent
// as an ordinary encrypted chat message.
type FileMsgPayload struct {
	FileID   string `json:"fileid"`
	Filename string `json:"filename"`
	Key      string `json:"key"` // base64 AES key used on the file port
	Size     int64  `json:"size"`
}

// MakeFileMsg builds a T_FILEMSG envelope whose plaintext body is the
// JSON encoding of a FileMsgPayload.
func MakeFileMsg(fromID, toID uint64, senderPriv *identkeys.PrivateKey, recipientPub identkeys.PublicKey, meta FileMsgPayload) (*Envelope, error) {
	plaintext, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("msghandler: marshal file message: %w", err)
	}
	return MakeMsg(fromID, toID, senderPriv, recipientPub, plaintext)
}

// DecodeFileMsg parses a decrypted T_FILEMSG plaintext body.
func DecodeFileMsg(plaintext []byte) (FileMsgPayload, error) {
	var meta FileMsgPayload
	if err := json.Unmarshal(plaintext, &meta); err != nil {
		return FileMsgPayload{}, fmt.Errorf("msghandler: unmarshal file message: %w", err)
	}
	return meta, nil
}
