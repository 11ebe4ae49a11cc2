// Package e2ee implements the client side of the end-to-end encryption
// scheme: ECDH P-256 key agreement, HKDF-SHA256 key derivation, and
// AES-256-GCM message encryption. The relay never sees any of this; it
// carries the resulting base64 blobs verbatim.
package e2ee

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/HaseebHub0/Decentralised-End-to-End-Encrypted-Collaboration-Platform/common"
)

const (
	keySize   = 32
	nonceSize = 12
)

var hkdfInfo = []byte("e2ee chat session v1")

// KeyPair is one party's ephemeral ECDH identity for a chat session.
type KeyPair struct {
	priv *ecdh.PrivateKey
}

// GenerateKeyPair creates a fresh P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// PublicKey returns the base64 raw-point encoding sent in keyexchange frames.
func (kp *KeyPair) PublicKey() string {
	return base64.StdEncoding.EncodeToString(kp.priv.PublicKey().Bytes())
}

// DeriveSharedKey combines our private key with the peer's base64 public key
// into the symmetric session key. Both sides derive the same key.
func (kp *KeyPair) DeriveSharedKey(peerPublicKey string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode peer key: %w", err)
	}
	pub, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse peer key: %w", err)
	}
	secret, err := kp.priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext under the session key with a random 12-byte nonce.
func Encrypt(key, plaintext []byte) (common.EncryptedContent, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return common.EncryptedContent{}, err
	}
	iv := make([]byte, nonceSize)
	if _, err := rand.Read(iv); err != nil {
		return common.EncryptedContent{}, err
	}
	ct := aead.Seal(nil, iv, plaintext, nil)
	return common.EncryptedContent{
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
	}, nil
}

// Decrypt opens a received payload with the session key.
func Decrypt(key []byte, content common.EncryptedContent) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	iv, err := base64.StdEncoding.DecodeString(content.IV)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	if len(iv) != nonceSize {
		return nil, errors.New("bad iv length")
	}
	ct, err := base64.StdEncoding.DecodeString(content.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	pt, err := aead.Open(nil, iv, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return pt, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, errors.New("bad session key length")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
