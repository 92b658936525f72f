// Package secrets holds the encrypt/decrypt boundary for sensitive order
// fields (voucher codes, delivered proof). The rest of the core only ever
// handles EncryptedField values; plaintext exists only at this boundary.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// EncryptedField is an opaque AES-GCM sealed value as persisted on orders.
type EncryptedField struct {
	Nonce      string `dynamodbav:"nonce" json:"nonce"`
	Ciphertext string `dynamodbav:"ciphertext" json:"ciphertext"`
}

// Cipher seals and opens EncryptedFields with a fixed key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 16, 24 or 32 byte AES key.
func NewCipher(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// NewCipherFromBase64 builds a Cipher from a base64-encoded key, the form the
// key arrives in from configuration.
func NewCipherFromBase64(encoded string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return NewCipher(key)
}

// Encrypt seals plaintext under a fresh nonce.
func (c *Cipher) Encrypt(plaintext string) (EncryptedField, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return EncryptedField{}, fmt.Errorf("nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return EncryptedField{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	}, nil
}

// Decrypt opens a sealed field.
func (c *Cipher) Decrypt(f EncryptedField) (string, error) {
	nonce, err := base64.StdEncoding.DecodeString(f.Nonce)
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(f.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(nonce) != c.aead.NonceSize() {
		return "", errors.New("bad nonce size")
	}
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	return string(plain), nil
}
