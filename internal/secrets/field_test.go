package secrets

import (
	"bytes"
	"testing"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := testCipher(t)

	sealed, err := c.Encrypt("GIFT-CODE-1234")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if sealed.Ciphertext == "" || sealed.Nonce == "" {
		t.Fatal("expected non-empty nonce and ciphertext")
	}

	plain, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != "GIFT-CODE-1234" {
		t.Fatalf("Decrypt = %q, want GIFT-CODE-1234", plain)
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	c := testCipher(t)

	a, _ := c.Encrypt("same")
	b, _ := c.Encrypt("same")
	if a.Nonce == b.Nonce || a.Ciphertext == b.Ciphertext {
		t.Fatal("two seals of the same plaintext must differ")
	}
}

func TestDecryptRejectsTamper(t *testing.T) {
	c := testCipher(t)

	sealed, _ := c.Encrypt("secret")
	sealed.Ciphertext = sealed.Ciphertext[:len(sealed.Ciphertext)-4] + "AAA="
	if _, err := c.Decrypt(sealed); err == nil {
		t.Fatal("expected tampered ciphertext to fail")
	}
}

func TestNewCipherRejectsBadKey(t *testing.T) {
	if _, err := NewCipher([]byte("short")); err == nil {
		t.Fatal("expected error for bad key length")
	}
	if _, err := NewCipherFromBase64("not-base64!!"); err == nil {
		t.Fatal("expected error for bad base64 key")
	}
}
