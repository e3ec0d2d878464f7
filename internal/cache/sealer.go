package cache

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

var errUnsealed = errors.New("cache: value cannot be opened with this key")

// seal encrypts plaintext with XChaCha20-Poly1305 under a key derived from
// the account cache key. An empty key stores plaintext.
func seal(encryptionKey string, plaintext []byte) ([]byte, error) {
	if encryptionKey == "" {
		return plaintext, nil
	}
	aead, err := newAEAD(encryptionKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func open(encryptionKey string, sealed []byte) ([]byte, error) {
	if encryptionKey == "" {
		return sealed, nil
	}
	aead, err := newAEAD(encryptionKey)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errUnsealed
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errUnsealed
	}
	return plaintext, nil
}

func newAEAD(encryptionKey string) (cipher.AEAD, error) {
	key := blake2b.Sum256([]byte(encryptionKey))
	a, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	return a, nil
}
