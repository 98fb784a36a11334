// Package crypto provides the encryption-key-scoped encode/decode applied to
// fragment metadata sections. The fragment core treats it as opaque: it
// passes a Key to loads and stores and never inspects ciphertext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// Kind selects the encryption algorithm.
type Kind uint8

const (
	NoEncryption Kind = iota
	AES256GCM
)

// ErrKeyMismatch is returned when decryption fails authentication; the
// common cause is a wrong key.
var ErrKeyMismatch = errors.New("crypto: decryption failed (wrong key?)")

// Key scopes encryption for one array. The zero Key means no encryption.
type Key struct {
	Kind  Kind
	Bytes []byte
}

// NoKey is the zero encryption key.
var NoKey = Key{}

// Validate checks the key length against the kind.
func (k Key) Validate() error {
	switch k.Kind {
	case NoEncryption:
		if len(k.Bytes) != 0 {
			return errors.New("crypto: key bytes supplied with no encryption")
		}
	case AES256GCM:
		if len(k.Bytes) != 32 {
			return fmt.Errorf("crypto: AES-256-GCM needs a 32-byte key, got %d", len(k.Bytes))
		}
	default:
		return fmt.Errorf("crypto: unknown encryption kind %d", k.Kind)
	}
	return nil
}

// Encrypt seals plaintext under the key. For NoEncryption it returns the
// input unchanged. For AES-256-GCM the nonce is prepended to the ciphertext.
func Encrypt(key Key, plaintext []byte) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if key.Kind == NoEncryption {
		return plaintext, nil
	}
	gcm, err := gcmFor(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens data sealed by Encrypt.
func Decrypt(key Key, data []byte) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if key.Kind == NoEncryption {
		return data, nil
	}
	gcm, err := gcmFor(key)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, ErrKeyMismatch
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyMismatch, err)
	}
	return plaintext, nil
}

func gcmFor(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key.Bytes)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
