// Package cryptox implements the authenticated-encryption envelope used for
// every persisted payload: a 12-byte random nonce followed by the AES-256-GCM
// ciphertext and its 16-byte tag. An envelope therefore can never be shorter
// than 28 bytes; anything below that is structurally invalid regardless of
// the key.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12

	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16

	// MinEnvelopeSize is the smallest possible valid envelope:
	// nonce + tag + zero bytes of data.
	MinEnvelopeSize = NonceSize + TagSize
)

var (
	// ErrEnvelopeTooSmall reports a payload below the envelope minimum.
	ErrEnvelopeTooSmall = errors.New("envelope too small")

	// ErrInvalidEnvelope reports a payload that cannot be split into
	// nonce and ciphertext.
	ErrInvalidEnvelope = errors.New("invalid envelope")

	// ErrDecrypt reports an authenticated-decryption failure: wrong key,
	// tampered ciphertext, or both.
	ErrDecrypt = errors.New("decryption failed")
)

// Seal encrypts plaintext under key and returns a self-contained envelope.
// A fresh random nonce is generated per call.
func Seal(key, plaintext []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	// Seal appends ciphertext+tag after the nonce prefix.
	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open authenticates and decrypts an envelope produced by Seal.
func Open(key, envelope []byte) ([]byte, error) {
	nonce, ciphertext, err := Parse(envelope)
	if err != nil {
		return nil, err
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// Parse splits an envelope into nonce and ciphertext without touching the
// key. It is the structural-validity check used by the corruption scanner:
// a payload that fails Parse is unrecoverable under any key.
func Parse(envelope []byte) (nonce, ciphertext []byte, err error) {
	if len(envelope) < MinEnvelopeSize {
		return nil, nil, ErrEnvelopeTooSmall
	}
	nonce = envelope[:NonceSize]
	ciphertext = envelope[NonceSize:]
	if len(ciphertext) < TagSize {
		return nil, nil, ErrInvalidEnvelope
	}
	return nonce, ciphertext, nil
}

// EncryptJSON serializes v to JSON and seals it into an envelope.
func EncryptJSON(key []byte, v any) ([]byte, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return Seal(key, plaintext)
}

// DecryptJSON opens an envelope and unmarshals the plaintext JSON into v.
func DecryptJSON(key, envelope []byte, v any) error {
	plaintext, err := Open(key, envelope)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return aesgcm, nil
}
