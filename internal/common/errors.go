// Package common defines shared constants and sentinel errors used across
// the store, recovery and queue layers. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound            = errors.New("not found")
	ErrConstraintViolation = errors.New("constraint violation")

	// Store-level errors.
	ErrConnectionFailed = errors.New("store connection failed")
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidData      = errors.New("invalid data")

	// Key store errors (credential storage inaccessible or unusable).
	ErrKeyStore = errors.New("key store unavailable")

	// Connectivity errors.
	ErrConnectionTimeout = errors.New("connection timeout")
)
