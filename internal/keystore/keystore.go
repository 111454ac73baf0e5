// Package keystore manages the single symmetric key protecting all persisted
// payloads. The key is created lazily on first use and lives for the whole
// installation; losing it makes every existing envelope permanently
// undecryptable, so the store never regenerates a key on its own.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"

	"github.com/dkurilko/healthvault/internal/common"
	"github.com/dkurilko/healthvault/internal/cryptox"
	"github.com/dkurilko/healthvault/internal/filex"
)

const (
	keyFileName  = "store.key"
	saltFileName = "store.salt"

	saltSize = 16
)

// KeyStore yields the installation's encryption key.
type KeyStore interface {
	// GetOrCreate returns the existing key if present, otherwise generates a
	// fresh 256-bit key, persists it, and returns it. Two calls within one
	// installation always return the same key unless the backing storage was
	// cleared.
	GetOrCreate(ctx context.Context) ([]byte, error)
}

// FileKeyStore keeps the key in a 0600 file under the app data directory.
//
// Without a passphrase the key file holds the raw 32-byte key. With a
// passphrase the key is stored wrapped: a random salt is written alongside
// and the key file holds an AES-GCM envelope sealed under an argon2id-derived
// wrapping key. The presence of the salt file marks a wrapped installation.
type FileKeyStore struct {
	dir        string
	passphrase []byte
}

// Option configures a FileKeyStore.
type Option func(*FileKeyStore)

// WithPassphrase enables passphrase wrapping of the stored key.
func WithPassphrase(passphrase []byte) Option {
	return func(ks *FileKeyStore) { ks.passphrase = passphrase }
}

func NewFileKeyStore(dir string, opts ...Option) *FileKeyStore {
	ks := &FileKeyStore{dir: dir}
	for _, opt := range opts {
		opt(ks)
	}
	return ks
}

func (ks *FileKeyStore) GetOrCreate(ctx context.Context) ([]byte, error) {
	if _, err := filex.EnsureDir(ks.dir); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrKeyStore, err)
	}

	keyPath := filepath.Join(ks.dir, keyFileName)
	saltPath := filepath.Join(ks.dir, saltFileName)

	data, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		return ks.loadExisting(data, saltPath)
	case errors.Is(err, os.ErrNotExist):
		return ks.createNew(keyPath, saltPath)
	default:
		return nil, fmt.Errorf("%w: read key file: %v", common.ErrKeyStore, err)
	}
}

func (ks *FileKeyStore) loadExisting(data []byte, saltPath string) ([]byte, error) {
	salt, err := os.ReadFile(saltPath)
	if errors.Is(err, os.ErrNotExist) {
		// Plain installation: the file is the raw key.
		if len(data) != cryptox.KeySize {
			return nil, fmt.Errorf("%w: key file has %d bytes, want %d",
				common.ErrKeyStore, len(data), cryptox.KeySize)
		}
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read salt file: %v", common.ErrKeyStore, err)
	}

	if len(salt) != saltSize {
		return nil, fmt.Errorf("%w: salt file has %d bytes, want %d",
			common.ErrKeyStore, len(salt), saltSize)
	}
	if len(ks.passphrase) == 0 {
		return nil, fmt.Errorf("%w: key is passphrase-protected", common.ErrKeyStore)
	}

	kek := deriveWrappingKey(ks.passphrase, salt)
	defer common.WipeByteArray(kek)

	key, err := cryptox.Open(kek, data)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap key: %v", common.ErrKeyStore, err)
	}
	if len(key) != cryptox.KeySize {
		return nil, fmt.Errorf("%w: unwrapped key has %d bytes, want %d",
			common.ErrKeyStore, len(key), cryptox.KeySize)
	}
	return key, nil
}

func (ks *FileKeyStore) createNew(keyPath, saltPath string) ([]byte, error) {
	key := common.GenerateRandByteArray(cryptox.KeySize)

	if len(ks.passphrase) == 0 {
		if err := filex.WriteFileAtomic(keyPath, key, 0o600); err != nil {
			return nil, fmt.Errorf("%w: persist key: %v", common.ErrKeyStore, err)
		}
		return key, nil
	}

	salt := common.GenerateRandByteArray(saltSize)
	kek := deriveWrappingKey(ks.passphrase, salt)
	defer common.WipeByteArray(kek)

	wrapped, err := cryptox.Seal(kek, key)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap key: %v", common.ErrKeyStore, err)
	}

	// Salt first: a key file without its salt is unrecoverable.
	if err := filex.WriteFileAtomic(saltPath, salt, 0o600); err != nil {
		return nil, fmt.Errorf("%w: persist salt: %v", common.ErrKeyStore, err)
	}
	if err := filex.WriteFileAtomic(keyPath, wrapped, 0o600); err != nil {
		return nil, fmt.Errorf("%w: persist key: %v", common.ErrKeyStore, err)
	}
	return key, nil
}

func deriveWrappingKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, cryptox.KeySize)
}
