package keystore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkurilko/healthvault/internal/common"
	"github.com/dkurilko/healthvault/internal/cryptox"
)

func TestGetOrCreate_GeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()
	ks := NewFileKeyStore(dir)
	ctx := context.Background()

	key, err := ks.GetOrCreate(ctx)
	require.NoError(t, err)
	require.Len(t, key, cryptox.KeySize)

	// A second call returns the same key.
	again, err := ks.GetOrCreate(ctx)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	// And a fresh instance over the same dir sees it too.
	other := NewFileKeyStore(dir)
	third, err := other.GetOrCreate(ctx)
	require.NoError(t, err)
	assert.Equal(t, key, third)
}

func TestGetOrCreate_KeyFilePermissions(t *testing.T) {
	dir := t.TempDir()
	ks := NewFileKeyStore(dir)

	_, err := ks.GetOrCreate(context.Background())
	require.NoError(t, err)

	fi, err := os.Stat(filepath.Join(dir, "store.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestGetOrCreate_CorruptKeyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "store.key"), []byte("short"), 0o600))

	ks := NewFileKeyStore(dir)
	_, err := ks.GetOrCreate(context.Background())
	require.ErrorIs(t, err, common.ErrKeyStore)
}

func TestGetOrCreate_PassphraseWrapped(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ks := NewFileKeyStore(dir, WithPassphrase([]byte("correct horse")))
	key, err := ks.GetOrCreate(ctx)
	require.NoError(t, err)
	require.Len(t, key, cryptox.KeySize)

	// Key file must not contain the raw key.
	raw, err := os.ReadFile(filepath.Join(dir, "store.key"))
	require.NoError(t, err)
	assert.NotEqual(t, key, raw)

	// Same passphrase unwraps the same key.
	again, err := NewFileKeyStore(dir, WithPassphrase([]byte("correct horse"))).GetOrCreate(ctx)
	require.NoError(t, err)
	assert.Equal(t, key, again)
}

func TestGetOrCreate_WrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, err := NewFileKeyStore(dir, WithPassphrase([]byte("right"))).GetOrCreate(ctx)
	require.NoError(t, err)

	_, err = NewFileKeyStore(dir, WithPassphrase([]byte("wrong"))).GetOrCreate(ctx)
	require.ErrorIs(t, err, common.ErrKeyStore)
}

func TestGetOrCreate_MissingPassphraseForWrappedKey(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, err := NewFileKeyStore(dir, WithPassphrase([]byte("pass"))).GetOrCreate(ctx)
	require.NoError(t, err)

	_, err = NewFileKeyStore(dir).GetOrCreate(ctx)
	require.ErrorIs(t, err, common.ErrKeyStore)
}
