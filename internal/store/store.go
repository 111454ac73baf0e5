// Package store implements the encrypted record store: every payload is
// sealed into an authenticated envelope before it touches the database, and
// every write is verified by re-decrypting the freshly produced ciphertext
// before commit. Reads are lenient by default: individual corrupted rows are
// skipped and counted rather than failing the whole fetch.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkurilko/healthvault/internal/common"
	"github.com/dkurilko/healthvault/internal/cryptox"
	"github.com/dkurilko/healthvault/internal/keystore"
	"github.com/dkurilko/healthvault/internal/logging"
	"github.com/dkurilko/healthvault/internal/store/models"
	"github.com/dkurilko/healthvault/internal/store/records"
)

// SealFunc produces an envelope from key and plaintext. Injectable so tests
// can simulate a faulty encryptor.
type SealFunc func(key, plaintext []byte) ([]byte, error)

// Store is the single writer of the records table. All operations are
// serialized through one mutex; encryption itself is pure and stateless.
type Store struct {
	mu   sync.Mutex
	repo records.Repository
	key  []byte
	log  logging.Logger
	seal SealFunc
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithSealFunc replaces the envelope encryptor.
func WithSealFunc(f SealFunc) Option {
	return func(s *Store) { s.seal = f }
}

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New obtains the encryption key from ks and returns a ready Store.
func New(ctx context.Context, repo records.Repository, ks keystore.KeyStore, log logging.Logger, opts ...Option) (*Store, error) {
	key, err := ks.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	s := &Store{
		repo: repo,
		key:  key,
		log:  log,
		seal: cryptox.Seal,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewID returns a fresh record id.
func NewID() string { return uuid.NewString() }

// Save seals the payload and upserts it by id. Before committing it verifies
// that the produced ciphertext is non-empty, at least the minimum envelope
// size, and round-trips back to the exact plaintext. Any verification
// failure aborts the write with ErrEncryptionFailed: persisting bad
// ciphertext is unrecoverable, a failed save is not.
func (s *Store) Save(ctx context.Context, id string, v models.Typed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	envelope, err := s.sealVerified(v)
	if err != nil {
		return err
	}

	now := s.now()
	rec := &models.Record{
		ID:        id,
		Type:      v.GetType(),
		Payload:   envelope,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConnectionFailed, err)
	}
	return nil
}

// Update is Save for rows that must already exist; it fails with ErrNotFound
// instead of creating.
func (s *Store) Update(ctx context.Context, id string, v models.Typed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	envelope, err := s.sealVerified(v)
	if err != nil {
		return err
	}

	rec := &models.Record{
		ID:        id,
		Type:      v.GetType(),
		Payload:   envelope,
		UpdatedAt: s.now(),
	}
	if err := s.repo.Update(ctx, rec); err != nil {
		return err
	}
	return nil
}

// Delete removes one record; ErrNotFound when no row matched.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.repo.Delete(ctx, id)
}

// CountByType counts rows of one family from plaintext metadata only.
func (s *Store) CountByType(ctx context.Context, t models.RecordType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.repo.CountByType(ctx, t)
}

// TotalCount counts all rows.
func (s *Store) TotalCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.repo.TotalCount(ctx)
}

// sealVerified runs the write-verification discipline. Caller holds the lock.
func (s *Store) sealVerified(v models.Typed) ([]byte, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal: %v", common.ErrEncryptionFailed, err)
	}

	envelope, err := s.seal(s.key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryptionFailed, err)
	}
	if len(envelope) == 0 {
		return nil, fmt.Errorf("%w: encryptor produced empty envelope", common.ErrEncryptionFailed)
	}
	if len(envelope) < cryptox.MinEnvelopeSize {
		return nil, fmt.Errorf("%w: envelope is %d bytes, minimum is %d",
			common.ErrEncryptionFailed, len(envelope), cryptox.MinEnvelopeSize)
	}

	roundTrip, err := cryptox.Open(s.key, envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: verification decrypt: %v", common.ErrEncryptionFailed, err)
	}
	if !bytes.Equal(roundTrip, plaintext) {
		return nil, fmt.Errorf("%w: verification round-trip mismatch", common.ErrEncryptionFailed)
	}

	return envelope, nil
}

// Result pairs a decoded payload with its row metadata.
type Result[T any] struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Value     T
}

// FetchAll returns every record of T's family that decrypts successfully,
// plus a count of rows that were skipped because they did not. Skipping is
// logged per row so data loss stays observable. An all-bad set yields an
// empty slice, not an error.
func FetchAll[T models.Typed](ctx context.Context, s *Store) ([]Result[T], int, error) {
	return fetch[T](ctx, s, false)
}

// FetchAllStrict is FetchAll for callers that prefer failing over partial
// data: the first undecryptable row aborts with ErrDecryptionFailed.
func FetchAllStrict[T models.Typed](ctx context.Context, s *Store) ([]Result[T], error) {
	res, _, err := fetch[T](ctx, s, true)
	return res, err
}

func fetch[T models.Typed](ctx context.Context, s *Store, strict bool) ([]Result[T], int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	rows, err := s.repo.GetAllByType(ctx, zero.GetType())
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", common.ErrConnectionFailed, err)
	}

	result := make([]Result[T], 0, len(rows))
	skipped := 0
	for _, row := range rows {
		var value T
		if err := s.decode(row.Payload, &value); err != nil {
			if strict {
				return nil, 0, fmt.Errorf("%w: record %s: %v", common.ErrDecryptionFailed, row.ID, err)
			}
			skipped++
			s.log.Warn(ctx, "skipping undecryptable record",
				"id", row.ID, "type", string(row.Type), "reason", err.Error())
			continue
		}
		result = append(result, Result[T]{
			ID:        row.ID,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
			Value:     value,
		})
	}

	if skipped > 0 {
		s.log.Warn(ctx, "fetch skipped corrupted records",
			"type", string(zero.GetType()), "skipped", skipped, "returned", len(result))
	}
	return result, skipped, nil
}

// Get returns one decoded record by id. Decryption failure is always an
// error here: a single requested record has no good subset to fall back on.
func Get[T models.Typed](ctx context.Context, s *Store, id string) (*Result[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var value T
	if err := s.decode(row.Payload, &value); err != nil {
		return nil, fmt.Errorf("%w: record %s: %v", common.ErrDecryptionFailed, id, err)
	}
	return &Result[T]{
		ID:        row.ID,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		Value:     value,
	}, nil
}

func (s *Store) decode(envelope []byte, v any) error {
	if len(envelope) == 0 {
		return fmt.Errorf("empty payload")
	}
	return cryptox.DecryptJSON(s.key, envelope, v)
}
