package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkurilko/healthvault/internal/common"
	"github.com/dkurilko/healthvault/internal/store/models"
)

// SaveDocument persists a document, routing re-saves through the merge
// resolver so a partially populated update cannot clobber previously
// extracted content. The stored (merged) document is returned.
func (s *Store) SaveDocument(ctx context.Context, doc models.Document) (models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.ID == "" {
		doc.ID = NewID()
	}

	now := s.now()

	existing, err := s.documentLocked(ctx, doc.ID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		// First save: fill the import-time defaults.
		if doc.ImportedAt.IsZero() {
			doc.ImportedAt = now
		}
		if doc.Status == "" {
			doc.Status = models.StatusPending
		}
	case err != nil:
		// A corrupted stored document is surfaced, never silently replaced.
		return models.Document{}, err
	default:
		doc = mergeDocumentsAt(doc, *existing, now)
	}

	if err := s.upsertLocked(ctx, doc.ID, doc); err != nil {
		return models.Document{}, err
	}
	return doc, nil
}

// ClearDocumentTags explicitly empties a document's tag list. A plain save
// with empty tags preserves the stored list; this is the dedicated clear
// path.
func (s *Store) ClearDocumentTags(ctx context.Context, id string) error {
	return s.clearDocumentField(ctx, id, func(d *models.Document) { d.Tags = nil })
}

// ClearDocumentSections explicitly empties a document's extracted sections.
func (s *Store) ClearDocumentSections(ctx context.Context, id string) error {
	return s.clearDocumentField(ctx, id, func(d *models.Document) { d.Sections = nil })
}

// ClearDocumentHealthItems explicitly unlinks all health items.
func (s *Store) ClearDocumentHealthItems(ctx context.Context, id string) error {
	return s.clearDocumentField(ctx, id, func(d *models.Document) { d.HealthItemIDs = nil })
}

func (s *Store) clearDocumentField(ctx context.Context, id string, clear func(*models.Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.documentLocked(ctx, id)
	if err != nil {
		return err
	}

	clear(doc)
	now := s.now()
	doc.LastEditedAt = &now

	envelope, err := s.sealVerified(*doc)
	if err != nil {
		return err
	}
	rec := &models.Record{ID: id, Type: models.RecordTypeDocument, Payload: envelope, UpdatedAt: now}
	return s.repo.Update(ctx, rec)
}

// documentLocked loads and decodes one document. Caller holds the lock.
func (s *Store) documentLocked(ctx context.Context, id string) (*models.Document, error) {
	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	var doc models.Document
	if err := s.decode(row.Payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: record %s: %v", common.ErrDecryptionFailed, id, err)
	}
	return &doc, nil
}

// upsertLocked seals and upserts one payload. Caller holds the lock.
func (s *Store) upsertLocked(ctx context.Context, id string, v models.Typed) error {
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
