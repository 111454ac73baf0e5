// Package records implements persistence for encrypted record rows.
package records

import (
	"context"

	"github.com/dkurilko/healthvault/internal/store/models"
)

// Repository is the storage contract for record rows. The encrypted store
// is its only caller and the only writer of the underlying table.
type Repository interface {
	// Upsert inserts the record or atomically replaces the row with the
	// same id, preserving the original created_at on replace.
	Upsert(ctx context.Context, r *models.Record) error

	// Update replaces an existing row and fails with common.ErrNotFound
	// when no row with the id exists. It never creates.
	Update(ctx context.Context, r *models.Record) error

	// GetByID returns one record or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Record, error)

	// GetAllByType lists all rows of one record family.
	GetAllByType(ctx context.Context, t models.RecordType) ([]models.Record, error)

	// GetAll lists every row; used by the corruption scanner.
	GetAll(ctx context.Context) ([]models.Record, error)

	// Delete removes one row or fails with common.ErrNotFound.
	Delete(ctx context.Context, id string) error

	// DeleteMany removes the given ids and returns how many rows went away.
	DeleteMany(ctx context.Context, ids []string) (int, error)

	// CountByType counts rows of one family without touching payloads.
	CountByType(ctx context.Context, t models.RecordType) (int, error)

	// TotalCount counts all rows.
	TotalCount(ctx context.Context) (int, error)
}
