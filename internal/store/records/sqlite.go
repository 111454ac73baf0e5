package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkurilko/healthvault/internal/common"
	"github.com/dkurilko/healthvault/internal/dbx"
	"github.com/dkurilko/healthvault/internal/store/models"
)

// timeFormat is how timestamps are stored in the TEXT columns.
const timeFormat = time.RFC3339Nano

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Upsert inserts a record by id. On conflict the payload and updated_at are
// replaced; created_at keeps its original value.
func (r *SQLiteRepository) Upsert(ctx context.Context, rec *models.Record) error {
	query := `INSERT INTO records (id, record_type, payload, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET record_type = excluded.record_type,
				payload = excluded.payload,
				updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, string(rec.Type), rec.Payload,
		rec.CreatedAt.UTC().Format(timeFormat),
		rec.UpdatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

// Update replaces an existing row; common.ErrNotFound when the id is absent.
func (r *SQLiteRepository) Update(ctx context.Context, rec *models.Record) error {
	query := `UPDATE records SET record_type = ?, payload = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		string(rec.Type), rec.Payload,
		rec.UpdatedAt.UTC().Format(timeFormat), rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Record, error) {
	query := `SELECT id, record_type, payload, created_at, updated_at FROM records WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)

	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return rec, nil
}

func (r *SQLiteRepository) GetAllByType(ctx context.Context, t models.RecordType) ([]models.Record, error) {
	query := `SELECT id, record_type, payload, created_at, updated_at FROM records
			WHERE record_type = ? ORDER BY created_at`
	return r.list(ctx, query, string(t))
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]models.Record, error) {
	query := `SELECT id, record_type, payload, created_at, updated_at FROM records ORDER BY created_at`
	return r.list(ctx, query)
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes one row. It expects exactly one row to be affected.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

// maxDeleteBatch keeps each DELETE ... IN statement under SQLite's host
// parameter limit.
const maxDeleteBatch = 500

// DeleteMany removes the given rows. Id lists larger than one batch are
// deleted batch by batch inside a single transaction, so the set is removed
// all-or-nothing.
func (r *SQLiteRepository) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if len(ids) <= maxDeleteBatch {
		return deleteBatch(ctx, r.db, ids)
	}

	db, ok := r.db.(*sql.DB)
	if !ok {
		// Already inside a caller-owned transaction.
		return deleteBatches(ctx, r.db, ids)
	}

	var total int
	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		n, err := deleteBatches(ctx, tx, ids)
		total = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func deleteBatches(ctx context.Context, db dbx.DBTX, ids []string) (int, error) {
	total := 0
	for start := 0; start < len(ids); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(ids))
		n, err := deleteBatch(ctx, db, ids[start:end])
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func deleteBatch(ctx context.Context, db dbx.DBTX, ids []string) (int, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := db.ExecContext(ctx,
		`DELETE FROM records WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(ra), nil
}

func (r *SQLiteRepository) CountByType(ctx context.Context, t models.RecordType) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE record_type = ?`, string(t)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) TotalCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func scanRecord(scan func(dest ...any) error) (*models.Record, error) {
	var (
		rec        models.Record
		rt         string
		createdRaw string
		updatedRaw string
	)
	if err := scan(&rec.ID, &rt, &rec.Payload, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	rec.Type = models.RecordType(rt)

	var err error
	if rec.CreatedAt, err = time.Parse(timeFormat, createdRaw); err != nil {
		return nil, fmt.Errorf("bad created_at %q: %w", createdRaw, err)
	}
	if rec.UpdatedAt, err = time.Parse(timeFormat, updatedRaw); err != nil {
		return nil, fmt.Errorf("bad updated_at %q: %w", updatedRaw, err)
	}
	return &rec, nil
}
