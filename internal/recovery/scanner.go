// Package recovery inspects stored payloads for corruption without assuming
// they decrypt, classifies what it finds, and offers best-effort cleanup and
// export tooling. Classification is three-tiered on purpose: "too small" and
// "invalid envelope" are unrecoverable under any key, "key mismatch or
// tamper" might still decrypt if the right key ever turns up, and everything
// else is fine.
package recovery

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkurilko/healthvault/internal/cryptox"
	"github.com/dkurilko/healthvault/internal/filex"
	"github.com/dkurilko/healthvault/internal/logging"
	"github.com/dkurilko/healthvault/internal/store/models"
	"github.com/dkurilko/healthvault/internal/store/records"
)

// Reason explains why a record was classified as corrupted.
type Reason string

const (
	ReasonTooSmall        Reason = "too small"
	ReasonInvalidEnvelope Reason = "invalid envelope"
	ReasonKeyMismatch     Reason = "key mismatch or tamper"
)

// RecordInfo identifies one classified record.
type RecordInfo struct {
	ID   string
	Type models.RecordType
	Size int
}

// CorruptedRecord is a RecordInfo plus its failure reason.
type CorruptedRecord struct {
	RecordInfo
	Reason Reason
}

// Report is the result of a full scan.
type Report struct {
	TotalRecords int
	Recoverable  []RecordInfo
	Corrupted    []CorruptedRecord
	Empty        []RecordInfo

	// LikelyKeyLoss is set when every non-empty record carries a
	// structurally valid envelope and none of them decrypts: the classic
	// signature of a lost or replaced encryption key. This is a fatal
	// data-loss scenario that must be surfaced, not ignored.
	LikelyKeyLoss bool
}

// RecoveryResult reports the outcome of AttemptRecovery.
type RecoveryResult struct {
	Recovered []string
	Failed    []string
}

// Scanner walks the records table directly. It shares the repository with
// the store but never writes except through CleanupCorrupted.
type Scanner struct {
	repo records.Repository
	key  []byte
	log  logging.Logger
}

func NewScanner(repo records.Repository, key []byte, log logging.Logger) *Scanner {
	return &Scanner{repo: repo, key: key, log: log}
}

// Scan classifies every stored record.
func (s *Scanner) Scan(ctx context.Context) (*Report, error) {
	rows, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	report := &Report{TotalRecords: len(rows)}
	validEnvelopes := 0

	for _, row := range rows {
		info := RecordInfo{ID: row.ID, Type: row.Type, Size: len(row.Payload)}

		switch reason, ok := s.classify(row.Payload); {
		case reason == "" && !ok:
			report.Empty = append(report.Empty, info)
		case ok:
			report.Recoverable = append(report.Recoverable, info)
			validEnvelopes++
		default:
			report.Corrupted = append(report.Corrupted, CorruptedRecord{RecordInfo: info, Reason: reason})
			if reason == ReasonKeyMismatch {
				validEnvelopes++
			}
		}
	}

	keyMismatches := 0
	for _, c := range report.Corrupted {
		if c.Reason == ReasonKeyMismatch {
			keyMismatches++
		}
	}
	report.LikelyKeyLoss = validEnvelopes > 0 &&
		len(report.Recoverable) == 0 && keyMismatches == validEnvelopes

	if report.LikelyKeyLoss {
		s.log.Error(ctx, "all stored envelopes are valid but none decrypt; encryption key was likely lost or replaced",
			"records", report.TotalRecords)
	}

	return report, nil
}

// classify returns ("", false) for empty, (reason, false) for corrupted and
// ("", true) for recoverable payloads.
func (s *Scanner) classify(payload []byte) (Reason, bool) {
	if len(payload) == 0 {
		return "", false
	}
	if len(payload) < cryptox.MinEnvelopeSize {
		return ReasonTooSmall, false
	}
	if _, _, err := cryptox.Parse(payload); err != nil {
		return ReasonInvalidEnvelope, false
	}
	if _, err := cryptox.Open(s.key, payload); err != nil {
		return ReasonKeyMismatch, false
	}
	return "", true
}

// AttemptRecovery re-attempts decryption with the current key for the given
// ids, or for every corrupted record when none are given. It never guesses
// keys.
func (s *Scanner) AttemptRecovery(ctx context.Context, ids ...string) (*RecoveryResult, error) {
	if len(ids) == 0 {
		report, err := s.Scan(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range report.Corrupted {
			ids = append(ids, c.ID)
		}
	}

	result := &RecoveryResult{}
	for _, id := range ids {
		row, err := s.repo.GetByID(ctx, id)
		if err != nil {
			result.Failed = append(result.Failed, id)
			continue
		}
		if _, err := cryptox.Open(s.key, row.Payload); err != nil {
			result.Failed = append(result.Failed, id)
			continue
		}
		result.Recovered = append(result.Recovered, id)
	}

	s.log.Info(ctx, "recovery attempt finished",
		"recovered", len(result.Recovered), "failed", len(result.Failed))
	return result, nil
}

// CleanupCorrupted permanently deletes records that are empty or fail
// structural validation, optionally restricted to one record family.
// Key-mismatch records are deliberately kept: they might decrypt under a
// recovered key. Destructive; callers should surface a scan first.
func (s *Scanner) CleanupCorrupted(ctx context.Context, only models.RecordType) (int, error) {
	report, err := s.Scan(ctx)
	if err != nil {
		return 0, err
	}

	var ids []string
	for _, e := range report.Empty {
		if only == "" || e.Type == only {
			ids = append(ids, e.ID)
		}
	}
	for _, c := range report.Corrupted {
		if c.Reason == ReasonKeyMismatch {
			continue
		}
		if only == "" || c.Type == only {
			ids = append(ids, c.ID)
		}
	}

	deleted, err := s.repo.DeleteMany(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete corrupted records: %w", err)
	}

	s.log.Info(ctx, "cleanup finished", "deleted", deleted)
	return deleted, nil
}

// exportEntry is one corrupted record in the analysis dump: metadata plus
// hex ciphertext, never plaintext.
type exportEntry struct {
	ID            string    `json:"id"`
	RecordType    string    `json:"record_type"`
	Reason        string    `json:"reason"`
	Size          int       `json:"size"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	CiphertextHex string    `json:"ciphertext_hex"`
}

type exportFile struct {
	ExportedAt   time.Time     `json:"exported_at"`
	TotalRecords int           `json:"total_records"`
	Entries      []exportEntry `json:"entries"`
}

// ExportForAnalysis writes corrupted records' hex-encoded ciphertext and
// metadata to path for offline analysis.
func (s *Scanner) ExportForAnalysis(ctx context.Context, path string) error {
	report, err := s.Scan(ctx)
	if err != nil {
		return err
	}

	out := exportFile{
		ExportedAt:   time.Now().UTC(),
		TotalRecords: report.TotalRecords,
		Entries:      make([]exportEntry, 0, len(report.Corrupted)),
	}

	for _, c := range report.Corrupted {
		row, err := s.repo.GetByID(ctx, c.ID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			s.log.Warn(ctx, "skipping record during export", "id", c.ID, "reason", err.Error())
			continue
		}
		out.Entries = append(out.Entries, exportEntry{
			ID:            row.ID,
			RecordType:    string(row.Type),
			Reason:        string(c.Reason),
			Size:          len(row.Payload),
			CreatedAt:     row.CreatedAt,
			UpdatedAt:     row.UpdatedAt,
			CiphertextHex: hex.EncodeToString(row.Payload),
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal export: %w", err)
	}
	if err := filex.WriteFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}

	s.log.Info(ctx, "export written", "path", path, "entries", len(out.Entries))
	return nil
}
