package store

import (
	"time"

	"github.com/dkurilko/healthvault/internal/store/models"
)

// MergeDocuments reconciles a partially populated document update against
// the stored version. Identity fields always come from incoming; optional
// scalars fall back to existing when incoming leaves them empty; an empty
// incoming collection means "caller did not touch this list" and preserves
// the existing one. Clearing a list therefore requires a dedicated store
// method, never a plain save with an empty slice.
func MergeDocuments(incoming, existing models.Document) models.Document {
	return mergeDocumentsAt(incoming, existing, time.Now().UTC())
}

func mergeDocumentsAt(incoming, existing models.Document, now time.Time) models.Document {
	merged := models.Document{
		// Identity and required fields: these are never partially known.
		ID:          incoming.ID,
		Filename:    incoming.Filename,
		FileType:    incoming.FileType,
		StoragePath: incoming.StoragePath,
		Status:      incoming.Status,
		Category:    incoming.Category,

		IncludeInAIContext: incoming.IncludeInAIContext,
		AIContextPriority:  incoming.AIContextPriority,
	}

	// Optional scalars: incoming wins only when it actually supplies a value.
	merged.ThumbnailPath = firstNonEmpty(incoming.ThumbnailPath, existing.ThumbnailPath)
	merged.ProviderName = firstNonEmpty(incoming.ProviderName, existing.ProviderName)
	merged.ProviderType = firstNonEmpty(incoming.ProviderType, existing.ProviderType)
	merged.ExtractedText = firstNonEmpty(incoming.ExtractedText, existing.ExtractedText)
	merged.RawOCRText = firstNonEmpty(incoming.RawOCRText, existing.RawOCRText)
	merged.DocumentDate = firstTime(incoming.DocumentDate, existing.DocumentDate)
	merged.ProcessedAt = firstTime(incoming.ProcessedAt, existing.ProcessedAt)

	// Collections: empty incoming preserves existing; non-empty replaces
	// wholesale. No element-wise merging.
	merged.Tags = firstNonEmptySlice(incoming.Tags, existing.Tags)
	merged.Sections = firstNonEmptySlice(incoming.Sections, existing.Sections)
	merged.HealthItemIDs = firstNonEmptySlice(incoming.HealthItemIDs, existing.HealthItemIDs)

	// ImportedAt is immutable once set.
	merged.ImportedAt = existing.ImportedAt
	if merged.ImportedAt.IsZero() {
		merged.ImportedAt = incoming.ImportedAt
	}

	// LastEditedAt defaults to "now" when the caller does not supply one.
	if incoming.LastEditedAt != nil {
		merged.LastEditedAt = incoming.LastEditedAt
	} else {
		merged.LastEditedAt = &now
	}

	return merged
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstTime(a, b *time.Time) *time.Time {
	if a != nil {
		return a
	}
	return b
}

func firstNonEmptySlice[T any](a, b []T) []T {
	if len(a) > 0 {
		return a
	}
	return b
}
