package models

import "time"

// ProcessingStatus tracks a document through the external processing
// pipeline: created on import as pending, then queued → processing →
// completed or failed as the collaborator reports progress.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusQueued     ProcessingStatus = "queued"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// DocumentSection is one extracted region of a processed document.
type DocumentSection struct {
	Label      string  `json:"label"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	// Start and End are byte offsets into the raw OCR output.
	Start int `json:"start"`
	End   int `json:"end"`
}

// Document is the rich medical-document payload. Many of its fields evolve
// independently (import writes the identity fields, processing fills the
// extracted content, the user edits category and tags), which is why
// re-saves go through the merge resolver instead of overwriting blindly.
type Document struct {
	ID          string           `json:"id"`
	Filename    string           `json:"filename"`
	FileType    string           `json:"file_type"`
	StoragePath string           `json:"storage_path"`
	Status      ProcessingStatus `json:"status"`
	Category    string           `json:"category"`

	// Optional scalar fields; the zero value means "not supplied".
	ThumbnailPath string     `json:"thumbnail_path,omitempty"`
	DocumentDate  *time.Time `json:"document_date,omitempty"`
	ProviderName  string     `json:"provider_name,omitempty"`
	ProviderType  string     `json:"provider_type,omitempty"`
	ExtractedText string     `json:"extracted_text,omitempty"`
	RawOCRText    string     `json:"raw_ocr_text,omitempty"`

	// Collections. Linked health items are referenced by record id only;
	// resolve them through the store (no embedded objects, no cycles).
	Tags          []string          `json:"tags,omitempty"`
	Sections      []DocumentSection `json:"sections,omitempty"`
	HealthItemIDs []string          `json:"health_item_ids,omitempty"`

	// AI-context settings.
	IncludeInAIContext bool `json:"include_in_ai_context"`
	AIContextPriority  int  `json:"ai_context_priority"`

	// ImportedAt is immutable once set.
	ImportedAt   time.Time  `json:"imported_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	LastEditedAt *time.Time `json:"last_edited_at,omitempty"`
}

func (Document) GetType() RecordType { return RecordTypeDocument }
