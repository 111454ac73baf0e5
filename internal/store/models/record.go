// Package models defines the record families persisted by the encrypted
// store. A Record row carries plaintext index metadata plus one opaque
// encrypted payload; the typed payload structs below are what gets sealed
// into it.
package models

import "time"

// RecordType classifies a record row.
type RecordType string

const (
	RecordTypeHealthData   RecordType = "health_data"
	RecordTypeDocument     RecordType = "document"
	RecordTypeConversation RecordType = "conversation"
	RecordTypeMessage      RecordType = "message"
	RecordTypeSetting      RecordType = "setting"
)

// RecordTypes lists every known record family.
var RecordTypes = []RecordType{
	RecordTypeHealthData,
	RecordTypeDocument,
	RecordTypeConversation,
	RecordTypeMessage,
	RecordTypeSetting,
}

// Valid reports whether t is a known record type.
func (t RecordType) Valid() bool {
	for _, rt := range RecordTypes {
		if t == rt {
			return true
		}
	}
	return false
}

// Record is one persisted row. Payload is either empty (explicit "no data")
// or a sealed envelope; it is never stored in any other shape.
type Record struct {
	// ID is a globally unique identifier for the record.
	ID string

	// Type is the record family, kept in plaintext for filtering.
	Type RecordType

	// Payload is the encrypted envelope bytes.
	Payload []byte

	// CreatedAt and UpdatedAt are plaintext index timestamps in UTC.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Typed is implemented by every payload struct so the store can derive the
// record family from the value being saved.
type Typed interface {
	GetType() RecordType
}

// HealthItem is one structured health measurement or observation.
type HealthItem struct {
	Name       string    `json:"name"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	Category   string    `json:"category"`
	RecordedAt time.Time `json:"recorded_at"`
	Notes      string    `json:"notes,omitempty"`
	// SourceDocumentID links back to the document the item was extracted
	// from, if any.
	SourceDocumentID string `json:"source_document_id,omitempty"`
}

func (HealthItem) GetType() RecordType { return RecordTypeHealthData }

// Conversation groups a chat thread.
type Conversation struct {
	Title     string    `json:"title"`
	StartedAt time.Time `json:"started_at"`
	Archived  bool      `json:"archived,omitempty"`
}

func (Conversation) GetType() RecordType { return RecordTypeConversation }

// Message is one chat message inside a conversation.
type Message struct {
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Text           string    `json:"text"`
	SentAt         time.Time `json:"sent_at"`
}

func (Message) GetType() RecordType { return RecordTypeMessage }

// Setting is a generic app preference.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (Setting) GetType() RecordType { return RecordTypeSetting }
