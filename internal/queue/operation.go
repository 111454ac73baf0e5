// Package queue tracks deferred network-dependent work until it succeeds or
// is abandoned. Operations survive restarts: the whole list is persisted
// after every mutation and reloaded at startup.
package queue

import (
	"sort"
	"strings"
	"time"
)

// Kind identifies which business operation to re-invoke.
type Kind string

const (
	KindChatMessage        Kind = "chat_message"
	KindDocumentProcessing Kind = "document_processing"
)

// Status is an operation's lifecycle state.
type Status string

const (
	// StatusPending marks an operation eligible for execution.
	StatusPending Status = "pending"
	// StatusRetrying marks an operation with a scheduled backoff timer.
	StatusRetrying Status = "retrying"
	// StatusFailed is terminal for automatic retries; only a manual Retry
	// re-attempts it. Failed operations stay visible to the user.
	StatusFailed Status = "failed"
	// StatusCompleted exists only transiently: completed operations are
	// removed from the queue.
	StatusCompleted Status = "completed"
)

// Operation is one deferred unit of work.
type Operation struct {
	ID     string            `json:"id"`
	Kind   Kind              `json:"kind"`
	Params map[string]string `json:"params,omitempty"`

	Status        Status     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// dedupKey identifies "the same logical request": kind plus the identifying
// parameters in a stable order.
func (o *Operation) dedupKey() string {
	keys := make([]string, 0, len(o.Params))
	for k := range o.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(o.Kind))
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(o.Params[k])
	}
	return b.String()
}
