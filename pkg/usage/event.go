package usage

import (
	"time"
)

// Metadata keys set on events by the normalizer.
const (
	// MetaEstimated is "true" when token counts were estimated from text.
	MetaEstimated = "estimated"

	// MetaError carries the failure message of an unsuccessful call.
	MetaError = "error"

	// MetaPricing is "fallback" when no price entry matched the model.
	MetaPricing = "pricing"
)

// Event is one normalized record of a single provider call. Events are
// immutable once recorded; the ledger only appends and reads them.
type Event struct {
	ID               string            `json:"id"`
	OrganizationID   string            `json:"organization_id"`
	UserID           string            `json:"user_id,omitempty"`
	Provider         Provider          `json:"provider"`
	Model            string            `json:"model"`
	PromptTokens     int64             `json:"prompt_tokens"`
	CompletionTokens int64             `json:"completion_tokens"`
	TotalTokens      int64             `json:"total_tokens"`
	Cost             float64           `json:"cost"`
	Timestamp        time.Time         `json:"timestamp"`
	RequestID        string            `json:"request_id,omitempty"`
	Success          bool              `json:"success"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Estimated reports whether the event's token counts were estimated.
func (e *Event) Estimated() bool {
	return e.Metadata[MetaEstimated] == "true"
}

// DedupKey returns the key under which the ledger deduplicates the event,
// or "" when the event carries no request ID and is never deduplicated.
func (e *Event) DedupKey() string {
	if e.RequestID == "" {
		return ""
	}
	return string(e.Provider) + "\x00" + e.RequestID
}
