package usage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrInvalidCursor is returned when a pagination cursor cannot be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

// ErrOrganizationRequired is returned by ledger reads without an organization.
var ErrOrganizationRequired = errors.New("organization id is required")

// ErrInvalidFilter is returned when filter bounds are inconsistent.
var ErrInvalidFilter = errors.New("invalid filter")

// Filter selects events from the ledger. Time bounds are half-open:
// events with From <= Timestamp < To match. Zero bounds are unbounded.
type Filter struct {
	OrganizationID string
	UserID         string
	Provider       Provider
	Model          string
	Success        *bool
	From           time.Time
	To             time.Time
	Limit          int
	Cursor         string
}

// Validate checks the filter fields that every backend requires.
func (f Filter) Validate() error {
	if f.OrganizationID == "" {
		return ErrOrganizationRequired
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return fmt.Errorf("%w: from %s must be before to %s", ErrInvalidFilter, f.From.Format(time.RFC3339), f.To.Format(time.RFC3339))
	}
	return nil
}

// Matches reports whether e satisfies every condition of the filter except
// pagination.
func (f Filter) Matches(e *Event) bool {
	if f.OrganizationID != "" && e.OrganizationID != f.OrganizationID {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Provider != "" && e.Provider != f.Provider {
		return false
	}
	if f.Model != "" && e.Model != f.Model {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	return true
}

// ClampLimit returns the effective page size for the filter.
func (f Filter) ClampLimit(def, max int) int {
	switch {
	case f.Limit <= 0:
		return def
	case f.Limit > max:
		return max
	default:
		return f.Limit
	}
}

// Page is one page of query results, newest first.
type Page struct {
	Events     []*Event `json:"events"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// EncodeCursor returns the opaque cursor for the given offset.
func EncodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte("o:" + strconv.Itoa(offset)))
}

// DecodeCursor returns the offset encoded in cursor. An empty cursor is
// offset zero.
func DecodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil || len(raw) < 3 || string(raw[:2]) != "o:" {
		return 0, ErrInvalidCursor
	}
	offset, err := strconv.Atoi(string(raw[2:]))
	if err != nil || offset < 0 {
		return 0, ErrInvalidCursor
	}
	return offset, nil
}

// GroupBy selects the aggregation dimension of a usage breakdown.
type GroupBy string

// Supported aggregation dimensions.
const (
	GroupByProvider GroupBy = "provider"
	GroupByModel    GroupBy = "model"
	GroupByDay      GroupBy = "day"
)

// ParseGroupBy validates a group-by dimension. Empty means provider.
func ParseGroupBy(s string) (GroupBy, error) {
	switch GroupBy(s) {
	case "", GroupByProvider:
		return GroupByProvider, nil
	case GroupByModel, GroupByDay:
		return GroupBy(s), nil
	}
	return "", fmt.Errorf("unsupported group_by %q", s)
}

// Aggregate is one row of a usage breakdown. Key is the provider name, the
// model name, or the UTC date formatted as 2006-01-02.
type Aggregate struct {
	Key              string  `json:"key" db:"key"`
	Requests         int64   `json:"requests" db:"requests"`
	FailedRequests   int64   `json:"failed_requests" db:"failed_requests"`
	PromptTokens     int64   `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens" db:"completion_tokens"`
	Cost             float64 `json:"cost" db:"cost"`
}

// KeyFor returns the aggregation key of e under g.
func (g GroupBy) KeyFor(e *Event) string {
	switch g {
	case GroupByModel:
		return e.Model
	case GroupByDay:
		return e.Timestamp.UTC().Format("2006-01-02")
	default:
		return string(e.Provider)
	}
}
