package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"spendwise-hq/meter/pkg/budget"
	"spendwise-hq/meter/pkg/usage"
)

// recordUsageRequest is the body of POST /api/v1/usage.
type recordUsageRequest struct {
	Provider       string          `json:"provider"`
	Model          string          `json:"model,omitempty"`
	Response       json.RawMessage `json:"response,omitempty"`
	RequestID      string          `json:"request_id,omitempty"`
	Success        *bool           `json:"success,omitempty"`
	Error          string          `json:"error,omitempty"`
	PromptText     string          `json:"prompt_text,omitempty"`
	CompletionText string          `json:"completion_text,omitempty"`
	Timestamp      *time.Time      `json:"timestamp,omitempty"`
}

// createBudgetRequest is the body of POST /api/v1/budgets.
type createBudgetRequest struct {
	Name            string        `json:"name"`
	Amount          float64       `json:"amount"`
	Period          budget.Period `json:"period,omitempty"`
	Scope           budget.Scope  `json:"scope,omitempty"`
	UserID          string        `json:"user_id,omitempty"`
	AlertThresholds []int         `json:"alert_thresholds,omitempty"`
}

// organizationRequest is the body of PUT /api/v1/organization.
type organizationRequest struct {
	Name       string   `json:"name"`
	SpendLimit *float64 `json:"spend_limit"`
}

// decode reads a JSON body of at most maxBytes into v.
func decode(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return fmt.Errorf("%w: body exceeds %d bytes", errBadRequest, tooLarge.Limit)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: empty body", errBadRequest)
		default:
			return fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err)
		}
	}
	return nil
}

// queryValues parses the raw query string. Unlike URL.Query it rejects
// malformed pairs instead of dropping them.
func queryValues(r *http.Request) (url.Values, error) {
	q, err := url.ParseQuery(r.URL.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed query string: %v", errBadRequest, err)
	}
	return q, nil
}

// parseFilter builds a ledger filter from query parameters.
func parseFilter(orgID string, q url.Values) (usage.Filter, error) {
	f := usage.Filter{
		OrganizationID: orgID,
		UserID:         q.Get("user_id"),
		Model:          q.Get("model"),
		Cursor:         q.Get("cursor"),
	}
	if p := q.Get("provider"); p != "" {
		f.Provider = usage.ParseProvider(p)
	}
	if s := q.Get("success"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return f, fmt.Errorf("%w: success must be a boolean", errBadRequest)
		}
		f.Success = &v
	}

	var err error
	if f.From, err = parseTime(q, "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTime(q, "to"); err != nil {
		return f, err
	}
	if l := q.Get("limit"); l != "" {
		if f.Limit, err = strconv.Atoi(l); err != nil || f.Limit < 0 {
			return f, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest)
		}
	}
	return f, nil
}

func parseTime(q url.Values, key string) (time.Time, error) {
	s := q.Get(key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be an RFC 3339 timestamp", errBadRequest, key)
	}
	return t, nil
}
