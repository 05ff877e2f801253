package middleware

import (
	"encoding/json"
	"net/http"

	"spendwise-hq/meter/pkg/gate"
)

// Error codes returned in the "error" field of error responses.
const (
	CodeBadRequest           = "bad_request"
	CodeOrganizationRequired = "organization_required"
	CodeNotFound             = "not_found"
	CodeConflict             = "conflict"
	CodeSpendLimitExceeded   = "spend_limit_exceeded"
	CodeSpendLimitDenied     = "spend_limit_not_configured"
	CodeUnavailable          = "unavailable"
	CodeInternal             = "internal_error"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RejectionResponse is the 402 body of a spend-limit rejection.
type RejectionResponse struct {
	Error          string  `json:"error"`
	Message        string  `json:"message"`
	BudgetExceeded bool    `json:"budget_exceeded"`
	Limit          float64 `json:"limit"`
	Spent          float64 `json:"spent"`
}

// WriteJSON writes body as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError writes an ErrorResponse.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// NotFound writes a JSON 404 for requests no route matches.
func NotFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, CodeNotFound, "no route for "+r.URL.Path)
}

// MethodNotAllowed writes a JSON 405 for a known path requested with an
// unsupported method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusMethodNotAllowed, CodeBadRequest,
		r.Method+" is not allowed on "+r.URL.Path)
}

// DecisionStatus maps a gate decision to its HTTP status: 200 when
// allowed, 402 when the limit is reached, 403 when refused by policy and
// 503 when the check failed closed.
func DecisionStatus(d *gate.Decision) int {
	switch {
	case d.Allowed:
		return http.StatusOK
	case d.Reason == gate.ReasonLimitExceeded:
		return http.StatusPaymentRequired
	case d.Reason == gate.ReasonUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusForbidden
	}
}

// WriteRejection writes the error response for a decision that did not
// allow the request.
func WriteRejection(w http.ResponseWriter, d *gate.Decision) {
	status := DecisionStatus(d)
	switch status {
	case http.StatusPaymentRequired:
		WriteJSON(w, status, RejectionResponse{
			Error:          CodeSpendLimitExceeded,
			Message:        d.Message,
			BudgetExceeded: true,
			Limit:          d.Limit,
			Spent:          d.Spent,
		})
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		WriteError(w, status, CodeUnavailable, d.Message)
	default:
		WriteError(w, status, CodeSpendLimitDenied, d.Message)
	}
}
