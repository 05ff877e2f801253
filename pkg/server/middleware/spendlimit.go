package middleware

import (
	"context"
	"net/http"
	"strconv"

	"spendwise-hq/meter/pkg/gate"
)

// Spend-limit headers set on requests that pass the gate with a limit.
const (
	SpendLimitHeader     = "X-Spend-Limit"
	SpendRemainingHeader = "X-Spend-Remaining"
)

// SpendChecker decides whether an organization may make a provider call.
type SpendChecker interface {
	CheckSpendLimit(ctx context.Context, orgID string) (*gate.Decision, error)
}

// SpendLimit runs the spend-limit gate in front of next. Requests without
// an organization are rejected with 400; rejected decisions are answered
// with WriteRejection and never reach next.
//
// Example:
//
//	router.Handle("/v1/chat/completions", middleware.SpendLimit(svc)(proxyHandler))
func SpendLimit(checker SpendChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			orgID := OrganizationID(r)
			if orgID == "" {
				WriteError(w, http.StatusBadRequest, CodeOrganizationRequired,
					OrganizationHeader+" header is required")
				return
			}

			// A failed check still yields a decision that follows the
			// gate's fail-open setting; the error is already logged there.
			d, _ := checker.CheckSpendLimit(r.Context(), orgID)
			if !d.Allowed {
				WriteRejection(w, d)
				return
			}

			if d.Limit > 0 {
				w.Header().Set(SpendLimitHeader, strconv.FormatFloat(d.Limit, 'f', 2, 64))
				w.Header().Set(SpendRemainingHeader, strconv.FormatFloat(d.Remaining, 'f', 6, 64))
			}
			next.ServeHTTP(w, r)
		})
	}
}
