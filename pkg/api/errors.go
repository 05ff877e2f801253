package api

import (
	"errors"
	"net/http"

	"spendwise-hq/meter/pkg/budget"
	"spendwise-hq/meter/pkg/metering"
	"spendwise-hq/meter/pkg/server/middleware"
	"spendwise-hq/meter/pkg/storage"
	"spendwise-hq/meter/pkg/tenant"
	"spendwise-hq/meter/pkg/usage"
	"spendwise-hq/meter/pkg/usage/normalize"
)

// errBadRequest marks request decoding failures.
var errBadRequest = errors.New("bad request")

// classify maps a service error to its status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrBudgetNotFound),
		errors.Is(err, storage.ErrOrganizationNotFound):
		return http.StatusNotFound, middleware.CodeNotFound
	case errors.Is(err, usage.ErrOrganizationRequired),
		errors.Is(err, normalize.ErrMissingOrganization):
		return http.StatusBadRequest, middleware.CodeOrganizationRequired
	case errors.Is(err, errBadRequest),
		errors.Is(err, budget.ErrInvalidBudget),
		errors.Is(err, tenant.ErrInvalidOrganization),
		errors.Is(err, usage.ErrInvalidCursor),
		errors.Is(err, usage.ErrInvalidFilter),
		errors.Is(err, metering.ErrFutureTimestamp),
		errors.Is(err, normalize.ErrMissingProvider):
		return http.StatusBadRequest, middleware.CodeBadRequest
	case errors.Is(err, storage.ErrClosed):
		return http.StatusServiceUnavailable, middleware.CodeUnavailable
	default:
		return http.StatusInternalServerError, middleware.CodeInternal
	}
}

// writeError writes err with the status classify picks. Internal errors
// are logged and replaced with a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"error", err,
		)
		if status == http.StatusInternalServerError {
			message = "An internal error occurred. Please try again later."
		}
	}
	middleware.WriteError(w, status, code, message)
}
