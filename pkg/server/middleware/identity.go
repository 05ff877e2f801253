package middleware

import (
	"net/http"

	"spendwise-hq/meter/pkg/telemetry/logging"
)

// Identity headers set by the authenticating proxy in front of the API.
const (
	OrganizationHeader = "X-Organization-ID"
	UserHeader         = "X-User-ID"
)

// Identity copies the organization and user headers into the request
// context, where handlers and log lines pick them up.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if org := r.Header.Get(OrganizationHeader); org != "" {
			ctx = logging.WithOrganization(ctx, org)
		}
		if user := r.Header.Get(UserHeader); user != "" {
			ctx = logging.WithUser(ctx, user)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OrganizationID returns the caller's organization, from the context when
// Identity has run and from the header otherwise.
func OrganizationID(r *http.Request) string {
	if org := logging.GetOrganization(r.Context()); org != "" {
		return org
	}
	return r.Header.Get(OrganizationHeader)
}

// UserID returns the caller's user, from the context when Identity has run
// and from the header otherwise.
func UserID(r *http.Request) string {
	if user := logging.GetUser(r.Context()); user != "" {
		return user
	}
	return r.Header.Get(UserHeader)
}
