package logging

import (
	"context"
	"log/slog"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// OrganizationKey is the context key for organization identifiers.
	OrganizationKey contextKey = "organization_id"

	// UserKey is the context key for user identifiers.
	UserKey contextKey = "user_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithOrganization adds an organization identifier to the context.
func WithOrganization(ctx context.Context, organizationID string) context.Context {
	return context.WithValue(ctx, OrganizationKey, organizationID)
}

// GetOrganization retrieves the organization identifier from the context.
func GetOrganization(ctx context.Context) string {
	if org, ok := ctx.Value(OrganizationKey).(string); ok {
		return org
	}
	return ""
}

// WithUser adds a user identifier to the context.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// GetUser retrieves the user identifier from the context.
func GetUser(ctx context.Context) string {
	if user, ok := ctx.Value(UserKey).(string); ok {
		return user
	}
	return ""
}

// Attrs returns the identifiers stored in ctx as log attributes.
func Attrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := GetRequestID(ctx); v != "" {
		attrs = append(attrs, slog.String(string(RequestIDKey), v))
	}
	if v := GetOrganization(ctx); v != "" {
		attrs = append(attrs, slog.String(string(OrganizationKey), v))
	}
	if v := GetUser(ctx); v != "" {
		attrs = append(attrs, slog.String(string(UserKey), v))
	}
	return attrs
}
