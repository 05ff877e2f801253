// Package logging builds the process logger on top of log/slog.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	})
//	slog.SetDefault(logger)
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	ctx = logging.WithOrganization(ctx, "org-1")
//	slog.InfoContext(ctx, "usage recorded", "cost", 0.0042)
//	// {"level":"INFO","msg":"usage recorded","cost":0.0042,"request_id":"req-123","organization_id":"org-1"}
//
// Identifiers placed in the context are appended to every record logged
// through a *Context method, whichever component emits it.
package logging
