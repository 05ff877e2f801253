// Package middleware provides the HTTP middleware of the metering API.
//
// The chain applied by the server, outermost first, is:
//
//	Recovery -> RequestID -> Logging -> Identity -> routes
//
// SpendLimit is not part of the default chain. An embedding application
// wraps its provider-call handler with it so every call passes the
// spend-limit gate first.
package middleware
