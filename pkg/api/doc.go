// Package api exposes the metering service over HTTP with gorilla/mux.
//
// Every /api/v1 route except the admin routes is scoped to the caller's
// organization, read from the X-Organization-ID header. The user, when
// known, is read from X-User-ID.
//
//	POST   /api/v1/usage                 record a provider call
//	GET    /api/v1/usage                 query the ledger
//	GET    /api/v1/usage/breakdown       aggregate by provider, model or day
//	GET    /api/v1/spend-limit           run the spend-limit gate
//	POST   /api/v1/budgets               create a budget
//	GET    /api/v1/budgets               list active budgets
//	GET    /api/v1/budgets/{id}          get a budget
//	GET    /api/v1/budgets/{id}/status   evaluate a budget
//	DELETE /api/v1/budgets/{id}          disable a budget
//	PUT    /api/v1/organization          create or update the organization
//	GET    /api/v1/organization          get the organization
//	GET    /api/v1/recommendations       budget recommendations
//	GET    /api/v1/pricing               price of a provider model
//	POST   /api/v1/admin/reconcile       reconcile cached spend now
//	POST   /api/v1/admin/reset-budgets   roll elapsed budgets now
//
// Errors are returned as {"error": code, "message": text}.
package api
