package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"spendwise-hq/meter/pkg/budget"
	"spendwise-hq/meter/pkg/config"
	"spendwise-hq/meter/pkg/gate"
	"spendwise-hq/meter/pkg/metering"
	"spendwise-hq/meter/pkg/pricing"
	"spendwise-hq/meter/pkg/server/middleware"
	"spendwise-hq/meter/pkg/storage"
	"spendwise-hq/meter/pkg/tenant"
	"spendwise-hq/meter/pkg/usage"
)

// Service is the metering behaviour the API serves.
type Service interface {
	RecordUsage(ctx context.Context, req metering.RecordRequest) (*metering.RecordResult, error)
	CheckSpendLimit(ctx context.Context, orgID string) (*gate.Decision, error)

	QueryUsage(ctx context.Context, f usage.Filter) (*usage.Page, error)
	UsageBreakdown(ctx context.Context, f usage.Filter, by usage.GroupBy) ([]usage.Aggregate, error)

	CreateBudget(ctx context.Context, b budget.Budget) (*budget.Budget, error)
	ListBudgets(ctx context.Context, orgID string) ([]*budget.Budget, error)
	GetBudget(ctx context.Context, budgetID string) (*budget.Budget, error)
	GetBudgetStatus(ctx context.Context, budgetID string) (*budget.Status, error)
	DisableBudget(ctx context.Context, budgetID string) error

	PutOrganization(ctx context.Context, o tenant.Organization) (*tenant.Organization, error)
	GetOrganization(ctx context.Context, orgID string) (*tenant.Organization, error)

	ListRecommendations(ctx context.Context, orgID string) ([]string, error)
	Pricing() *pricing.Table

	Reconcile(ctx context.Context) (*metering.ReconcileReport, error)
	ResetExpiredBudgets(ctx context.Context) (int, error)
}

// Handler serves the metering API.
type Handler struct {
	svc          Service
	logger       *slog.Logger
	maxBodyBytes int64
}

// New creates a Handler. A maxBodyBytes of zero uses
// config.DefaultMaxBodyBytes.
func New(svc Service, maxBodyBytes int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = config.DefaultMaxBodyBytes
	}
	return &Handler{
		svc:          svc,
		logger:       logger.With("component", "api"),
		maxBodyBytes: maxBodyBytes,
	}
}

// RegisterRoutes registers the API routes on r. Unmatched requests under
// /api/v1 get JSON 404 and 405 responses from the subrouter itself, since
// gorilla/mux does not fall back to the parent router's handlers.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.NotFoundHandler = http.HandlerFunc(middleware.NotFound)
	v1.MethodNotAllowedHandler = http.HandlerFunc(middleware.MethodNotAllowed)
	v1.Use(middleware.Identity)

	v1.HandleFunc("/usage", h.orgScoped(h.RecordUsage)).Methods(http.MethodPost)
	v1.HandleFunc("/usage", h.orgScoped(h.QueryUsage)).Methods(http.MethodGet)
	v1.HandleFunc("/usage/breakdown", h.orgScoped(h.UsageBreakdown)).Methods(http.MethodGet)
	v1.HandleFunc("/spend-limit", h.orgScoped(h.CheckSpendLimit)).Methods(http.MethodGet)

	v1.HandleFunc("/budgets", h.orgScoped(h.CreateBudget)).Methods(http.MethodPost)
	v1.HandleFunc("/budgets", h.orgScoped(h.ListBudgets)).Methods(http.MethodGet)
	v1.HandleFunc("/budgets/{id}", h.orgScoped(h.GetBudget)).Methods(http.MethodGet)
	v1.HandleFunc("/budgets/{id}/status", h.orgScoped(h.GetBudgetStatus)).Methods(http.MethodGet)
	v1.HandleFunc("/budgets/{id}", h.orgScoped(h.DisableBudget)).Methods(http.MethodDelete)

	v1.HandleFunc("/organization", h.orgScoped(h.PutOrganization)).Methods(http.MethodPut)
	v1.HandleFunc("/organization", h.orgScoped(h.GetOrganization)).Methods(http.MethodGet)
	v1.HandleFunc("/recommendations", h.orgScoped(h.ListRecommendations)).Methods(http.MethodGet)

	v1.HandleFunc("/pricing", h.GetPricing).Methods(http.MethodGet)

	v1.HandleFunc("/admin/reconcile", h.Reconcile).Methods(http.MethodPost)
	v1.HandleFunc("/admin/reset-budgets", h.ResetBudgets).Methods(http.MethodPost)
}

// orgHandler is a handler bound to the caller's organization.
type orgHandler func(w http.ResponseWriter, r *http.Request, orgID string)

// orgScoped rejects requests without an organization.
func (h *Handler) orgScoped(fn orgHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := middleware.OrganizationID(r)
		if orgID == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.CodeOrganizationRequired,
				middleware.OrganizationHeader+" header is required")
			return
		}
		fn(w, r, orgID)
	}
}

// RecordUsage handles POST /api/v1/usage. A new event is answered with 201,
// a duplicate provider request ID with 200.
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request, orgID string) {
	var req recordUsageRequest
	if err := decode(w, r, h.maxBodyBytes, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	rec := metering.RecordRequest{
		Provider:       req.Provider,
		Model:          req.Model,
		Raw:            req.Response,
		OrganizationID: orgID,
		UserID:         middleware.UserID(r),
		RequestID:      req.RequestID,
		Success:        req.Success == nil || *req.Success,
		Error:          req.Error,
		PromptText:     req.PromptText,
		CompletionText: req.CompletionText,
	}
	if req.Timestamp != nil {
		rec.Timestamp = *req.Timestamp
	}

	result, err := h.svc.RecordUsage(r.Context(), rec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	middleware.WriteJSON(w, status, result)
}

// QueryUsage handles GET /api/v1/usage.
func (h *Handler) QueryUsage(w http.ResponseWriter, r *http.Request, orgID string) {
	q, err := queryValues(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f, err := parseFilter(orgID, q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, err := h.svc.QueryUsage(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, page)
}

// UsageBreakdown handles GET /api/v1/usage/breakdown.
func (h *Handler) UsageBreakdown(w http.ResponseWriter, r *http.Request, orgID string) {
	q, err := queryValues(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	by, err := usage.ParseGroupBy(q.Get("group_by"))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	f, err := parseFilter(orgID, q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rows, err := h.svc.UsageBreakdown(r.Context(), f, by)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"group_by":   by,
		"aggregates": rows,
	})
}

// CheckSpendLimit handles GET /api/v1/spend-limit. Allowed decisions are
// answered with 200 and the decision body; rejections use the same
// statuses as the SpendLimit middleware.
func (h *Handler) CheckSpendLimit(w http.ResponseWriter, r *http.Request, orgID string) {
	d, _ := h.svc.CheckSpendLimit(r.Context(), orgID)
	if !d.Allowed {
		middleware.WriteRejection(w, d)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, d)
}

// CreateBudget handles POST /api/v1/budgets.
func (h *Handler) CreateBudget(w http.ResponseWriter, r *http.Request, orgID string) {
	var req createBudgetRequest
	if err := decode(w, r, h.maxBodyBytes, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.svc.CreateBudget(r.Context(), budget.Budget{
		OrganizationID:  orgID,
		UserID:          req.UserID,
		Name:            req.Name,
		Scope:           req.Scope,
		Amount:          req.Amount,
		Period:          req.Period,
		AlertThresholds: req.AlertThresholds,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, b)
}

// ListBudgets handles GET /api/v1/budgets.
func (h *Handler) ListBudgets(w http.ResponseWriter, r *http.Request, orgID string) {
	budgets, err := h.svc.ListBudgets(r.Context(), orgID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if budgets == nil {
		budgets = []*budget.Budget{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"budgets": budgets})
}

// GetBudget handles GET /api/v1/budgets/{id}.
func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request, orgID string) {
	b, ok := h.ownedBudget(w, r, orgID)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, b)
}

// GetBudgetStatus handles GET /api/v1/budgets/{id}/status.
func (h *Handler) GetBudgetStatus(w http.ResponseWriter, r *http.Request, orgID string) {
	b, ok := h.ownedBudget(w, r, orgID)
	if !ok {
		return
	}
	status, err := h.svc.GetBudgetStatus(r.Context(), b.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, status)
}

// DisableBudget handles DELETE /api/v1/budgets/{id}.
func (h *Handler) DisableBudget(w http.ResponseWriter, r *http.Request, orgID string) {
	b, ok := h.ownedBudget(w, r, orgID)
	if !ok {
		return
	}
	if err := h.svc.DisableBudget(r.Context(), b.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedBudget loads the budget named in the path. A budget of another
// organization is reported as not found.
func (h *Handler) ownedBudget(w http.ResponseWriter, r *http.Request, orgID string) (*budget.Budget, bool) {
	id := mux.Vars(r)["id"]
	b, err := h.svc.GetBudget(r.Context(), id)
	if err == nil && b.OrganizationID != orgID {
		err = fmt.Errorf("budget %s: %w", id, storage.ErrBudgetNotFound)
	}
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return b, true
}

// PutOrganization handles PUT /api/v1/organization. A null or missing
// spend_limit removes the hard limit.
func (h *Handler) PutOrganization(w http.ResponseWriter, r *http.Request, orgID string) {
	var req organizationRequest
	if err := decode(w, r, h.maxBodyBytes, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	o := tenant.Organization{ID: orgID, Name: req.Name, SpendLimit: req.SpendLimit}
	if existing, err := h.svc.GetOrganization(r.Context(), orgID); err == nil {
		o.CreatedAt = existing.CreatedAt
	}
	saved, err := h.svc.PutOrganization(r.Context(), o)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, saved)
}

// GetOrganization handles GET /api/v1/organization.
func (h *Handler) GetOrganization(w http.ResponseWriter, r *http.Request, orgID string) {
	o, err := h.svc.GetOrganization(r.Context(), orgID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, o)
}

// ListRecommendations handles GET /api/v1/recommendations.
func (h *Handler) ListRecommendations(w http.ResponseWriter, r *http.Request, orgID string) {
	recs, err := h.svc.ListRecommendations(r.Context(), orgID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []string{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"organization_id": orgID,
		"recommendations": recs,
	})
}

// pricingResponse is the body of GET /api/v1/pricing.
type pricingResponse struct {
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
	Input    float64 `json:"input_per_million"`
	Output   float64 `json:"output_per_million"`
	Fallback bool    `json:"fallback"`
}

// GetPricing handles GET /api/v1/pricing?provider=...&model=...
func (h *Handler) GetPricing(w http.ResponseWriter, r *http.Request) {
	q, err := queryValues(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	provider, model := strings.TrimSpace(q.Get("provider")), strings.TrimSpace(q.Get("model"))
	if provider == "" || model == "" {
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeBadRequest,
			"provider and model query parameters are required")
		return
	}
	rate, ok := h.svc.Pricing().Lookup(provider, model)
	middleware.WriteJSON(w, http.StatusOK, pricingResponse{
		Provider: usage.ParseProvider(provider).String(),
		Model:    model,
		Input:    rate.Input,
		Output:   rate.Output,
		Fallback: !ok,
	})
}

// Reconcile handles POST /api/v1/admin/reconcile. Budgets that failed to
// reconcile are counted in the report; the response is still 200.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Reconcile(r.Context())
	if report == nil {
		h.writeError(w, r, err)
		return
	}
	if err != nil {
		h.logger.WarnContext(r.Context(), "reconcile finished with errors", "error", err)
	}
	middleware.WriteJSON(w, http.StatusOK, report)
}

// ResetBudgets handles POST /api/v1/admin/reset-budgets.
func (h *Handler) ResetBudgets(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ResetExpiredBudgets(r.Context())
	resp := map[string]any{"reset": n, "at": time.Now().UTC()}
	if err != nil {
		h.logger.WarnContext(r.Context(), "budget reset finished with errors", "error", err)
		resp["error"] = err.Error()
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}
