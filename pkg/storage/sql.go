package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"spendwise-hq/meter/pkg/budget"
	"spendwise-hq/meter/pkg/tenant"
	"spendwise-hq/meter/pkg/usage"
)

// dialect holds what differs between the SQL backends. Queries are written
// with ? placeholders and rebound for the driver by sqlx.
type dialect struct {
	name   string
	schema string

	// dayKey renders the ts column as a UTC 2006-01-02 date.
	dayKey string
}

// SQLStore implements Store on a relational database. Timestamps are
// stored as Unix nanoseconds so range predicates compare integers.
type SQLStore struct {
	db      *sqlx.DB
	dialect dialect
	limits  Limits
	logger  *slog.Logger
	now     func() time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newSQLStore(db *sqlx.DB, d dialect, limits Limits, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{
		db:      db,
		dialect: d,
		limits:  limits.withDefaults(),
		logger:  logger.With("component", "storage."+d.name),
		now:     time.Now,
		done:    make(chan struct{}),
	}
}

// Migrate creates the schema if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(s.dialect.schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

type eventRow struct {
	ID               string  `db:"id"`
	OrganizationID   string  `db:"organization_id"`
	UserID           string  `db:"user_id"`
	Provider         string  `db:"provider"`
	Model            string  `db:"model"`
	PromptTokens     int64   `db:"prompt_tokens"`
	CompletionTokens int64   `db:"completion_tokens"`
	TotalTokens      int64   `db:"total_tokens"`
	Cost             float64 `db:"cost"`
	Timestamp        int64   `db:"ts"`
	RequestID        string  `db:"request_id"`
	Success          bool    `db:"success"`
	Metadata         string  `db:"metadata"`
}

func (r *eventRow) event() (*usage.Event, error) {
	e := &usage.Event{
		ID:               r.ID,
		OrganizationID:   r.OrganizationID,
		UserID:           r.UserID,
		Provider:         usage.Provider(r.Provider),
		Model:            r.Model,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.TotalTokens,
		Cost:             r.Cost,
		Timestamp:        fromNanos(r.Timestamp),
		RequestID:        r.RequestID,
		Success:          r.Success,
	}
	if r.Metadata != "" && r.Metadata != "{}" {
		if err := json.Unmarshal([]byte(r.Metadata), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of event %s: %w", r.ID, err)
		}
	}
	return e, nil
}

const eventColumns = `id, organization_id, user_id, provider, model, prompt_tokens,
	completion_tokens, total_tokens, cost, ts, request_id, success, metadata`

// InsertUsageEvent implements Store.
func (s *SQLStore) InsertUsageEvent(ctx context.Context, e *usage.Event) (bool, error) {
	if e == nil || e.ID == "" {
		return false, fmt.Errorf("event id cannot be empty")
	}

	meta := []byte("{}")
	if len(e.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(e.Metadata); err != nil {
			return false, fmt.Errorf("failed to encode metadata: %w", err)
		}
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO usage_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, request_id) WHERE request_id <> '' DO NOTHING`),
		e.ID, e.OrganizationID, e.UserID, string(e.Provider), e.Model,
		e.PromptTokens, e.CompletionTokens, e.TotalTokens, e.Cost,
		toNanos(e.Timestamp), e.RequestID, e.Success, string(meta),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert usage event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n > 0, nil
}

// where renders the filter as a WHERE clause with ? placeholders.
func where(f usage.Filter) (string, []any) {
	conds := []string{"organization_id = ?"}
	args := []any{f.OrganizationID}

	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Provider != "" {
		conds = append(conds, "provider = ?")
		args = append(args, string(f.Provider))
	}
	if f.Model != "" {
		conds = append(conds, "model = ?")
		args = append(args, f.Model)
	}
	if f.Success != nil {
		conds = append(conds, "success = ?")
		args = append(args, *f.Success)
	}
	if !f.From.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, toNanos(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "ts < ?")
		args = append(args, toNanos(f.To))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// QueryUsageEvents implements Store.
func (s *SQLStore) QueryUsageEvents(ctx context.Context, f usage.Filter) (*usage.Page, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	offset, err := usage.DecodeCursor(f.Cursor)
	if err != nil {
		return nil, err
	}
	limit := f.ClampLimit(s.limits.Default, s.limits.Max)

	clause, args := where(f)
	// One extra row tells whether another page exists.
	args = append(args, limit+1, offset)

	var rows []eventRow
	q := s.db.Rebind(`SELECT ` + eventColumns + ` FROM usage_events` + clause +
		` ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?`)
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("failed to query usage events: %w", err)
	}

	page := &usage.Page{Events: make([]*usage.Event, 0, len(rows))}
	if len(rows) > limit {
		rows = rows[:limit]
		page.NextCursor = usage.EncodeCursor(offset + limit)
	}
	for i := range rows {
		e, err := rows[i].event()
		if err != nil {
			return nil, err
		}
		page.Events = append(page.Events, e)
	}
	return page, nil
}

type aggregateRow struct {
	Key              string  `db:"group_key"`
	Requests         int64   `db:"requests"`
	FailedRequests   int64   `db:"failed_requests"`
	PromptTokens     int64   `db:"prompt_tokens"`
	CompletionTokens int64   `db:"completion_tokens"`
	Cost             float64 `db:"cost"`
}

// AggregateUsage implements Store.
func (s *SQLStore) AggregateUsage(ctx context.Context, f usage.Filter, by usage.GroupBy) ([]usage.Aggregate, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var key string
	switch by {
	case usage.GroupByModel:
		key = "model"
	case usage.GroupByDay:
		key = s.dialect.dayKey
	default:
		key = "provider"
	}

	clause, args := where(f)
	q := s.db.Rebind(`SELECT ` + key + ` AS group_key,
		COUNT(*) AS requests,
		COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0) AS failed_requests,
		COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
		COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
		COALESCE(SUM(cost), 0) AS cost
		FROM usage_events` + clause + ` GROUP BY group_key ORDER BY group_key`)

	var rows []aggregateRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}

	out := make([]usage.Aggregate, 0, len(rows))
	for _, r := range rows {
		out = append(out, usage.Aggregate{
			Key:              r.Key,
			Requests:         r.Requests,
			FailedRequests:   r.FailedRequests,
			PromptTokens:     r.PromptTokens,
			CompletionTokens: r.CompletionTokens,
			Cost:             round6(r.Cost),
		})
	}
	return out, nil
}

// SumCost implements Store.
func (s *SQLStore) SumCost(ctx context.Context, f usage.Filter) (float64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	clause, args := where(f)

	var total float64
	q := s.db.Rebind(`SELECT COALESCE(SUM(cost), 0) FROM usage_events` + clause)
	if err := s.db.GetContext(ctx, &total, q, args...); err != nil {
		return 0, fmt.Errorf("failed to sum cost: %w", err)
	}
	return round6(total), nil
}

type budgetRow struct {
	ID                   string  `db:"id"`
	OrganizationID       string  `db:"organization_id"`
	UserID               string  `db:"user_id"`
	Name                 string  `db:"name"`
	Scope                string  `db:"scope"`
	Amount               float64 `db:"amount"`
	Period               string  `db:"period"`
	PeriodStart          int64   `db:"period_start"`
	PeriodEnd            int64   `db:"period_end"`
	Spent                float64 `db:"spent"`
	AlertThresholds      string  `db:"alert_thresholds"`
	LastAlertedThreshold int     `db:"last_alerted_threshold"`
	IsActive             bool    `db:"is_active"`
	CreatedAt            int64   `db:"created_at"`
	UpdatedAt            int64   `db:"updated_at"`
}

func (r *budgetRow) budget() (*budget.Budget, error) {
	b := &budget.Budget{
		ID:                   r.ID,
		OrganizationID:       r.OrganizationID,
		UserID:               r.UserID,
		Name:                 r.Name,
		Scope:                budget.Scope(r.Scope),
		Amount:               r.Amount,
		Period:               budget.Period(r.Period),
		PeriodStart:          fromNanos(r.PeriodStart),
		PeriodEnd:            fromNanos(r.PeriodEnd),
		Spent:                r.Spent,
		LastAlertedThreshold: r.LastAlertedThreshold,
		IsActive:             r.IsActive,
		CreatedAt:            fromNanos(r.CreatedAt),
		UpdatedAt:            fromNanos(r.UpdatedAt),
	}
	if r.AlertThresholds != "" {
		if err := json.Unmarshal([]byte(r.AlertThresholds), &b.AlertThresholds); err != nil {
			return nil, fmt.Errorf("failed to decode thresholds of budget %s: %w", r.ID, err)
		}
	}
	return b, nil
}

const budgetColumns = `id, organization_id, user_id, name, scope, amount, period,
	period_start, period_end, spent, alert_thresholds, last_alerted_threshold,
	is_active, created_at, updated_at`

// CreateBudget implements Store.
func (s *SQLStore) CreateBudget(ctx context.Context, b *budget.Budget) error {
	if b == nil || b.ID == "" {
		return fmt.Errorf("budget id cannot be empty")
	}

	thresholds := ""
	if len(b.AlertThresholds) > 0 {
		raw, err := json.Marshal(b.AlertThresholds)
		if err != nil {
			return fmt.Errorf("failed to encode thresholds: %w", err)
		}
		thresholds = string(raw)
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO budgets (`+budgetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		b.ID, b.OrganizationID, b.UserID, b.Name, string(b.Scope), b.Amount, string(b.Period),
		toNanos(b.PeriodStart), toNanos(b.PeriodEnd), b.Spent, thresholds,
		b.LastAlertedThreshold, b.IsActive, toNanos(b.CreatedAt), toNanos(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create budget: %w", err)
	}
	return nil
}

// GetBudget implements Store.
func (s *SQLStore) GetBudget(ctx context.Context, id string) (*budget.Budget, error) {
	var row budgetRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+budgetColumns+` FROM budgets WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBudgetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}
	return row.budget()
}

// ListActiveBudgets implements Store.
func (s *SQLStore) ListActiveBudgets(ctx context.Context, organizationID string) ([]*budget.Budget, error) {
	q := `SELECT ` + budgetColumns + ` FROM budgets WHERE is_active = ?`
	args := []any{true}
	if organizationID != "" {
		q += ` AND organization_id = ?`
		args = append(args, organizationID)
	}
	q += ` ORDER BY created_at, id`

	var rows []budgetRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("failed to list budgets: %w", err)
	}

	out := make([]*budget.Budget, 0, len(rows))
	for i := range rows {
		b, err := rows[i].budget()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// UpdateBudgetSpent implements Store. The increment is a single-row
// UPDATE so concurrent writers never lose an update.
func (s *SQLStore) UpdateBudgetSpent(ctx context.Context, id string, delta float64) error {
	return s.execBudget(ctx, id, `UPDATE budgets SET spent = spent + ?, updated_at = ? WHERE id = ?`,
		delta, toNanos(s.now()), id)
}

// SetBudgetSpent implements Store.
func (s *SQLStore) SetBudgetSpent(ctx context.Context, id string, periodStart time.Time, spent float64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE budgets SET spent = ?, updated_at = ?
		WHERE id = ? AND period_start = ?`),
		spent, toNanos(s.now()), id, toNanos(periodStart),
	)
	if err != nil {
		return false, fmt.Errorf("failed to set budget spend: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return true, nil
	}
	return false, s.mustExist(ctx, id)
}

// DisableBudget implements Store.
func (s *SQLStore) DisableBudget(ctx context.Context, id string) error {
	return s.execBudget(ctx, id, `UPDATE budgets SET is_active = ?, updated_at = ? WHERE id = ?`,
		false, toNanos(s.now()), id)
}

// ResetBudgetPeriod implements Store.
func (s *SQLStore) ResetBudgetPeriod(ctx context.Context, id string, prevStart, start, end time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE budgets
		SET period_start = ?, period_end = ?, spent = 0, last_alerted_threshold = 0, updated_at = ?
		WHERE id = ? AND period_start = ?`),
		toNanos(start), toNanos(end), toNanos(s.now()), id, toNanos(prevStart),
	)
	if err != nil {
		return false, fmt.Errorf("failed to reset budget period: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read reset result: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	return false, s.mustExist(ctx, id)
}

// SetLastAlertedThreshold implements Store.
func (s *SQLStore) SetLastAlertedThreshold(ctx context.Context, id string, periodStart time.Time, threshold int) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE budgets SET last_alerted_threshold = ?, updated_at = ?
		WHERE id = ? AND period_start = ? AND last_alerted_threshold < ?`),
		threshold, toNanos(s.now()), id, toNanos(periodStart), threshold,
	)
	if err != nil {
		return fmt.Errorf("failed to set last alerted threshold: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	return s.mustExist(ctx, id)
}

// execBudget runs a single-row budget UPDATE and maps zero affected rows
// to ErrBudgetNotFound.
func (s *SQLStore) execBudget(ctx context.Context, id, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return fmt.Errorf("failed to update budget %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return ErrBudgetNotFound
	}
	return nil
}

func (s *SQLStore) mustExist(ctx context.Context, id string) error {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM budgets WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to look up budget: %w", err)
	}
	if n == 0 {
		return ErrBudgetNotFound
	}
	return nil
}

type organizationRow struct {
	ID         string          `db:"id"`
	Name       string          `db:"name"`
	SpendLimit sql.NullFloat64 `db:"spend_limit"`
	CreatedAt  int64           `db:"created_at"`
	UpdatedAt  int64           `db:"updated_at"`
}

// PutOrganization implements Store. An existing organization keeps its
// creation time.
func (s *SQLStore) PutOrganization(ctx context.Context, o *tenant.Organization) error {
	if err := o.Validate(); err != nil {
		return err
	}
	limit := sql.NullFloat64{}
	if o.SpendLimit != nil {
		limit = sql.NullFloat64{Float64: *o.SpendLimit, Valid: true}
	}

	created := o.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	updated := o.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO organizations (id, name, spend_limit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			spend_limit = excluded.spend_limit,
			updated_at = excluded.updated_at`),
		o.ID, o.Name, limit, toNanos(created), toNanos(updated),
	)
	if err != nil {
		return fmt.Errorf("failed to put organization: %w", err)
	}
	return nil
}

// GetOrganization implements Store.
func (s *SQLStore) GetOrganization(ctx context.Context, id string) (*tenant.Organization, error) {
	var row organizationRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, name, spend_limit, created_at, updated_at FROM organizations WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	o := &tenant.Organization{
		ID:        row.ID,
		Name:      row.Name,
		CreatedAt: fromNanos(row.CreatedAt),
		UpdatedAt: fromNanos(row.UpdatedAt),
	}
	if row.SpendLimit.Valid {
		o.SpendLimit = tenant.Float(row.SpendLimit.Float64)
	}
	return o, nil
}

// Ping implements Store.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops background work and closes the database.
func (s *SQLStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
