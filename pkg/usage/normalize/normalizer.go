package normalize

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"spendwise-hq/meter/pkg/pricing"
	"spendwise-hq/meter/pkg/usage"

	"github.com/google/uuid"
)

// UnknownModel is recorded when neither the caller nor the provider named
// the model.
const UnknownModel = "unknown"

// ErrMissingOrganization is returned when a call is not attributed to an
// organization.
var ErrMissingOrganization = errors.New("organization id is required")

// ErrMissingProvider is returned when no provider is given.
var ErrMissingProvider = errors.New("provider is required")

// RequestContext describes the call a provider response belongs to.
type RequestContext struct {
	OrganizationID string
	UserID         string

	// Model overrides the model named in the response body.
	Model string

	// RequestID is the provider request ID used for deduplication.
	RequestID string

	// Success is false for non-2xx responses, timeouts and transport errors.
	Success bool

	// Error is the failure message recorded for unsuccessful calls.
	Error string

	// PromptText and CompletionText are used to estimate tokens when the
	// provider does not report counts.
	PromptText     string
	CompletionText string

	// Timestamp is when the call completed. Zero means now.
	Timestamp time.Time
}

// Config contains configuration for a Normalizer.
type Config struct {
	// Pricing prices normalized events. Defaults to the built-in rates.
	Pricing *pricing.Table

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time

	// NewID defaults to random UUIDs.
	NewID func() string
}

// Normalizer turns provider responses into priced usage events.
type Normalizer struct {
	pricing *pricing.Table
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// New creates a Normalizer.
func New(cfg Config) *Normalizer {
	n := &Normalizer{
		pricing: cfg.Pricing,
		logger:  cfg.Logger,
		now:     cfg.Now,
		newID:   cfg.NewID,
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	if n.pricing == nil {
		n.pricing = pricing.NewTable(pricing.Config{Rates: pricing.DefaultRates, Logger: n.logger})
	}
	n.logger = n.logger.With("component", "normalizer")
	if n.now == nil {
		n.now = time.Now
	}
	if n.newID == nil {
		n.newID = func() string { return uuid.NewString() }
	}
	return n
}

// Normalize converts a raw provider response into a usage event.
//
// A response body that cannot be parsed never prevents the event from
// being produced: the parse error is logged and recorded in metadata, and
// tokens fall back to estimation from the request context when it carries
// text. Failed calls produce an event with Success=false, priced only on
// the partial usage the body reports and never estimated.
func (n *Normalizer) Normalize(provider string, raw []byte, rc RequestContext) (*usage.Event, error) {
	if strings.TrimSpace(provider) == "" {
		return nil, ErrMissingProvider
	}
	if rc.OrganizationID == "" {
		return nil, ErrMissingOrganization
	}

	p := usage.ParseProvider(provider)
	meta := make(map[string]string)

	var counts TokenCounts
	model := rc.Model
	report, err := ParseReport(provider, raw)
	switch {
	case err == nil:
		// A failed call is charged only for usage the provider reported.
		if rc.Success || report.UsageReported() {
			counts = report.Tokens(rc)
		}
		if model == "" {
			model = report.ModelID()
		}
	case rc.Success || !errors.Is(err, ErrEmptyReport):
		n.logger.Warn("unparseable provider response, recording event without reported usage",
			"provider", p,
			"request_id", rc.RequestID,
			"error", err,
		)
		meta["parse_error"] = err.Error()
		if rc.Success {
			counts = estimateCounts(rc.PromptText, rc.CompletionText)
		}
	}
	if model == "" {
		model = UnknownModel
	}

	if counts.Prompt < 0 {
		counts.Prompt = 0
	}
	if counts.Completion < 0 {
		counts.Completion = 0
	}
	if counts.Estimated {
		meta[usage.MetaEstimated] = "true"
	}
	for k, v := range counts.Extra {
		meta[k] = v
	}
	if !rc.Success {
		msg := rc.Error
		if msg == "" {
			msg = "provider call failed"
		}
		meta[usage.MetaError] = msg
	}

	cost, fallback := n.price(p, model, counts)
	if fallback {
		meta[usage.MetaPricing] = "fallback"
	}

	ts := rc.Timestamp
	if ts.IsZero() {
		ts = n.now()
	}

	ev := &usage.Event{
		ID:               n.newID(),
		OrganizationID:   rc.OrganizationID,
		UserID:           rc.UserID,
		Provider:         p,
		Model:            model,
		PromptTokens:     counts.Prompt,
		CompletionTokens: counts.Completion,
		TotalTokens:      counts.Prompt + counts.Completion,
		Cost:             cost,
		Timestamp:        ts.UTC(),
		RequestID:        rc.RequestID,
		Success:          rc.Success,
	}
	if len(meta) > 0 {
		ev.Metadata = meta
	}
	return ev, nil
}

// price returns the cost of counts. Calls with no tokens are free and never
// consult the table, so failed calls without usage do not log fallbacks.
func (n *Normalizer) price(p usage.Provider, model string, counts TokenCounts) (float64, bool) {
	if counts.Prompt == 0 && counts.Completion == 0 {
		return 0, false
	}
	return n.pricing.Cost(string(p), model, counts.Prompt, counts.Completion)
}
