package pricing

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"spendwise-hq/meter/pkg/config"
	"spendwise-hq/meter/pkg/telemetry/metrics"
	"spendwise-hq/meter/pkg/usage"
)

// Direction selects the input (prompt) or output (completion) price.
type Direction string

// Price directions.
const (
	Input  Direction = "input"
	Output Direction = "output"
)

// Precision is the number of decimal places costs are rounded to.
const Precision = 6

// Rate is a model's price in USD per million tokens.
type Rate struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// For returns the price for direction d.
func (r Rate) For(d Direction) float64 {
	if d == Output {
		return r.Output
	}
	return r.Input
}

// Rates maps provider to model to rate.
type Rates map[usage.Provider]map[string]Rate

// FallbackRate is charged for unknown models when none is configured.
var FallbackRate = Rate{Input: 1.00, Output: 1.00}

// Config contains configuration for a Table.
type Config struct {
	// Rates is the price table. Model keys also match any model name they
	// are a prefix of.
	Rates Rates

	// Fallback is charged when no rate matches.
	Fallback Rate

	// Logger receives fallback warnings. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics counts fallback lookups. May be nil.
	Metrics *metrics.Collector
}

type snapshot struct {
	rates    map[usage.Provider]map[string]Rate
	prefixes map[usage.Provider][]string
	fallback Rate
}

// Table resolves model prices. It is safe for concurrent use and can be
// swapped wholesale with Update while lookups are in flight.
type Table struct {
	snap    atomic.Pointer[snapshot]
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewTable creates a price table. A zero Fallback uses FallbackRate.
func NewTable(cfg Config) *Table {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := &Table{
		logger:  logger.With("component", "pricing"),
		metrics: cfg.Metrics,
	}
	t.Update(cfg.Rates, cfg.Fallback)
	return t
}

// NewTableFromConfig creates a price table from the pricing config section.
func NewTableFromConfig(cfg config.PricingConfig, logger *slog.Logger, m *metrics.Collector) *Table {
	rates, fallback := RatesFromConfig(cfg)
	return NewTable(Config{Rates: rates, Fallback: fallback, Logger: logger, Metrics: m})
}

// RatesFromConfig merges configured model prices over the built-in table
// and returns the result with the fallback rate.
func RatesFromConfig(cfg config.PricingConfig) (Rates, Rate) {
	rates := make(Rates)
	if !cfg.DisableBuiltin {
		rates = DefaultRates.Clone()
	}
	for provider, models := range cfg.Models {
		p := usage.ParseProvider(provider)
		if rates[p] == nil {
			rates[p] = make(map[string]Rate, len(models))
		}
		for model, price := range models {
			rates[p][strings.ToLower(model)] = Rate{Input: price.Input, Output: price.Output}
		}
	}
	return rates, Rate{Input: cfg.Fallback.Input, Output: cfg.Fallback.Output}
}

// Update replaces the price table atomically.
func (t *Table) Update(rates Rates, fallback Rate) {
	if fallback == (Rate{}) {
		fallback = FallbackRate
	}

	s := &snapshot{
		rates:    make(map[usage.Provider]map[string]Rate, len(rates)),
		prefixes: make(map[usage.Provider][]string, len(rates)),
		fallback: fallback,
	}
	for provider, models := range rates {
		p := usage.ParseProvider(string(provider))
		m := make(map[string]Rate, len(models))
		keys := make([]string, 0, len(models))
		for model, rate := range models {
			key := strings.ToLower(model)
			m[key] = rate
			keys = append(keys, key)
		}
		// Longest key first so the most specific prefix wins.
		sort.Slice(keys, func(i, j int) bool {
			if len(keys[i]) != len(keys[j]) {
				return len(keys[i]) > len(keys[j])
			}
			return keys[i] < keys[j]
		})
		s.rates[p] = m
		s.prefixes[p] = keys
	}
	t.snap.Store(s)
}

// Lookup returns the rate for (provider, model). The second result is
// false when the fallback rate was used. Lookup does not log.
func (t *Table) Lookup(provider, model string) (Rate, bool) {
	s := t.snap.Load()
	p := usage.ParseProvider(provider)
	key := strings.ToLower(strings.TrimSpace(model))

	if models, ok := s.rates[p]; ok {
		if rate, ok := models[key]; ok {
			return rate, true
		}
		for _, prefix := range s.prefixes[p] {
			if strings.HasPrefix(key, prefix) {
				return models[prefix], true
			}
		}
	}
	return s.fallback, false
}

// Price returns the USD price per million tokens for (provider, model) in
// direction d. Unknown pairs are charged the fallback rate with a warning.
func (t *Table) Price(provider, model string, d Direction) float64 {
	rate, ok := t.Lookup(provider, model)
	if !ok {
		t.warnFallback(provider, model)
	}
	return rate.For(d)
}

// Cost prices a call and rounds the result to Precision decimal places.
// The second result reports whether the fallback rate was charged.
func (t *Table) Cost(provider, model string, promptTokens, completionTokens int64) (float64, bool) {
	rate, ok := t.Lookup(provider, model)
	if !ok {
		t.warnFallback(provider, model)
	}
	return ComputeCost(rate, promptTokens, completionTokens), !ok
}

// Snapshot returns a copy of the current rates and fallback.
func (t *Table) Snapshot() (Rates, Rate) {
	s := t.snap.Load()
	return Rates(s.rates).Clone(), s.fallback
}

func (t *Table) warnFallback(provider, model string) {
	t.logger.Warn("no price for model, charging fallback rate",
		"provider", provider,
		"model", model,
	)
	t.metrics.RecordPricingFallback(string(usage.ParseProvider(provider)))
}

// ComputeCost returns (prompt/1e6)*rate.Input + (completion/1e6)*rate.Output
// rounded to Precision decimal places. Negative token counts count as zero.
func ComputeCost(rate Rate, promptTokens, completionTokens int64) float64 {
	cost := 0.0
	if promptTokens > 0 {
		cost += float64(promptTokens) / 1e6 * rate.Input
	}
	if completionTokens > 0 {
		cost += float64(completionTokens) / 1e6 * rate.Output
	}
	return Round(cost)
}

// Round rounds x to Precision decimal places.
func Round(x float64) float64 {
	const scale = 1e6
	return math.Round(x*scale) / scale
}

// Clone returns a deep copy of r.
func (r Rates) Clone() Rates {
	out := make(Rates, len(r))
	for p, models := range r {
		m := make(map[string]Rate, len(models))
		for k, v := range models {
			m[k] = v
		}
		out[p] = m
	}
	return out
}
