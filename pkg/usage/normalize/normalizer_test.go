package normalize

import (
	"bytes"
	"log/slog"
	"math"
	"testing"
	"time"

	"spendwise-hq/meter/pkg/pricing"
	"spendwise-hq/meter/pkg/usage"
)

var fixedNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return New(Config{
		Pricing: pricing.NewTable(pricing.Config{Rates: pricing.DefaultRates, Logger: logger}),
		Logger:  logger,
		Now:     func() time.Time { return fixedNow },
		NewID:   func() string { return "ev-1" },
	})
}

func TestParseReport_Variants(t *testing.T) {
	tests := []struct {
		provider string
		raw      string
		check    func(t *testing.T, r Report)
	}{
		{
			provider: "openai",
			raw:      `{"model":"gpt-4o","usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`,
			check: func(t *testing.T, r Report) {
				if _, ok := r.(*OpenAIReport); !ok {
					t.Fatalf("expected *OpenAIReport, got %T", r)
				}
			},
		},
		{
			provider: "grok",
			raw:      `{"model":"grok-beta","usage":{"prompt_tokens":1,"completion_tokens":1}}`,
			check: func(t *testing.T, r Report) {
				if _, ok := r.(*XAIReport); !ok {
					t.Fatalf("expected *XAIReport, got %T", r)
				}
			},
		},
		{
			provider: "perplexity",
			raw:      `{"model":"llama-3.1-sonar-small","usage":{"prompt_tokens":1,"completion_tokens":1},"citations":["a","b"]}`,
			check: func(t *testing.T, r Report) {
				pr, ok := r.(*PerplexityReport)
				if !ok {
					t.Fatalf("expected *PerplexityReport, got %T", r)
				}
				if pr.Citations != 2 {
					t.Errorf("expected 2 citations, got %d", pr.Citations)
				}
			},
		},
		{
			provider: "claude",
			raw:      `{"model":"claude-3-5-sonnet-20241022","usage":{"input_tokens":7,"output_tokens":3}}`,
			check: func(t *testing.T, r Report) {
				if _, ok := r.(*AnthropicReport); !ok {
					t.Fatalf("expected *AnthropicReport, got %T", r)
				}
			},
		},
		{
			provider: "google",
			raw:      `{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`,
			check: func(t *testing.T, r Report) {
				if _, ok := r.(*GeminiReport); !ok {
					t.Fatalf("expected *GeminiReport, got %T", r)
				}
			},
		},
		{
			provider: "mistral",
			raw:      `{"model":"large","usage":{"input_tokens":4}}`,
			check: func(t *testing.T, r Report) {
				g, ok := r.(*GenericReport)
				if !ok {
					t.Fatalf("expected *GenericReport, got %T", r)
				}
				if g.Provider() != usage.Provider("mistral") {
					t.Errorf("unexpected provider %q", g.Provider())
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			r, err := ParseReport(tt.provider, []byte(tt.raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, r)
		})
	}
}

func TestParseReport_Errors(t *testing.T) {
	if _, err := ParseReport("openai", nil); err != ErrEmptyReport {
		t.Errorf("expected ErrEmptyReport, got %v", err)
	}
	r, err := ParseReport("anthropic", []byte(`{not json`))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if r != nil {
		t.Errorf("expected nil report on error, got %#v", r)
	}
}

func TestNormalize_Providers(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		name           string
		provider       string
		raw            string
		rc             RequestContext
		wantProvider   usage.Provider
		wantModel      string
		wantPrompt     int64
		wantCompletion int64
		wantEstimated  bool
		wantCost       float64
	}{
		{
			name:           "openai usage block",
			provider:       "openai",
			raw:            `{"model":"gpt-4o-2024-08-06","usage":{"prompt_tokens":1000,"completion_tokens":500}}`,
			wantProvider:   usage.ProviderOpenAI,
			wantModel:      "gpt-4o-2024-08-06",
			wantPrompt:     1000,
			wantCompletion: 500,
			wantCost:       0.0125,
		},
		{
			name:           "anthropic input and output tokens",
			provider:       "anthropic",
			raw:            `{"model":"claude-3-opus-20240229","usage":{"input_tokens":2000,"output_tokens":1000}}`,
			wantProvider:   usage.ProviderAnthropic,
			wantModel:      "claude-3-opus-20240229",
			wantPrompt:     2000,
			wantCompletion: 1000,
			wantCost:       0.105,
		},
		{
			name:     "gemini estimated from text",
			provider: "gemini",
			raw: `{"contents":[{"parts":[{"text":"abcdefghij"}]}],
			       "candidates":[{"content":{"parts":[{"text":"abcde"}]}}]}`,
			rc:             RequestContext{Model: "gemini-1.5-pro"},
			wantProvider:   usage.ProviderGemini,
			wantModel:      "gemini-1.5-pro",
			wantPrompt:     3,
			wantCompletion: 2,
			wantEstimated:  true,
			wantCost:       0.000014,
		},
		{
			name:           "gemini prefers request context text",
			provider:       "gemini",
			raw:            `{"candidates":[]}`,
			rc:             RequestContext{Model: "gemini-1.5-flash", PromptText: "12345678", CompletionText: "1"},
			wantProvider:   usage.ProviderGemini,
			wantModel:      "gemini-1.5-flash",
			wantPrompt:     2,
			wantCompletion: 1,
			wantEstimated:  true,
			wantCost:       0,
		},
		{
			name:           "gemini usage metadata is exact",
			provider:       "gemini",
			raw:            `{"modelVersion":"gemini-1.5-pro-002","usageMetadata":{"promptTokenCount":100000,"candidatesTokenCount":10000}}`,
			wantProvider:   usage.ProviderGemini,
			wantModel:      "gemini-1.5-pro-002",
			wantPrompt:     100000,
			wantCompletion: 10000,
			wantCost:       0.175,
		},
		{
			name:           "gemini character total splits 60/40",
			provider:       "gemini",
			raw:            `{"model":"gemini-1.5-pro","characters":80}`,
			wantProvider:   usage.ProviderGemini,
			wantModel:      "gemini-1.5-pro",
			wantPrompt:     12,
			wantCompletion: 8,
			wantEstimated:  true,
			wantCost:       0.000055,
		},
		{
			name:           "context model overrides body",
			provider:       "xai",
			raw:            `{"model":"grok-2","usage":{"prompt_tokens":1000000,"completion_tokens":0}}`,
			rc:             RequestContext{Model: "grok-beta"},
			wantProvider:   usage.ProviderXAI,
			wantModel:      "grok-beta",
			wantPrompt:     1000000,
			wantCompletion: 0,
			wantCost:       5,
		},
		{
			name:           "generic provider",
			provider:       "Mistral",
			raw:            `{"model":"mistral-large","usage":{"prompt_tokens":500000,"completion_tokens":500000}}`,
			wantProvider:   usage.Provider("mistral"),
			wantModel:      "mistral-large",
			wantPrompt:     500000,
			wantCompletion: 500000,
			wantCost:       1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := tt.rc
			rc.OrganizationID = "org-1"
			rc.Success = true

			ev, err := n.Normalize(tt.provider, []byte(tt.raw), rc)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev.Provider != tt.wantProvider {
				t.Errorf("provider: expected %q, got %q", tt.wantProvider, ev.Provider)
			}
			if ev.Model != tt.wantModel {
				t.Errorf("model: expected %q, got %q", tt.wantModel, ev.Model)
			}
			if ev.PromptTokens != tt.wantPrompt || ev.CompletionTokens != tt.wantCompletion {
				t.Errorf("tokens: expected %d/%d, got %d/%d", tt.wantPrompt, tt.wantCompletion, ev.PromptTokens, ev.CompletionTokens)
			}
			if ev.TotalTokens != ev.PromptTokens+ev.CompletionTokens {
				t.Errorf("total tokens %d != prompt+completion", ev.TotalTokens)
			}
			if ev.Estimated() != tt.wantEstimated {
				t.Errorf("estimated: expected %v, got %v", tt.wantEstimated, ev.Estimated())
			}
			if math.Abs(ev.Cost-tt.wantCost) > 1e-9 {
				t.Errorf("cost: expected %v, got %v", tt.wantCost, ev.Cost)
			}
			if !ev.Timestamp.Equal(fixedNow) {
				t.Errorf("expected default timestamp %v, got %v", fixedNow, ev.Timestamp)
			}
		})
	}
}

func TestNormalize_FailedCalls(t *testing.T) {
	n := newTestNormalizer()

	t.Run("no body is zero cost", func(t *testing.T) {
		ev, err := n.Normalize("openai", nil, RequestContext{
			OrganizationID: "org-1",
			Model:          "gpt-4o",
			Success:        false,
			Error:          "context deadline exceeded",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ev.Success || ev.Cost != 0 || ev.TotalTokens != 0 {
			t.Errorf("expected zero-cost failed event, got %+v", ev)
		}
		if ev.Metadata[usage.MetaError] != "context deadline exceeded" {
			t.Errorf("expected error metadata, got %v", ev.Metadata)
		}
		if _, ok := ev.Metadata["parse_error"]; ok {
			t.Error("an empty body on a failed call is not a parse error")
		}
	})

	t.Run("partial usage is priced", func(t *testing.T) {
		ev, err := n.Normalize("anthropic", []byte(`{"usage":{"input_tokens":1000000,"output_tokens":0}}`), RequestContext{
			OrganizationID: "org-1",
			Model:          "claude-3-5-sonnet-20241022",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ev.Success {
			t.Error("expected failed event")
		}
		if ev.Cost != 3 {
			t.Errorf("expected partial usage cost 3, got %v", ev.Cost)
		}
		if ev.Metadata[usage.MetaError] != "provider call failed" {
			t.Errorf("expected default error message, got %v", ev.Metadata)
		}
	})

	t.Run("malformed body is recovered", func(t *testing.T) {
		ev, err := n.Normalize("openai", []byte(`<html>502 Bad Gateway</html>`), RequestContext{
			OrganizationID: "org-1",
			Model:          "gpt-4o",
			RequestID:      "req-9",
		})
		if err != nil {
			t.Fatalf("malformed body must not prevent the event: %v", err)
		}
		if ev.Metadata["parse_error"] == "" {
			t.Error("expected parse error metadata")
		}
		if ev.RequestID != "req-9" {
			t.Errorf("expected request id to be kept, got %q", ev.RequestID)
		}
	})
}

func TestNormalize_FailedCallsAreNeverEstimated(t *testing.T) {
	n := newTestNormalizer()
	prompt := "Summarize the quarterly report in detail."

	tests := []struct {
		name     string
		provider string
		body     string
	}{
		{"openai error body", "openai", `{"error":{"message":"rate limited","type":"rate_limit_error"}}`},
		{"html gateway error", "openai", `<html>504 Gateway Timeout</html>`},
		{"anthropic error body", "anthropic", `{"type":"error","error":{"type":"overloaded_error"}}`},
		{"gemini error body", "gemini", `{"error":{"code":500,"message":"internal"}}`},
		{"generic error body", "mistral", `{"message":"upstream failed"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := n.Normalize(tt.provider, []byte(tt.body), RequestContext{
				OrganizationID: "org-1",
				Model:          "gpt-4o",
				PromptText:     prompt,
				CompletionText: "partial answer",
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev.Cost != 0 || ev.PromptTokens != 0 || ev.CompletionTokens != 0 {
				t.Errorf("failed call without reported usage must be free, got cost=%v prompt=%d completion=%d",
					ev.Cost, ev.PromptTokens, ev.CompletionTokens)
			}
			if _, ok := ev.Metadata[usage.MetaEstimated]; ok {
				t.Errorf("failed call must not be estimated, metadata %v", ev.Metadata)
			}
		})
	}

	t.Run("successful call is still estimated", func(t *testing.T) {
		ev, err := n.Normalize("openai", []byte(`{"model":"gpt-4o"}`), RequestContext{
			OrganizationID: "org-1",
			PromptText:     prompt,
			Success:        true,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ev.PromptTokens == 0 || ev.Metadata[usage.MetaEstimated] != "true" {
			t.Errorf("expected estimated prompt tokens, got %+v", ev)
		}
	})
}

func TestNormalize_Validation(t *testing.T) {
	n := newTestNormalizer()

	if _, err := n.Normalize("", []byte(`{}`), RequestContext{OrganizationID: "org-1"}); err != ErrMissingProvider {
		t.Errorf("expected ErrMissingProvider, got %v", err)
	}
	if _, err := n.Normalize("openai", []byte(`{}`), RequestContext{}); err != ErrMissingOrganization {
		t.Errorf("expected ErrMissingOrganization, got %v", err)
	}
}

func TestNormalize_FallbackPricing(t *testing.T) {
	n := newTestNormalizer()

	ev, err := n.Normalize("openai", []byte(`{"usage":{"prompt_tokens":1000000,"completion_tokens":1000000}}`), RequestContext{
		OrganizationID: "org-1",
		Success:        true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Model != UnknownModel {
		t.Errorf("expected %q model, got %q", UnknownModel, ev.Model)
	}
	if ev.Cost != 2 {
		t.Errorf("expected fallback cost 2, got %v", ev.Cost)
	}
	if ev.Metadata[usage.MetaPricing] != "fallback" {
		t.Errorf("expected fallback pricing metadata, got %v", ev.Metadata)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int64
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"héllo wörld", 3},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}
