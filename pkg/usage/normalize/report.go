package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"spendwise-hq/meter/pkg/usage"
)

// ErrEmptyReport is returned when a provider response body is empty.
var ErrEmptyReport = errors.New("empty provider response")

// Report is a parsed provider response. Each provider has its own variant
// with its own wire shape; callers switch on the concrete type when they
// need provider-specific fields.
type Report interface {
	// Provider is the provider the report was parsed for.
	Provider() usage.Provider

	// ModelID is the model named in the response body, if any.
	ModelID() string

	// Tokens returns the token counts of the call. Providers that do not
	// report counts are estimated from text and flagged.
	Tokens(rc RequestContext) TokenCounts

	// UsageReported reports whether the body carried token counts.
	UsageReported() bool
}

// TokenCounts are the token figures extracted from a report.
type TokenCounts struct {
	Prompt     int64
	Completion int64
	Estimated  bool

	// Extra holds provider-specific figures recorded as event metadata.
	Extra map[string]string
}

// chatCompletion is the OpenAI chat completion wire shape, also spoken by
// xAI and Perplexity.
type chatCompletion struct {
	Model string `json:"model"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
}

// completionFields are the figures shared by the OpenAI-shaped variants.
type completionFields struct {
	Model            string
	HasUsage         bool
	PromptTokens     int64
	CompletionTokens int64
	CompletionText   string
}

func parseChatCompletion(raw []byte) (completionFields, error) {
	var body chatCompletion
	if err := json.Unmarshal(raw, &body); err != nil {
		return completionFields{}, err
	}
	f := completionFields{Model: body.Model}
	if body.Usage != nil {
		f.HasUsage = true
		f.PromptTokens = body.Usage.PromptTokens
		f.CompletionTokens = body.Usage.CompletionTokens
	}
	for _, c := range body.Choices {
		f.CompletionText += c.Message.Content + c.Text
	}
	return f, nil
}

func (f completionFields) UsageReported() bool { return f.HasUsage }

func (f completionFields) tokens(rc RequestContext) TokenCounts {
	if f.HasUsage {
		return TokenCounts{Prompt: f.PromptTokens, Completion: f.CompletionTokens}
	}
	return estimateCounts(rc.PromptText, firstNonEmpty(rc.CompletionText, f.CompletionText))
}

// OpenAIReport is an OpenAI chat completion response.
type OpenAIReport struct {
	completionFields
}

func parseOpenAI(raw []byte) (*OpenAIReport, error) {
	f, err := parseChatCompletion(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse openai response: %w", err)
	}
	return &OpenAIReport{completionFields: f}, nil
}

func (r *OpenAIReport) Provider() usage.Provider { return usage.ProviderOpenAI }
func (r *OpenAIReport) ModelID() string { return r.Model }
func (r *OpenAIReport) Tokens(rc RequestContext) TokenCounts { return r.tokens(rc) }

// XAIReport is an xAI (Grok) chat completion response.
type XAIReport struct {
	completionFields
}

func parseXAI(raw []byte) (*XAIReport, error) {
	f, err := parseChatCompletion(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse xai response: %w", err)
	}
	return &XAIReport{completionFields: f}, nil
}

func (r *XAIReport) Provider() usage.Provider { return usage.ProviderXAI }
func (r *XAIReport) ModelID() string { return r.Model }
func (r *XAIReport) Tokens(rc RequestContext) TokenCounts { return r.tokens(rc) }

// PerplexityReport is a Perplexity chat completion response. Citations is
// the number of sources the answer cited.
type PerplexityReport struct {
	completionFields
	Citations int
}

func parsePerplexity(raw []byte) (*PerplexityReport, error) {
	f, err := parseChatCompletion(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse perplexity response: %w", err)
	}
	var extra struct {
		Citations []json.RawMessage `json:"citations"`
	}
	_ = json.Unmarshal(raw, &extra)
	return &PerplexityReport{completionFields: f, Citations: len(extra.Citations)}, nil
}

func (r *PerplexityReport) Provider() usage.Provider { return usage.ProviderPerplexity }
func (r *PerplexityReport) ModelID() string { return r.Model }

func (r *PerplexityReport) Tokens(rc RequestContext) TokenCounts {
	tc := r.tokens(rc)
	if r.Citations > 0 {
		tc.Extra = map[string]string{"citations": strconv.Itoa(r.Citations)}
	}
	return tc
}

// AnthropicReport is an Anthropic messages API response. Prompt tokens are
// input_tokens; cache figures are kept as metadata.
type AnthropicReport struct {
	Model                    string
	HasUsage                 bool
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
	CompletionText           string
}

func parseAnthropic(raw []byte) (*AnthropicReport, error) {
	var body struct {
		Model string `json:"model"`
		Usage *struct {
			InputTokens              int64 `json:"input_tokens"`
			OutputTokens             int64 `json:"output_tokens"`
			CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
			CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
		} `json:"usage"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to parse anthropic response: %w", err)
	}

	r := &AnthropicReport{Model: body.Model}
	if body.Usage != nil {
		r.HasUsage = true
		r.InputTokens = body.Usage.InputTokens
		r.OutputTokens = body.Usage.OutputTokens
		r.CacheCreationInputTokens = body.Usage.CacheCreationInputTokens
		r.CacheReadInputTokens = body.Usage.CacheReadInputTokens
	}
	for _, c := range body.Content {
		if c.Type == "" || c.Type == "text" {
			r.CompletionText += c.Text
		}
	}
	return r, nil
}

func (r *AnthropicReport) Provider() usage.Provider { return usage.ProviderAnthropic }
func (r *AnthropicReport) ModelID() string { return r.Model }
func (r *AnthropicReport) UsageReported() bool { return r.HasUsage }

func (r *AnthropicReport) Tokens(rc RequestContext) TokenCounts {
	if !r.HasUsage {
		return estimateCounts(rc.PromptText, firstNonEmpty(rc.CompletionText, r.CompletionText))
	}
	tc := TokenCounts{Prompt: r.InputTokens, Completion: r.OutputTokens}
	if r.CacheCreationInputTokens > 0 || r.CacheReadInputTokens > 0 {
		tc.Extra = map[string]string{
			"cache_creation_input_tokens": strconv.FormatInt(r.CacheCreationInputTokens, 10),
			"cache_read_input_tokens":     strconv.FormatInt(r.CacheReadInputTokens, 10),
		}
	}
	return tc
}

// GeminiReport is a Google Gemini generateContent response, optionally
// carrying the request contents. Gemini responses do not always include
// usageMetadata; without it counts are estimated from text.
type GeminiReport struct {
	Model          string
	HasUsage       bool
	PromptTokens   int64
	OutputTokens   int64
	Characters     int64
	PromptText     string
	CompletionText string
}

type geminiParts struct {
	Parts []struct {
		Text string `json:"text"`
	} `json:"parts"`
}

func (p geminiParts) text() string {
	var s string
	for _, part := range p.Parts {
		s += part.Text
	}
	return s
}

func parseGemini(raw []byte) (*GeminiReport, error) {
	var body struct {
		ModelVersion  string        `json:"modelVersion"`
		Model         string        `json:"model"`
		Contents      []geminiParts `json:"contents"`
		Candidates    []struct {
			Content geminiParts `json:"content"`
		} `json:"candidates"`
		UsageMetadata *struct {
			PromptTokenCount     int64 `json:"promptTokenCount"`
			CandidatesTokenCount int64 `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
		Characters      int64 `json:"characters"`
		TotalCharacters int64 `json:"totalCharacters"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to parse gemini response: %w", err)
	}

	r := &GeminiReport{Model: firstNonEmpty(body.ModelVersion, body.Model)}
	if body.UsageMetadata != nil {
		r.HasUsage = true
		r.PromptTokens = body.UsageMetadata.PromptTokenCount
		r.OutputTokens = body.UsageMetadata.CandidatesTokenCount
	}
	r.Characters = body.Characters
	if r.Characters == 0 {
		r.Characters = body.TotalCharacters
	}
	for _, c := range body.Contents {
		r.PromptText += c.text()
	}
	for _, c := range body.Candidates {
		r.CompletionText += c.Content.text()
	}
	return r, nil
}

func (r *GeminiReport) Provider() usage.Provider { return usage.ProviderGemini }
func (r *GeminiReport) ModelID() string { return r.Model }
func (r *GeminiReport) UsageReported() bool { return r.HasUsage }

func (r *GeminiReport) Tokens(rc RequestContext) TokenCounts {
	if r.HasUsage {
		return TokenCounts{Prompt: r.PromptTokens, Completion: r.OutputTokens}
	}

	prompt := firstNonEmpty(rc.PromptText, r.PromptText)
	completion := firstNonEmpty(rc.CompletionText, r.CompletionText)
	if prompt == "" && completion == "" && r.Characters > 0 {
		// Billing exports report only a character total: split 60/40.
		total := EstimateTokensFromChars(r.Characters)
		return TokenCounts{
			Prompt:     ceilFraction(total, 6, 10),
			Completion: ceilFraction(total, 4, 10),
			Estimated:  true,
		}
	}
	return estimateCounts(prompt, completion)
}

// GenericReport is a response from a provider without a dedicated variant.
// It accepts the common spellings of token count keys at the top level or
// under "usage" / "usageMetadata".
type GenericReport struct {
	ProviderName   usage.Provider
	Model          string
	HasUsage       bool
	PromptTokens   int64
	OutputTokens   int64
	CompletionText string
}

var (
	promptKeys     = []string{"prompt_tokens", "input_tokens", "promptTokenCount", "promptTokens", "inputTokens"}
	completionKeys = []string{"completion_tokens", "output_tokens", "candidatesTokenCount", "completionTokens", "outputTokens"}
	textKeys       = map[string]bool{"text": true, "content": true}
)

func parseGeneric(provider usage.Provider, raw []byte) (*GenericReport, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", provider, err)
	}

	r := &GenericReport{ProviderName: provider}
	if m, ok := body["model"].(string); ok {
		r.Model = m
	}

	scopes := []map[string]any{body}
	for _, key := range []string{"usage", "usageMetadata"} {
		if m, ok := body[key].(map[string]any); ok {
			scopes = append(scopes, m)
		}
	}
	prompt, okP := lookupNumber(scopes, promptKeys)
	completion, okC := lookupNumber(scopes, completionKeys)
	if okP || okC {
		r.HasUsage = true
		r.PromptTokens = prompt
		r.OutputTokens = completion
	}
	r.CompletionText = collectText(body, 0)
	return r, nil
}

func (r *GenericReport) Provider() usage.Provider { return r.ProviderName }
func (r *GenericReport) ModelID() string { return r.Model }
func (r *GenericReport) UsageReported() bool { return r.HasUsage }

func (r *GenericReport) Tokens(rc RequestContext) TokenCounts {
	if r.HasUsage {
		return TokenCounts{Prompt: r.PromptTokens, Completion: r.OutputTokens}
	}
	return estimateCounts(rc.PromptText, firstNonEmpty(rc.CompletionText, r.CompletionText))
}

func lookupNumber(scopes []map[string]any, keys []string) (int64, bool) {
	for _, scope := range scopes {
		for _, key := range keys {
			if v, ok := scope[key].(float64); ok {
				return int64(v), true
			}
		}
	}
	return 0, false
}

// collectText concatenates string values under text and content keys,
// descending at most four levels.
func collectText(v any, depth int) string {
	if depth > 4 {
		return ""
	}
	var out string
	switch x := v.(type) {
	case map[string]any:
		for k, child := range x {
			if s, ok := child.(string); ok && textKeys[k] {
				out += s
				continue
			}
			out += collectText(child, depth+1)
		}
	case []any:
		for _, child := range x {
			out += collectText(child, depth+1)
		}
	}
	return out
}

// ParseReport parses raw as a response from provider. Unknown providers are
// parsed as a GenericReport.
func ParseReport(provider string, raw []byte) (Report, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyReport
	}

	var (
		report Report
		err    error
	)
	switch p := usage.ParseProvider(provider); p {
	case usage.ProviderOpenAI:
		report, err = parseOpenAI(raw)
	case usage.ProviderAnthropic:
		report, err = parseAnthropic(raw)
	case usage.ProviderGemini:
		report, err = parseGemini(raw)
	case usage.ProviderXAI:
		report, err = parseXAI(raw)
	case usage.ProviderPerplexity:
		report, err = parsePerplexity(raw)
	default:
		report, err = parseGeneric(p, raw)
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
