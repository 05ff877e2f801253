// Package normalize converts provider responses into usage events.
//
// Each provider reports usage in its own shape:
//
//   - OpenAI, xAI, Perplexity: usage.prompt_tokens / usage.completion_tokens
//   - Anthropic: usage.input_tokens / usage.output_tokens
//   - Gemini: usageMetadata when present, otherwise no counts at all
//
// ParseReport dispatches on provider identity to a dedicated Report
// variant. Providers without a variant are parsed as a GenericReport that
// accepts the common key spellings. When a response carries no counts the
// tokens are estimated as ceil(chars/4) and the event is tagged with
// metadata estimated=true.
//
// Failed calls still produce an event. It has Success=false, the failure
// message under metadata "error", and a cost of zero unless the body
// reported partial usage.
package normalize
