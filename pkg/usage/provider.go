package usage

import "strings"

// Provider identifies an AI vendor.
type Provider string

// Known providers.
const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderGemini     Provider = "gemini"
	ProviderXAI        Provider = "xai"
	ProviderPerplexity Provider = "perplexity"
)

var providerAliases = map[string]Provider{
	"openai":     ProviderOpenAI,
	"anthropic":  ProviderAnthropic,
	"claude":     ProviderAnthropic,
	"gemini":     ProviderGemini,
	"google":     ProviderGemini,
	"xai":        ProviderXAI,
	"x.ai":       ProviderXAI,
	"grok":       ProviderXAI,
	"perplexity": ProviderPerplexity,
}

// ParseProvider maps a provider name or alias to its canonical identity.
// Matching is case-insensitive. Unknown names are returned lower-cased so
// that arbitrary providers can still be metered.
func ParseProvider(name string) Provider {
	key := strings.ToLower(strings.TrimSpace(name))
	if p, ok := providerAliases[key]; ok {
		return p
	}
	return Provider(key)
}

// Known reports whether p is one of the built-in providers.
func (p Provider) Known() bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderXAI, ProviderPerplexity:
		return true
	}
	return false
}

func (p Provider) String() string {
	return string(p)
}
