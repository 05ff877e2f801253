package normalize

import "unicode/utf8"

// CharsPerToken is the character to token ratio used for estimation.
const CharsPerToken = 4

// EstimateTokens estimates the token count of text as ceil(chars/4).
// Characters are counted as Unicode code points.
func EstimateTokens(text string) int64 {
	return EstimateTokensFromChars(int64(utf8.RuneCountInString(text)))
}

// EstimateTokensFromChars returns ceil(chars/4).
func EstimateTokensFromChars(chars int64) int64 {
	if chars <= 0 {
		return 0
	}
	return (chars + CharsPerToken - 1) / CharsPerToken
}

func estimateCounts(prompt, completion string) TokenCounts {
	if prompt == "" && completion == "" {
		return TokenCounts{}
	}
	return TokenCounts{
		Prompt:     EstimateTokens(prompt),
		Completion: EstimateTokens(completion),
		Estimated:  true,
	}
}

// ceilFraction returns ceil(n*num/den) for non-negative n.
func ceilFraction(n, num, den int64) int64 {
	return (n*num + den - 1) / den
}
