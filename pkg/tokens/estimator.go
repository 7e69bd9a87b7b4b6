// Package tokens provides a fast character-heuristic token estimator. The
// estimate is an approximate upper bound used only for admission checks;
// final accounting always uses the actual figures reported at commit.
package tokens

import "strings"

// DefaultCharsPerToken is the characters-per-token ratio used when none is
// configured. Roughly right for English prose across common tokenizers.
const DefaultCharsPerToken = 4.0

// Estimator estimates token counts from text length.
type Estimator struct {
	charsPerToken float64
}

// NewEstimator creates an estimator with the given characters-per-token
// ratio. Ratios at or below zero fall back to DefaultCharsPerToken.
func NewEstimator(charsPerToken float64) *Estimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &Estimator{charsPerToken: charsPerToken}
}

// Estimate returns the estimated token count for a text. Non-empty text
// always estimates at least one token.
func (e *Estimator) Estimate(text string) int64 {
	if text == "" {
		return 0
	}

	tokens := float64(len(text)) / e.charsPerToken
	if tokens < 1.0 {
		tokens = 1.0
	}
	return int64(tokens + 0.5)
}

// EstimatePayload estimates tokens across the parts of a request payload,
// adding a small per-part overhead for framing.
func (e *Estimator) EstimatePayload(parts ...string) int64 {
	var total int64
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		total += e.Estimate(p) + 1
	}
	return total
}
