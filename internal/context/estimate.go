package ctxengine

import "unicode/utf8"

// TokenEstimator estimates the size of a string in budget units.
type TokenEstimator interface {
	Estimate(text string) int
}

// RuneEstimator measures text in characters.
type RuneEstimator struct{}

// Estimate returns the rune count of text.
func (RuneEstimator) Estimate(text string) int {
	return utf8.RuneCountInString(text)
}

// CharEstimator estimates tokens with a characters-per-token ratio.
// About 4 works for English, 3 for other Latin languages.
type CharEstimator struct {
	CharsPerToken float64
}

// NewCharEstimator creates a CharEstimator. A ratio <= 0 defaults to 4.
func NewCharEstimator(charsPerToken float64) *CharEstimator {
	if charsPerToken <= 0 {
		charsPerToken = 4.0
	}
	return &CharEstimator{CharsPerToken: charsPerToken}
}

// Estimate rounds up so the budget is never underestimated.
func (e *CharEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return int(float64(len(text))/e.CharsPerToken) + 1
}

