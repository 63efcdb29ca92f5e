// Package emotion provides rule-based emotion classification for visitor
// messages. The keyword analyzer is intentionally simple; it exists so the
// platform degrades to something useful without a model, and it can be
// swapped for a model-backed implementation behind the same method set.
package emotion

import "strings"

// Labels produced by the analyzer.
const (
	LabelJoy      = "joy"
	LabelSadness  = "sadness"
	LabelAnger    = "anger"
	LabelFear     = "fear"
	LabelSurprise = "surprise"
	LabelDisgust  = "disgust"
	LabelNeutral  = "neutral"
)

var emotionKeywords = map[string][]string{
	LabelJoy:      {"happy", "excited", "great", "wonderful", "amazing", "fantastic", "love", "enjoy", "glad", "pleased"},
	LabelSadness:  {"sad", "depressed", "unhappy", "miserable", "down", "lonely", "cry", "grief", "sorrow", "blue"},
	LabelAnger:    {"angry", "mad", "furious", "annoyed", "frustrated", "irritated", "rage", "hate", "upset"},
	LabelFear:     {"afraid", "scared", "anxious", "worried", "nervous", "panic", "terrified", "frightened", "fear"},
	LabelSurprise: {"surprised", "shocked", "amazed", "astonished", "unexpected", "wow", "incredible"},
	LabelDisgust:  {"disgusted", "gross", "awful", "terrible", "horrible", "nasty", "yuck"},
	LabelNeutral:  {"okay", "fine", "alright", "normal", "regular"},
}

// Analyzer classifies text into an emotion label with a confidence score.
type Analyzer struct{}

// NewAnalyzer creates a keyword-based analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze returns the dominant emotion and a confidence in [0,1]. Empty or
// whitespace input scores neutral at 0.5. Confidence grows with the number
// of matched keywords, capped at 0.9.
func (a *Analyzer) Analyze(text string) (string, float64) {
	if strings.TrimSpace(text) == "" {
		return LabelNeutral, 0.5
	}

	lower := strings.ToLower(text)
	best, bestCount := "", 0
	for label, keywords := range emotionKeywords {
		count := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				count++
			}
		}
		if count > bestCount || (count == bestCount && count > 0 && label < best) {
			best, bestCount = label, count
		}
	}

	if bestCount == 0 {
		return LabelNeutral, 0.6
	}
	confidence := 0.5 + float64(bestCount)*0.1
	if confidence > 0.9 {
		confidence = 0.9
	}
	return best, confidence
}

// Negative reports whether the label belongs to the distress set used by the
// escalation health check.
func Negative(label string) bool {
	switch strings.ToLower(label) {
	case LabelSadness, LabelFear, LabelAnger, "anxiety":
		return true
	}
	return false
}
