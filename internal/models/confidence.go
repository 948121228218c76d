package models

// Confidence is the closed ordinal set of extraction confidence levels.
// The zero value represents an absent stamp and ranks below ConfidenceLow,
// so any extracted value wins against a slot that was never written.
type Confidence string

const (
	ConfidenceNone   Confidence = ""
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

var confidenceRank = map[Confidence]int{
	ConfidenceNone:   0,
	ConfidenceLow:    1,
	ConfidenceMedium: 2,
	ConfidenceHigh:   3,
}

// Rank returns the ordinal position of the confidence level.
// Unknown strings rank as absent.
func (c Confidence) Rank() int {
	return confidenceRank[c]
}

// Valid reports whether c is one of the three declared levels.
func (c Confidence) Valid() bool {
	return c == ConfidenceLow || c == ConfidenceMedium || c == ConfidenceHigh
}

// ParseConfidence converts a model-reported string into a Confidence.
// Returns false for anything outside the closed set.
func ParseConfidence(s string) (Confidence, bool) {
	c := Confidence(s)
	if !c.Valid() {
		return ConfidenceNone, false
	}
	return c, true
}
