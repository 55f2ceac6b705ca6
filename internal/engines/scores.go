package engines

import (
	"sort"
	"strings"
)

// Line is one recognized text line with its confidence as the backend
// reported it.
type Line struct {
	Text       string
	Confidence float64
}

// Scale is the factor that brings a backend's confidences onto 0-100.
// Each adapter declares the scale of its backend once.
type Scale float64

const (
	ScaleUnit    Scale = 100 // backend reports 0-1
	ScalePercent Scale = 1   // backend reports 0-100
)

// Apply converts one confidence.
func (s Scale) Apply(c float64) float64 {
	return c * float64(s)
}

// FromLines builds a candidate from line-level output: blank lines are
// dropped, the rest joined with newlines, and the score is the mean of the
// kept lines' confidences on the 0-100 scale.
func FromLines(engine string, scale Scale, lines []Line) Candidate {
	texts := make([]string, 0, len(lines))
	var sum float64
	for _, l := range lines {
		t := strings.TrimSpace(l.Text)
		if t == "" {
			continue
		}
		texts = append(texts, t)
		sum += scale.Apply(l.Confidence)
	}
	if len(texts) == 0 {
		return NoOpinion(engine)
	}
	return Candidate{
		Engine: engine,
		Text:   strings.Join(texts, "\n"),
		Score:  sum / float64(len(texts)),
	}
}

// Median returns the median of values, or NoOpinionScore when empty.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return NoOpinionScore
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
