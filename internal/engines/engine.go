/**
 * Recognition engine contract
 *
 * Every OCR backend is wrapped behind Engine and returns a Candidate whose
 * score is on the 0-100 scale. A candidate without text carries the
 * no-opinion score -1 and never wins selection against real text.
 */

package engines

import (
	"context"
	"image"
	"strings"
)

// NoOpinionScore marks a candidate that offers no text.
const NoOpinionScore = -1.0

// Request is one recognition call. The time limit travels in the context.
type Request struct {
	Image    image.Image
	Language string // tesseract-style, e.g. "kor+eng"
	Variant  *int   // page segmentation mode; nil means the engine default
}

// Candidate is one engine's proposal for a region.
type Candidate struct {
	Engine  string
	Text    string
	Score   float64
	Variant *int
}

// HasText reports whether the candidate carries non-blank text.
func (c Candidate) HasText() bool {
	return strings.TrimSpace(c.Text) != ""
}

// Effective is the score used for selection: -1 whenever the text is empty,
// whatever the engine claimed.
func (c Candidate) Effective() float64 {
	if !c.HasText() {
		return NoOpinionScore
	}
	return c.Score
}

// NoOpinion returns the empty candidate for an engine.
func NoOpinion(engine string) Candidate {
	return Candidate{Engine: engine, Score: NoOpinionScore}
}

// Engine is an OCR backend.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, req Request) (Candidate, error)
}

// Prober is implemented by engines that can check their dependencies
// (binary, language data, remote service) before the first call.
type Prober interface {
	Probe(ctx context.Context) error
}

// VariantEngine is implemented by engines that accept a page segmentation
// variant. The fusion selector tries every configured variant on them.
type VariantEngine interface {
	Engine
	SupportsVariants() bool
}

// SupportsVariants reports whether e takes page segmentation variants.
func SupportsVariants(e Engine) bool {
	v, ok := e.(VariantEngine)
	return ok && v.SupportsVariants()
}

// SplitLanguages splits "kor+eng" into its codes.
func SplitLanguages(lang string) []string {
	var out []string
	for _, l := range strings.Split(lang, "+") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
