/**
 * Fusion Selector
 *
 * Runs the registered engines over one image and picks a winner:
 * - engines that take page segmentation variants try each configured
 *   variant in order, keeping their best; the first timeout abandons the
 *   remaining variants
 * - every other engine is called once, concurrently with the above
 * - a candidate without text scores -1, the strict maximum wins and ties go
 *   to the engine declared first
 *
 * Engine failures never escape: they become no-opinion candidates and are
 * reported in Attempts.
 */

package fusion

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/adverant/nexus/docassist-worker/internal/engines"
	"github.com/adverant/nexus/docassist-worker/internal/logging"
	"github.com/adverant/nexus/docassist-worker/internal/model"
)

// Placeholder is the text of a result where no engine recognised anything.
const Placeholder = "(no recognizable text)"

// Options configures one Fuse call
type Options struct {
	Engines   []string      // enabled engine names; empty enables every registered engine
	Language  string        // language hint, e.g. "kor+eng"
	Variants  []int         // page segmentation variants for variant engines
	TimeLimit time.Duration // per engine call
}

// Attempt records one engine call for diagnostics.
type Attempt struct {
	Engine  string
	Variant *int
	Status  engines.Status
	Score   float64
	Err     error
	Elapsed time.Duration
}

// Result is the outcome of fusion for one image. Text is the winner's raw
// text, not normalised. Variant is the best variant of the variant engine,
// whichever engine won.
type Result struct {
	Engine   string
	Text     string
	Score    float64
	Variant  *int
	Scores   map[string]float64
	NoText   bool
	Attempts []Attempt
}

// Meta converts the result into the persisted metadata shape.
func (r Result) Meta() model.OCRMeta {
	scores := make(map[string]float64, len(r.Scores))
	for k, v := range r.Scores {
		scores[k] = v
	}
	return model.OCRMeta{
		Engine:  r.Engine,
		Score:   r.Score,
		Scores:  scores,
		Variant: r.Variant,
	}
}

// Selector fuses engine outputs. It is safe for concurrent use; the only
// shared state is the registry.
type Selector struct {
	registry *engines.Registry
	logger   *logging.Logger
}

// NewSelector creates a selector over the registry
func NewSelector(registry *engines.Registry) *Selector {
	return &Selector{
		registry: registry,
		logger:   logging.NewLogger("FusionSelector"),
	}
}

// slot is the per-engine state collected during one Fuse call.
type slot struct {
	entry    *engines.Entry
	best     engines.Candidate
	attempts []Attempt
}

// Fuse always returns a result; with no usable text it carries Placeholder.
func (s *Selector) Fuse(ctx context.Context, img image.Image, opts Options) Result {
	slots := s.enabled(opts.Engines)

	var wg sync.WaitGroup
	for _, sl := range slots {
		wg.Add(1)
		go func(sl *slot) {
			defer wg.Done()
			if sl.entry.SupportsVariants() {
				s.runVariants(ctx, sl, img, opts)
			} else {
				s.runOnce(ctx, sl, img, opts)
			}
		}(sl)
	}
	wg.Wait()

	return s.choose(slots)
}

func (s *Selector) enabled(names []string) []*slot {
	var slots []*slot
	if len(names) == 0 {
		for _, e := range s.registry.Entries() {
			slots = append(slots, &slot{entry: e, best: engines.NoOpinion(e.Name())})
		}
		return slots
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
		if _, ok := s.registry.Get(n); !ok {
			s.logger.Warn("Requested engine is not registered", "engine", n)
		}
	}
	// registry order, not request order, decides ties
	for _, e := range s.registry.Entries() {
		if want[e.Name()] {
			slots = append(slots, &slot{entry: e, best: engines.NoOpinion(e.Name())})
		}
	}
	return slots
}

func (s *Selector) runVariants(ctx context.Context, sl *slot, img image.Image, opts Options) {
	if len(opts.Variants) == 0 {
		s.runOnce(ctx, sl, img, opts)
		return
	}
	for _, v := range opts.Variants {
		v := v
		out := sl.entry.Invoke(ctx, engines.Request{Image: img, Language: opts.Language, Variant: &v}, opts.TimeLimit)
		sl.record(out)
		if out.Candidate.Effective() > sl.best.Effective() {
			sl.best = out.Candidate
		}
		if out.Status == engines.StatusTimeout {
			s.logger.Warn("Engine timed out, skipping remaining variants",
				"engine", sl.entry.Name(),
				"variant", v,
				"skipped", len(opts.Variants)-len(sl.attempts))
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Selector) runOnce(ctx context.Context, sl *slot, img image.Image, opts Options) {
	out := sl.entry.Invoke(ctx, engines.Request{Image: img, Language: opts.Language}, opts.TimeLimit)
	sl.record(out)
	if out.Candidate.Effective() > sl.best.Effective() {
		sl.best = out.Candidate
	}
}

func (sl *slot) record(out engines.Outcome) {
	sl.attempts = append(sl.attempts, Attempt{
		Engine:  sl.entry.Name(),
		Variant: out.Candidate.Variant,
		Status:  out.Status,
		Score:   out.Candidate.Score,
		Err:     out.Err,
		Elapsed: out.Elapsed,
	})
}

// choose applies the selection rule over slots in declaration order.
func (s *Selector) choose(slots []*slot) Result {
	res := Result{
		Scores: make(map[string]float64, len(slots)),
		Score:  engines.NoOpinionScore,
	}
	var winner *slot
	for _, sl := range slots {
		res.Scores[sl.entry.Name()] = sl.best.Effective()
		res.Attempts = append(res.Attempts, sl.attempts...)
		if res.Variant == nil && sl.entry.SupportsVariants() {
			res.Variant = sl.best.Variant
		}
		if winner == nil || sl.best.Effective() > winner.best.Effective() {
			winner = sl
		}
	}

	if winner == nil || !winner.best.HasText() {
		res.Text = Placeholder
		res.NoText = true
		if winner != nil {
			res.Engine = winner.entry.Name()
		}
		s.logger.Debug("No engine produced text", "engines", len(slots))
		return res
	}

	res.Engine = winner.entry.Name()
	res.Text = winner.best.Text
	res.Score = winner.best.Score
	s.logger.Debug("Fusion selected engine",
		"engine", res.Engine,
		"score", model.Round2(res.Score),
		"candidates", len(slots))
	return res
}
