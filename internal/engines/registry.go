/**
 * Engine Registry
 *
 * Built once at startup. Each entry probes its engine a single time and keeps
 * the result; an unavailable entry answers every call with a no-opinion
 * outcome without touching the engine again. Entries declared Serialize
 * admit one call at a time.
 */

package engines

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/adverant/nexus/docassist-worker/internal/errors"
	"github.com/adverant/nexus/docassist-worker/internal/logging"
)

// Status classifies one engine call.
type Status string

const (
	StatusOK          Status = "ok"
	StatusEmpty       Status = "empty"
	StatusFailed      Status = "failed"
	StatusTimeout     Status = "timeout"
	StatusUnavailable Status = "unavailable"
)

// Outcome is the typed result of one engine call. Candidate is always
// usable: anything but StatusOK carries a no-opinion candidate.
type Outcome struct {
	Candidate Candidate
	Status    Status
	Err       error
	Elapsed   time.Duration
}

// Registration declares an engine to the registry.
type Registration struct {
	Engine    Engine
	Serialize bool          // the engine is not safe for concurrent calls
	Timeout   time.Duration // per-call limit override; zero uses the caller's
}

// Entry is a registered engine together with its probe result.
type Entry struct {
	engine    Engine
	serialize bool
	timeout   time.Duration
	sem       chan struct{}
	probeErr  error
	logger    *logging.Logger
}

// Registry holds the engines in declaration order, which is also the
// tie-break order of the fusion selector.
type Registry struct {
	entries []*Entry
	logger  *logging.Logger
}

// NewRegistry probes every engine once, bounded by probeTimeout each.
// Duplicate names are rejected.
func NewRegistry(ctx context.Context, probeTimeout time.Duration, regs ...Registration) (*Registry, error) {
	r := &Registry{logger: logging.NewLogger("EngineRegistry")}
	seen := make(map[string]bool, len(regs))
	for _, reg := range regs {
		if reg.Engine == nil {
			return nil, fmt.Errorf("registration without engine")
		}
		name := reg.Engine.Name()
		if seen[name] {
			return nil, fmt.Errorf("engine %q registered twice", name)
		}
		seen[name] = true

		e := &Entry{
			engine:    reg.Engine,
			serialize: reg.Serialize,
			timeout:   reg.Timeout,
			logger:    logging.NewLogger("Engine").With("engine", name),
		}
		if reg.Serialize {
			e.sem = make(chan struct{}, 1)
		}
		e.probeErr = probe(ctx, reg.Engine, probeTimeout)
		if e.probeErr != nil {
			r.logger.Warn("Engine unavailable, it will not be called",
				"engine", name,
				"error", e.probeErr)
		} else {
			r.logger.Info("Engine available",
				"engine", name,
				"serialize", reg.Serialize,
				"variants", SupportsVariants(reg.Engine))
		}
		r.entries = append(r.entries, e)
	}
	return r, nil
}

func probe(ctx context.Context, eng Engine, limit time.Duration) error {
	p, ok := eng.(Prober)
	if !ok {
		return nil
	}
	if limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}
	if err := p.Probe(ctx); err != nil {
		return apperrors.NewEngineUnavailableError(eng.Name(), err)
	}
	return nil
}

// Entries returns the entries in declaration order.
func (r *Registry) Entries() []*Entry {
	return append([]*Entry(nil), r.entries...)
}

// Get looks an entry up by engine name.
func (r *Registry) Get(name string) (*Entry, bool) {
	for _, e := range r.entries {
		if e.Name() == name {
			return e, true
		}
	}
	return nil, false
}

// Names returns the engine names in declaration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name()
	}
	return names
}

// Status reports availability per engine, for health output.
func (r *Registry) Status() map[string]string {
	out := make(map[string]string, len(r.entries))
	for _, e := range r.entries {
		if e.Available() {
			out[e.Name()] = "available"
		} else {
			out[e.Name()] = e.probeErr.Error()
		}
	}
	return out
}

func (e *Entry) Name() string { return e.engine.Name() }

// Available reports whether the startup probe succeeded.
func (e *Entry) Available() bool { return e.probeErr == nil }

// Reason is the probe failure, nil when available.
func (e *Entry) Reason() error { return e.probeErr }

// SupportsVariants reports whether the engine takes page segmentation variants.
func (e *Entry) SupportsVariants() bool { return SupportsVariants(e.engine) }

// Invoke runs one call under its own time limit and classifies the result.
// limit is used unless the entry was registered with its own timeout; zero
// means no limit beyond ctx.
func (e *Entry) Invoke(ctx context.Context, req Request, limit time.Duration) Outcome {
	name := e.Name()
	start := time.Now()
	out := Outcome{Candidate: NoOpinion(name)}
	out.Candidate.Variant = req.Variant

	if e.probeErr != nil {
		out.Status = StatusUnavailable
		out.Err = e.probeErr
		return out
	}

	// The limit covers the engine call only, not the wait for a serialized slot.
	if e.sem != nil {
		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-ctx.Done():
			out.Elapsed = time.Since(start)
			out.Status = StatusFailed
			out.Err = apperrors.NewEngineFailedError(name, fmt.Errorf("cancelled while waiting for engine: %w", ctx.Err()))
			return out
		}
	}

	if e.timeout > 0 {
		limit = e.timeout
	}
	callCtx := ctx
	if limit > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	cand, err := e.engine.Recognize(callCtx, req)
	if err != nil {
		return e.classifyErr(out, callCtx, err, limit, start)
	}

	cand.Engine = name
	if cand.Variant == nil {
		cand.Variant = req.Variant
	}
	out.Candidate = cand
	out.Elapsed = time.Since(start)
	if !cand.HasText() {
		out.Candidate.Score = NoOpinionScore
		out.Status = StatusEmpty
		return out
	}
	out.Status = StatusOK
	return out
}

func (e *Entry) classifyErr(out Outcome, callCtx context.Context, err error, limit time.Duration, start time.Time) Outcome {
	out.Elapsed = time.Since(start)
	if errors.Is(err, apperrors.ErrEngineTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		out.Status = StatusTimeout
		out.Err = apperrors.NewEngineTimeoutError(e.Name(), limit, err)
		e.logger.Warn("Engine call timed out", "limit", limit.String(), "variant", variantLabel(out.Candidate.Variant))
		return out
	}
	out.Status = StatusFailed
	out.Err = apperrors.NewEngineFailedError(e.Name(), err)
	e.logger.Warn("Engine call failed", "error", err, "variant", variantLabel(out.Candidate.Variant))
	return out
}

func variantLabel(v *int) interface{} {
	if v == nil {
		return "default"
	}
	return *v
}
