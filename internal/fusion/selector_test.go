package fusion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/docassist-worker/internal/engines"
)

type fakeEngine struct {
	name     string
	variants bool
	probeErr error
	respond  func(ctx context.Context, req engines.Request) (engines.Candidate, error)

	mu    sync.Mutex
	calls []*int
}

func (f *fakeEngine) Name() string                { return f.name }
func (f *fakeEngine) SupportsVariants() bool      { return f.variants }
func (f *fakeEngine) Probe(context.Context) error { return f.probeErr }

func (f *fakeEngine) Recognize(ctx context.Context, req engines.Request) (engines.Candidate, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Variant)
	f.mu.Unlock()
	return f.respond(ctx, req)
}

func (f *fakeEngine) variantCalls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, v := range f.calls {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func fixed(name, text string, score float64) *fakeEngine {
	return &fakeEngine{name: name, respond: func(context.Context, engines.Request) (engines.Candidate, error) {
		return engines.Candidate{Text: text, Score: score}, nil
	}}
}

func hanging(name string) *fakeEngine {
	return &fakeEngine{name: name, respond: func(ctx context.Context, _ engines.Request) (engines.Candidate, error) {
		<-ctx.Done()
		return engines.Candidate{}, ctx.Err()
	}}
}

func selector(t *testing.T, engs ...engines.Engine) *Selector {
	t.Helper()
	regs := make([]engines.Registration, len(engs))
	for i, e := range engs {
		regs[i] = engines.Registration{Engine: e}
	}
	reg, err := engines.NewRegistry(context.Background(), time.Second, regs...)
	require.NoError(t, err)
	return NewSelector(reg)
}

func opts() Options {
	return Options{Language: "kor+eng", Variants: []int{6}, TimeLimit: time.Second}
}

func TestFuse_TextBeatsHigherScoreWithoutText(t *testing.T) {
	s := selector(t,
		fixed("tesseract", "", 99),
		fixed("paddle", "실제 텍스트", 12),
		fixed("easyocr", "   ", 97),
	)

	res := s.Fuse(context.Background(), nil, opts())
	assert.Equal(t, "paddle", res.Engine)
	assert.Equal(t, "실제 텍스트", res.Text)
	assert.Equal(t, 12.0, res.Score)
	assert.False(t, res.NoText)
	assert.Equal(t, map[string]float64{"tesseract": -1, "paddle": 12, "easyocr": -1}, res.Scores)
}

func TestFuse_TieGoesToEarlierDeclaration(t *testing.T) {
	s := selector(t,
		fixed("tesseract", "from tesseract", 80),
		fixed("paddle", "from paddle", 80),
	)
	res := s.Fuse(context.Background(), nil, opts())
	assert.Equal(t, "tesseract", res.Engine)

	s = selector(t,
		fixed("paddle", "from paddle", 80),
		fixed("tesseract", "from tesseract", 80),
	)
	res = s.Fuse(context.Background(), nil, opts())
	assert.Equal(t, "paddle", res.Engine)
}

func TestFuse_RequestOrderDoesNotAffectTies(t *testing.T) {
	s := selector(t,
		fixed("tesseract", "a", 70),
		fixed("paddle", "b", 70),
		fixed("easyocr", "c", 70),
	)
	o := opts()
	o.Engines = []string{"easyocr", "paddle"}

	res := s.Fuse(context.Background(), nil, o)
	assert.Equal(t, "paddle", res.Engine)
	assert.NotContains(t, res.Scores, "tesseract")
	assert.Len(t, res.Scores, 2)
}

func TestFuse_StrictMaximumWins(t *testing.T) {
	s := selector(t,
		fixed("tesseract", "low", 40.5),
		fixed("paddle", "high", 91.25),
		fixed("easyocr", "mid", 60),
	)
	res := s.Fuse(context.Background(), nil, opts())
	assert.Equal(t, "paddle", res.Engine)
	assert.Equal(t, "high", res.Text)
}

func TestFuse_BestVariantIsKept(t *testing.T) {
	scores := map[int]float64{6: 50, 4: 80, 11: 70}
	tess := &fakeEngine{name: "tesseract", variants: true, respond: func(_ context.Context, req engines.Request) (engines.Candidate, error) {
		v := *req.Variant
		return engines.Candidate{Text: fmt.Sprintf("psm %d", v), Score: scores[v]}, nil
	}}
	s := selector(t, tess, fixed("paddle", "", 0))

	o := opts()
	o.Variants = []int{6, 4, 11}
	res := s.Fuse(context.Background(), nil, o)

	assert.Equal(t, []int{6, 4, 11}, tess.variantCalls())
	assert.Equal(t, "tesseract", res.Engine)
	assert.Equal(t, "psm 4", res.Text)
	assert.Equal(t, 80.0, res.Score)
	require.NotNil(t, res.Variant)
	assert.Equal(t, 4, *res.Variant)
}

func TestFuse_TimeoutAbandonsRemainingVariants(t *testing.T) {
	tess := &fakeEngine{name: "tesseract", variants: true, respond: func(ctx context.Context, req engines.Request) (engines.Candidate, error) {
		if *req.Variant == 6 {
			return engines.Candidate{Text: "partial", Score: 30}, nil
		}
		<-ctx.Done()
		return engines.Candidate{}, ctx.Err()
	}}
	s := selector(t, tess, fixed("paddle", "paddle text", 20))

	o := opts()
	o.Variants = []int{6, 3, 11, 4}
	o.TimeLimit = 30 * time.Millisecond

	start := time.Now()
	res := s.Fuse(context.Background(), nil, o)

	assert.Equal(t, []int{6, 3}, tess.variantCalls(), "variants after the timeout must not run")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, "tesseract", res.Engine)
	assert.Equal(t, "partial", res.Text)

	var statuses []engines.Status
	for _, a := range res.Attempts {
		if a.Engine == "tesseract" {
			statuses = append(statuses, a.Status)
		}
	}
	assert.Equal(t, []engines.Status{engines.StatusOK, engines.StatusTimeout}, statuses)
}

func TestFuse_OtherEnginesRunDespiteVariantTimeout(t *testing.T) {
	tess := hanging("tesseract")
	tess.variants = true
	s := selector(t, tess, fixed("paddle", "paddle wins", 40))

	o := opts()
	o.TimeLimit = 20 * time.Millisecond
	res := s.Fuse(context.Background(), nil, o)

	assert.Equal(t, "paddle", res.Engine)
	assert.Equal(t, -1.0, res.Scores["tesseract"])
	assert.Nil(t, res.Variant)
}

func TestFuse_FailuresAreDemoted(t *testing.T) {
	broken := &fakeEngine{name: "paddle", respond: func(context.Context, engines.Request) (engines.Candidate, error) {
		return engines.Candidate{}, fmt.Errorf("model exploded")
	}}
	s := selector(t, broken, fixed("easyocr", "still here", 55))

	res := s.Fuse(context.Background(), nil, opts())
	assert.Equal(t, "easyocr", res.Engine)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, engines.StatusFailed, res.Attempts[0].Status)
	assert.Error(t, res.Attempts[0].Err)
}

func TestFuse_AllEmptyGivesPlaceholder(t *testing.T) {
	down := fixed("easyocr", "would be text", 90)
	down.probeErr = fmt.Errorf("service not running")
	s := selector(t,
		fixed("tesseract", "", 0),
		fixed("paddle", " ", 88),
		down,
	)

	res := s.Fuse(context.Background(), nil, opts())
	assert.True(t, res.NoText)
	assert.Equal(t, Placeholder, res.Text)
	assert.Equal(t, -1.0, res.Score)
	assert.Equal(t, map[string]float64{"tesseract": -1, "paddle": -1, "easyocr": -1}, res.Scores)
	assert.Empty(t, down.variantCalls())
	assert.Len(t, down.calls, 0, "unavailable engines are never called")
}

func TestFuse_NoEngines(t *testing.T) {
	s := selector(t)
	res := s.Fuse(context.Background(), nil, opts())
	assert.Equal(t, Placeholder, res.Text)
	assert.Empty(t, res.Scores)
}

func TestFuse_Deterministic(t *testing.T) {
	s := selector(t,
		fixed("tesseract", "t", 64),
		fixed("paddle", "p", 64),
		fixed("easyocr", "e", 64),
	)
	for i := 0; i < 20; i++ {
		assert.Equal(t, "tesseract", s.Fuse(context.Background(), nil, opts()).Engine)
	}
}

func TestResultMeta_JSON(t *testing.T) {
	v := 6
	res := Result{
		Engine:  "paddle",
		Text:    "x",
		Score:   91.456,
		Variant: &v,
		Scores:  map[string]float64{"tesseract": 88.004, "paddle": 91.456, "easyocr": -1},
	}
	data, err := json.Marshal(res.Meta())
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, map[string]interface{}{
		"engine":          "paddle",
		"score":           91.46,
		"tesseract_score": 88.0,
		"paddle_score":    91.46,
		"easyocr_score":   -1.0,
		"variant":         6.0,
	}, got)
}
