package engines

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScale_Apply(t *testing.T) {
	assert.InDelta(t, 93.0, ScaleUnit.Apply(0.93), 1e-9)
	assert.Equal(t, 100.0, ScaleUnit.Apply(1))
	assert.Equal(t, 0.0, ScaleUnit.Apply(0))
	assert.Equal(t, 87.5, ScalePercent.Apply(87.5))
	assert.Equal(t, 1.0, ScalePercent.Apply(1), "a low percent confidence is not rescaled")
}

func TestFromLines_MeanOnHundredScale(t *testing.T) {
	c := FromLines("paddle", ScaleUnit, []Line{
		{Text: " 첫 줄 ", Confidence: 0.9},
		{Text: "", Confidence: 0.1},
		{Text: "second line", Confidence: 0.7},
	})
	assert.Equal(t, "paddle", c.Engine)
	assert.Equal(t, "첫 줄\nsecond line", c.Text)
	assert.InDelta(t, 80.0, c.Score, 1e-9)
	assert.Nil(t, c.Variant)
}

func TestFromLines_ScaleIsFixedPerBackend(t *testing.T) {
	c := FromLines("reader", ScalePercent, []Line{
		{Text: "faint", Confidence: 1},
		{Text: "clear", Confidence: 95},
	})
	assert.InDelta(t, 48.0, c.Score, 1e-9)
}

func TestFromLines_NoTextIsNoOpinion(t *testing.T) {
	c := FromLines("easyocr", ScaleUnit, []Line{{Text: "   ", Confidence: 0.99}})
	assert.False(t, c.HasText())
	assert.Equal(t, NoOpinionScore, c.Score)

	assert.Equal(t, NoOpinionScore, FromLines("easyocr", ScaleUnit, nil).Score)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, NoOpinionScore, Median(nil))
	assert.Equal(t, 5.0, Median([]float64{9, 1, 5}))
	assert.Equal(t, 4.0, Median([]float64{1, 3, 5, 96}))

	in := []float64{3, 1, 2}
	Median(in)
	assert.Equal(t, []float64{3, 1, 2}, in, "input must not be reordered")
}

func TestEffectiveScore(t *testing.T) {
	assert.Equal(t, NoOpinionScore, Candidate{Text: "", Score: 99}.Effective())
	assert.Equal(t, NoOpinionScore, Candidate{Text: " \n", Score: 99}.Effective())
	assert.Equal(t, 12.0, Candidate{Text: "a", Score: 12}.Effective())
}

func TestSplitLanguages(t *testing.T) {
	assert.Equal(t, []string{"kor", "eng"}, SplitLanguages("kor+eng"))
	assert.Equal(t, []string{"eng"}, SplitLanguages(" eng + "))
	assert.Nil(t, SplitLanguages(""))
}
