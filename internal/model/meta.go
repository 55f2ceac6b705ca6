package model

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
)

const scoreSuffix = "_score"

// OCRMeta describes how a text was chosen. It marshals flat:
//
//	{"engine":"paddle","score":91.2,"tesseract_score":88.0,"paddle_score":91.2,"variant":6}
type OCRMeta struct {
	Engine  string
	Score   float64
	Scores  map[string]float64
	Variant *int
}

// Round2 rounds to two decimals, the precision used in stored metadata.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (m OCRMeta) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(m.Scores)+3)
	out["engine"] = m.Engine
	out["score"] = Round2(m.Score)
	for name, s := range m.Scores {
		out[name+scoreSuffix] = Round2(s)
	}
	if m.Variant != nil {
		out["variant"] = *m.Variant
	} else {
		out["variant"] = nil
	}
	return json.Marshal(out)
}

func (m *OCRMeta) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = OCRMeta{Scores: map[string]float64{}}
	for k, v := range raw {
		switch {
		case k == "engine":
			m.Engine, _ = v.(string)
		case k == "score":
			m.Score, _ = v.(float64)
		case k == "variant" || k == "psm":
			if f, ok := v.(float64); ok {
				n := int(f)
				m.Variant = &n
			}
		case strings.HasSuffix(k, scoreSuffix):
			if f, ok := v.(float64); ok {
				m.Scores[strings.TrimSuffix(k, scoreSuffix)] = f
			}
		}
	}
	return nil
}

// EngineNames returns the scored engine names in lexical order.
func (m OCRMeta) EngineNames() []string {
	names := make([]string, 0, len(m.Scores))
	for n := range m.Scores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
