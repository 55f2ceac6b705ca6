package model

import (
	"encoding/json"
	"fmt"
	"math"

	apperrors "github.com/adverant/nexus/docassist-worker/internal/errors"
)

// Upstream producers name the box and the kind differently. Lookup happens
// here, once, when raw blocks enter the system.
var (
	boxKeys  = []string{"bbox", "box", "poly"}
	kindKeys = []string{"type", "cls"}
)

// RegionFromMap converts one heterogeneous block into the canonical Region.
// index is the 1-based position used in error messages.
func RegionFromMap(index int, m map[string]interface{}) (Region, error) {
	var rawBox interface{}
	for _, k := range boxKeys {
		if v, ok := m[k]; ok && v != nil {
			rawBox = v
			break
		}
	}
	if rawBox == nil {
		return Region{}, apperrors.NewInvalidRegionError(index, "no bbox, box or poly key")
	}

	box, err := parseBox(rawBox)
	if err != nil {
		return Region{}, apperrors.NewInvalidRegionError(index, err.Error())
	}

	kind := Kind("unknown")
	for _, k := range kindKeys {
		if s, ok := m[k].(string); ok && s != "" {
			kind = ParseKind(s)
			break
		}
	}

	r := Region{
		Kind:    kind,
		BBox:    box,
		Content: m["content"],
	}
	if id, ok := m["id"].(string); ok {
		r.ID = id
	} else {
		r.ID = fmt.Sprintf("r%d", index)
	}
	if s, ok := toFloat(m["score"]); ok {
		r.Score = &s
	}
	return r, nil
}

// RegionsFromMaps normalises a block list. Blocks that cannot be resolved are
// reported and left out; the rest keep their order.
func RegionsFromMaps(blocks []map[string]interface{}) ([]Region, []error) {
	regions := make([]Region, 0, len(blocks))
	var errs []error
	for i, b := range blocks {
		r, err := RegionFromMap(i+1, b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		regions = append(regions, r)
	}
	return regions, errs
}

// BlocksFromJSON accepts either {"blocks":[...]} or a bare list of blocks.
func BlocksFromJSON(data []byte) ([]map[string]interface{}, error) {
	var wrapped struct {
		Blocks []map[string]interface{} `json:"blocks"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Blocks != nil {
		return wrapped.Blocks, nil
	}
	var list []map[string]interface{}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("layout must be a list or {\"blocks\": [...]}: %w", err)
	}
	return list, nil
}

// parseBox accepts [x1,y1,x2,y2,...] or a polygon [[x,y],...]; a polygon
// becomes its bounding rectangle.
func parseBox(v interface{}) (BBox, error) {
	switch t := v.(type) {
	case BBox:
		return t, nil
	case []int:
		if len(t) < 4 {
			return BBox{}, fmt.Errorf("box needs 4 values, got %d", len(t))
		}
		return BBox{t[0], t[1], t[2], t[3]}, nil
	case []float64:
		if len(t) < 4 {
			return BBox{}, fmt.Errorf("box needs 4 values, got %d", len(t))
		}
		return BBox{int(t[0]), int(t[1]), int(t[2]), int(t[3])}, nil
	case []interface{}:
		if len(t) == 0 {
			return BBox{}, fmt.Errorf("empty box")
		}
		if _, isPoint := t[0].([]interface{}); isPoint {
			return polygonBounds(t)
		}
		if len(t) < 4 {
			return BBox{}, fmt.Errorf("box needs 4 values, got %d", len(t))
		}
		var out BBox
		for i := 0; i < 4; i++ {
			f, ok := toFloat(t[i])
			if !ok {
				return BBox{}, fmt.Errorf("box value %d is not a number", i)
			}
			out[i] = int(f)
		}
		return out, nil
	default:
		return BBox{}, fmt.Errorf("unsupported box shape %T", v)
	}
}

func polygonBounds(points []interface{}) (BBox, error) {
	minX, minY := math.MaxFloat64, math.MaxFloat64
	maxX, maxY := -math.MaxFloat64, -math.MaxFloat64
	for i, p := range points {
		pt, ok := p.([]interface{})
		if !ok || len(pt) < 2 {
			return BBox{}, fmt.Errorf("polygon point %d is malformed", i)
		}
		x, okX := toFloat(pt[0])
		y, okY := toFloat(pt[1])
		if !okX || !okY {
			return BBox{}, fmt.Errorf("polygon point %d is not numeric", i)
		}
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return BBox{int(minX), int(minY), int(maxX), int(maxY)}, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
