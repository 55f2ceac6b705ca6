package model

import (
	"encoding/json"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/docassist-worker/internal/errors"
)

func TestBBox_Clamp(t *testing.T) {
	box, ok := BBox{-10, -5, 700, 500}.Clamp(600, 400)
	require.True(t, ok)
	assert.Equal(t, BBox{0, 0, 599, 399}, box)

	box, ok = BBox{300, 200, 100, 50}.Clamp(600, 400)
	require.True(t, ok)
	assert.Equal(t, BBox{100, 50, 300, 200}, box, "swapped corners are reordered")

	_, ok = BBox{700, 10, 800, 50}.Clamp(600, 400)
	assert.False(t, ok)

	_, ok = BBox{10, 10, 10, 50}.Clamp(600, 400)
	assert.False(t, ok, "zero width")
}

func TestBBox_Geometry(t *testing.T) {
	b := NewBBox(image.Rect(10, 20, 110, 70))
	assert.Equal(t, BBox{10, 20, 110, 70}, b)
	assert.Equal(t, 5000, b.Area())
	assert.Equal(t, image.Rect(10, 20, 110, 70), b.Rect())
	assert.Equal(t, "[10,20,110,70]", b.String())
	assert.Equal(t, 0, BBox{5, 5, 5, 9}.Area())
}

func TestRegion_JSONShape(t *testing.T) {
	r := Region{
		ID:    "t100_100",
		Kind:  KindTable,
		BBox:  BBox{100, 100, 400, 300},
		Table: &RegionTable{ImageURL: "/captures/tables/a_t2.png", Raw: "cells"},
	}
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"t100_100","type":"table","bbox":[100,100,400,300],"content":null,
		"table":{"imageUrl":"/captures/tables/a_t2.png","raw":"cells"}}`, string(data))
}

func TestLayout_Count(t *testing.T) {
	l := &Layout{Blocks: []Region{{Kind: KindText}, {Kind: KindTable}, {Kind: KindTable}}}
	assert.Equal(t, 1, l.Count(KindText))
	assert.Equal(t, 2, l.Count(KindTable))
	assert.Equal(t, 0, l.Count(KindFigure))
}

func TestParseKind(t *testing.T) {
	assert.Equal(t, KindTable, ParseKind(" Table "))
	assert.Equal(t, Kind("unknown"), ParseKind(""))
	assert.Equal(t, Kind("list"), ParseKind("LIST"))
}

func TestOCRMeta_MarshalFlat(t *testing.T) {
	v := 6
	m := OCRMeta{
		Engine:  "paddle",
		Score:   91.234,
		Scores:  map[string]float64{"tesseract": 88.006, "paddle": 91.234},
		Variant: &v,
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"engine":"paddle","score":91.23,"tesseract_score":88.01,"paddle_score":91.23,"variant":6}`, string(data))

	data, err = json.Marshal(OCRMeta{Engine: "easyocr", Score: -1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"engine":"easyocr","score":-1,"variant":null}`, string(data))
}

func TestOCRMeta_UnmarshalAcceptsPSM(t *testing.T) {
	var m OCRMeta
	require.NoError(t, json.Unmarshal([]byte(`{"engine":"tesseract","score":70.5,"tesseract_score":70.5,"easyocr_score":-1,"psm":4}`), &m))
	assert.Equal(t, "tesseract", m.Engine)
	assert.Equal(t, 70.5, m.Score)
	require.NotNil(t, m.Variant)
	assert.Equal(t, 4, *m.Variant)
	assert.Equal(t, []string{"easyocr", "tesseract"}, m.EngineNames())
	assert.Equal(t, -1.0, m.Scores["easyocr"])
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 77.12, Round2(77.1249))
	assert.Equal(t, 77.13, Round2(77.125))
	assert.Equal(t, -1.0, Round2(-1))
}

func TestRegionFromMap_KeyVariants(t *testing.T) {
	r, err := RegionFromMap(1, map[string]interface{}{"type": "Table", "bbox": []interface{}{1.0, 2.0, 30.0, 40.0}, "content": "x"})
	require.NoError(t, err)
	assert.Equal(t, KindTable, r.Kind)
	assert.Equal(t, BBox{1, 2, 30, 40}, r.BBox)
	assert.Equal(t, "r1", r.ID)
	assert.Equal(t, "x", r.Content)

	r, err = RegionFromMap(2, map[string]interface{}{"cls": "text", "box": []int{5, 6, 7, 8}, "id": "b9", "score": 0.93})
	require.NoError(t, err)
	assert.Equal(t, KindText, r.Kind)
	assert.Equal(t, "b9", r.ID)
	require.NotNil(t, r.Score)
	assert.Equal(t, 0.93, *r.Score)

	r, err = RegionFromMap(3, map[string]interface{}{"poly": []interface{}{
		[]interface{}{10.0, 50.0}, []interface{}{90.0, 40.0}, []interface{}{80.0, 70.0},
	}})
	require.NoError(t, err)
	assert.Equal(t, BBox{10, 40, 90, 70}, r.BBox)
	assert.Equal(t, Kind("unknown"), r.Kind)
}

func TestRegionFromMap_Invalid(t *testing.T) {
	cases := map[string]map[string]interface{}{
		"no box":        {"type": "text"},
		"short box":     {"bbox": []interface{}{1.0, 2.0}},
		"non numeric":   {"bbox": []interface{}{"a", 2.0, 3.0, 4.0}},
		"bad polygon":   {"poly": []interface{}{[]interface{}{1.0}}},
		"unknown shape": {"bbox": "0,0,1,1"},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := RegionFromMap(4, m)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidRegion))
		})
	}
}

func TestRegionsFromMaps_KeepsOrderAndReports(t *testing.T) {
	regions, errs := RegionsFromMaps([]map[string]interface{}{
		{"type": "text", "bbox": []int{0, 0, 10, 10}},
		{"type": "text"},
		{"type": "table", "bbox": []int{5, 5, 50, 50}},
	})
	require.Len(t, regions, 2)
	assert.Equal(t, KindText, regions[0].Kind)
	assert.Equal(t, KindTable, regions[1].Kind)
	assert.Equal(t, "r3", regions[1].ID)
	require.Len(t, errs, 1)
}

func TestBlocksFromJSON(t *testing.T) {
	blocks, err := BlocksFromJSON([]byte(`{"blocks":[{"type":"text","bbox":[0,0,1,1]}]}`))
	require.NoError(t, err)
	assert.Len(t, blocks, 1)

	blocks, err = BlocksFromJSON([]byte(`[{"type":"table"},{"type":"text"}]`))
	require.NoError(t, err)
	assert.Len(t, blocks, 2)

	_, err = BlocksFromJSON([]byte(`"layout"`))
	assert.Error(t, err)
}
