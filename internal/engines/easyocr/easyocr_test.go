package easyocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/docassist-worker/internal/engines"
)

func TestRecognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, readPath, r.URL.Path)
		var req readRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"ko", "en"}, req.Languages)
		assert.NotEmpty(t, req.Image)

		w.Write([]byte(`{"results":[
			{"text":"Invoice 2024","confidence":0.5,"box":[[0,0],[9,0],[9,9],[0,9]]},
			{"text":"합계","confidence":0.7,"box":[]}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second)
	cand, err := c.Recognize(context.Background(), engines.Request{Image: engines.ProbeImage(), Language: "kor+eng"})
	require.NoError(t, err)
	assert.Equal(t, Name, cand.Engine)
	assert.Equal(t, "Invoice 2024\n합계", cand.Text)
	assert.InDelta(t, 60.0, cand.Score, 1e-9)
}

func TestRecognize_ReportedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[],"error":"reader not initialised"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Recognize(context.Background(), engines.Request{Image: engines.ProbeImage()})
	assert.ErrorContains(t, err, "reader not initialised")
}

func TestRecognize_NoImage(t *testing.T) {
	_, err := New("http://127.0.0.1:1", time.Second).Recognize(context.Background(), engines.Request{})
	assert.Error(t, err)
}

func TestLanguages(t *testing.T) {
	assert.Equal(t, []string{"ko", "en"}, Languages("kor+eng"))
	assert.Equal(t, []string{"ch_sim", "xx"}, Languages("chi_sim+xx"))
	assert.Empty(t, Languages(""))
}
