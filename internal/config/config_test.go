package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite://data/docassist.db", cfg.DatabaseURL)
	assert.Equal(t, QueueRedis, cfg.QueueBackend)
	assert.Equal(t, "docassist:jobs", cfg.QueueName)
	assert.Equal(t, 5*time.Minute, cfg.ProcessingTimeout)
	assert.Equal(t, 30*time.Second, cfg.OCRTimeout)
	assert.Equal(t, []int{6, 4, 11}, cfg.PSMVariants)
	assert.Equal(t, 1600, cfg.MaxShortSide)
	assert.Equal(t, int64(178956970), cfg.MaxImagePixels)
	assert.True(t, cfg.CompactLines)
	assert.Equal(t, 0.01, cfg.TableAreaRatio)

	require.Len(t, cfg.Engines, 3)
	assert.Equal(t, []string{"tesseract", "paddle", "easyocr"},
		[]string{cfg.Engines[0].Name, cfg.Engines[1].Name, cfg.Engines[2].Name})
	enabled := cfg.EnabledEngines()
	require.Len(t, enabled, 1)
	assert.Equal(t, KindTesseract, enabled[0].Kind)
	assert.True(t, cfg.Engines[2].Serialize)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "ASYNQ")
	t.Setenv("REGION_CONCURRENCY", "8")
	t.Setenv("OCR_PSM_VARIANTS", " 3, 6 ")
	t.Setenv("OCR_COMPACT_LINES", "false")
	t.Setenv("ENABLE_PADDLE", "true")
	t.Setenv("PADDLE_URL", "http://paddle:9000")
	t.Setenv("TABLE_AREA_RATIO", "0.05")
	t.Setenv("PROCESSING_TIMEOUT", "60000")
	t.Setenv("MAX_IMAGE_PIXELS", "40000000")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, QueueAsynq, cfg.QueueBackend)
	assert.Equal(t, 8, cfg.RegionConcurrency)
	assert.Equal(t, []int{3, 6}, cfg.PSMVariants)
	assert.False(t, cfg.CompactLines)
	assert.Equal(t, 0.05, cfg.TableAreaRatio)
	assert.Equal(t, time.Minute, cfg.ProcessingTimeout)
	assert.Equal(t, int64(40000000), cfg.MaxImagePixels)

	enabled := cfg.EnabledEngines()
	require.Len(t, enabled, 2)
	assert.Equal(t, "http://paddle:9000", enabled[1].URL)
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "many")
	t.Setenv("OCR_PSM_VARIANTS", "6,x")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.WorkerConcurrency)
	assert.Equal(t, []int{6, 4, 11}, cfg.PSMVariants)
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"queue backend":      {"QUEUE_BACKEND": "kafka"},
		"region concurrency": {"REGION_CONCURRENCY": "0"},
		"psm range":          {"OCR_PSM_VARIANTS": "6,14"},
		"area ratio":         {"TABLE_AREA_RATIO": "1.5"},
		"thickness":          {"OVERLAY_THICKNESS": "0"},
		"image pixels":       {"MAX_IMAGE_PIXELS": "0"},
		"no http no queue":   {"QUEUE_BACKEND": "none", "HTTP_ADDR": " "},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestParseEngines(t *testing.T) {
	data := []byte(`
engines:
  - name: paddle
    enabled: true
    url: http://paddle:8866
    timeout: 45s
  - name: tess
    kind: Tesseract
    enabled: true
  - name: easyocr
    enabled: false
    serialize: true
`)
	engines, err := ParseEngines(data)
	require.NoError(t, err)
	require.Len(t, engines, 3)

	assert.Equal(t, KindPaddle, engines[0].Kind)
	assert.Equal(t, 45*time.Second, engines[0].Timeout)
	assert.Equal(t, KindTesseract, engines[1].Kind)
	assert.Equal(t, "tess", engines[1].Name)
	assert.False(t, engines[2].Enabled)
	assert.True(t, engines[2].Serialize)
}

func TestLoadConfig_EnginesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engines.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engines:\n  - name: easyocr\n    enabled: true\n    url: http://e:1\n"), 0o644))
	t.Setenv("ENGINES_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Len(t, cfg.Engines, 1)
	assert.Equal(t, KindEasyOCR, cfg.Engines[0].Kind)
}

func TestLoadConfig_EnginesFileErrors(t *testing.T) {
	t.Setenv("ENGINES_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidateEngines(t *testing.T) {
	base := func() *Config {
		t.Setenv("ENGINES_FILE", "")
		cfg, err := LoadConfig()
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Engines = []EngineConfig{{Name: "a", Kind: KindTesseract}, {Name: "a", Kind: KindTesseract}}
	assert.ErrorContains(t, cfg.Validate(), "declared twice")

	cfg = base()
	cfg.Engines = []EngineConfig{{Name: "p", Kind: KindPaddle, Enabled: true}}
	assert.ErrorContains(t, cfg.Validate(), "requires a url")

	cfg = base()
	cfg.Engines = []EngineConfig{{Name: "p", Kind: KindPaddle}}
	assert.NoError(t, cfg.Validate(), "a disabled http engine needs no url")

	cfg = base()
	cfg.Engines = []EngineConfig{{Name: "x", Kind: "gpt"}}
	assert.ErrorContains(t, cfg.Validate(), "unknown kind")
}
