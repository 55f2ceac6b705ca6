package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/docassist-worker/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Language:         "kor+eng",
		PSMVariants:      []int{4, 6},
		OCRTimeout:       30 * time.Second,
		TableAreaRatio:   0.02,
		OverlayThickness: 3,
		OverlayFontScale: 0.8,
		OverlayMinArea:   100,
		Engines: []config.EngineConfig{
			{Name: "tesseract", Kind: config.KindTesseract, Enabled: true},
			{Name: "paddle", Kind: config.KindPaddle, Enabled: false, URL: "http://p"},
			{Name: "easyocr", Kind: config.KindEasyOCR, Enabled: true, URL: "http://e", Serialize: true, Timeout: time.Minute},
		},
	}
}

func TestEngineRegistrations(t *testing.T) {
	regs, err := engineRegistrations(testConfig())
	require.NoError(t, err)
	require.Len(t, regs, 2)

	assert.Equal(t, "tesseract", regs[0].Engine.Name())
	assert.False(t, regs[0].Serialize)
	assert.Equal(t, "easyocr", regs[1].Engine.Name())
	assert.True(t, regs[1].Serialize)
	assert.Equal(t, time.Minute, regs[1].Timeout)
}

func TestEngineRegistrations_UnknownKind(t *testing.T) {
	cfg := testConfig()
	cfg.Engines = []config.EngineConfig{{Name: "x", Kind: "cloud", Enabled: true}}
	_, err := engineRegistrations(cfg)
	assert.Error(t, err)
}

func TestHTTPTimeout(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, time.Minute, httpTimeout(cfg, cfg.Engines[1]))
	assert.Equal(t, 2*time.Minute, httpTimeout(cfg, cfg.Engines[2]))
}

func TestDerivedOptions(t *testing.T) {
	cfg := testConfig()

	dc := detectorConfig(cfg)
	assert.Equal(t, 0.02, dc.AreaRatio)
	assert.Equal(t, 50, dc.KernelDivisor)

	oo := overlayOptions(cfg)
	assert.Equal(t, 3, oo.Thickness)
	assert.Equal(t, 100, oo.MinArea)

	fo := fusionOptions(cfg)
	assert.Equal(t, []int{4, 6}, fo.Variants)
	assert.Equal(t, 30*time.Second, fo.TimeLimit)
	assert.Empty(t, fo.Engines)
}
