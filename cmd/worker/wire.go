package main

import (
	"fmt"
	"time"

	"github.com/adverant/nexus/docassist-worker/internal/config"
	"github.com/adverant/nexus/docassist-worker/internal/engines"
	"github.com/adverant/nexus/docassist-worker/internal/engines/easyocr"
	"github.com/adverant/nexus/docassist-worker/internal/engines/paddle"
	"github.com/adverant/nexus/docassist-worker/internal/engines/tesseract"
	"github.com/adverant/nexus/docassist-worker/internal/fusion"
	"github.com/adverant/nexus/docassist-worker/internal/layout"
	"github.com/adverant/nexus/docassist-worker/internal/overlay"
)

// engineRegistrations turns the enabled declarations into registry entries,
// keeping declaration order.
func engineRegistrations(cfg *config.Config) ([]engines.Registration, error) {
	var regs []engines.Registration
	for _, e := range cfg.EnabledEngines() {
		var eng engines.Engine
		switch e.Kind {
		case config.KindTesseract:
			tc := tesseract.DefaultConfig()
			tc.Language = cfg.Language
			if len(cfg.PSMVariants) > 0 {
				tc.DefaultMode = cfg.PSMVariants[0]
			}
			eng = tesseract.New(tc)
		case config.KindPaddle:
			eng = paddle.New(e.URL, httpTimeout(cfg, e))
		case config.KindEasyOCR:
			eng = easyocr.New(e.URL, httpTimeout(cfg, e))
		default:
			return nil, fmt.Errorf("engine %q has unknown kind %q", e.Name, e.Kind)
		}
		regs = append(regs, engines.Registration{
			Engine:    eng,
			Serialize: e.Serialize,
			Timeout:   e.Timeout,
		})
	}
	return regs, nil
}

// httpTimeout bounds one HTTP exchange with an engine service. It never cuts
// below the per-call limit.
func httpTimeout(cfg *config.Config, e config.EngineConfig) time.Duration {
	limit := cfg.OCRTimeout
	if e.Timeout > limit {
		limit = e.Timeout
	}
	return limit * 2
}

func detectorConfig(cfg *config.Config) layout.Config {
	dc := layout.DefaultConfig()
	dc.AreaRatio = cfg.TableAreaRatio
	return dc
}

func overlayOptions(cfg *config.Config) overlay.Options {
	return overlay.Options{
		Thickness: cfg.OverlayThickness,
		FontScale: cfg.OverlayFontScale,
		MinArea:   cfg.OverlayMinArea,
	}
}

func fusionOptions(cfg *config.Config) fusion.Options {
	return fusion.Options{
		Language:  cfg.Language,
		Variants:  cfg.PSMVariants,
		TimeLimit: cfg.OCRTimeout,
	}
}
