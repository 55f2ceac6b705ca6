/**
 * Configuration for the docassist worker
 *
 * Loads configuration from environment variables (a .env file is applied
 * by main before LoadConfig runs). The engine registry can instead be
 * declared in a YAML file named by ENGINES_FILE.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine kinds understood by the registry builder.
const (
	KindTesseract = "tesseract"
	KindPaddle    = "paddle"
	KindEasyOCR   = "easyocr"
)

// Queue backends.
const (
	QueueRedis = "redis"
	QueueAsynq = "asynq"
	QueueNone  = "none"
)

// Config holds worker configuration
type Config struct {
	// Storage
	DatabaseURL string
	CapturesDir string

	// Queue
	RedisURL          string
	QueueName         string
	QueueBackend      string
	WorkerConcurrency int
	ProcessingTimeout time.Duration

	// HTTP surface; empty disables it
	HTTPAddr string

	// Page pipeline
	RegionConcurrency int
	MaxFileSize       int64
	MaxImagePixels    int64
	MaxShortSide      int
	CompactLines      bool

	// Recognition
	Language     string
	PSMVariants  []int
	OCRTimeout   time.Duration
	ProbeTimeout time.Duration
	EnginesFile  string
	Engines      []EngineConfig

	// Region detector
	TableAreaRatio float64

	// Overlay
	OverlayThickness int
	OverlayFontScale float64
	OverlayMinArea   int

	// Logging
	LogLevel  string
	LogFormat string
	AppEnv    string
}

// EngineConfig declares one recognition engine. Declaration order is the
// tie-break order of the fusion selector.
type EngineConfig struct {
	Name      string        `yaml:"name"`
	Kind      string        `yaml:"kind"`
	Enabled   bool          `yaml:"enabled"`
	URL       string        `yaml:"url,omitempty"`
	Serialize bool          `yaml:"serialize,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

type enginesFile struct {
	Engines []EngineConfig `yaml:"engines"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       getEnvOrDefault("DATABASE_URL", "sqlite://data/docassist.db"),
		CapturesDir:       getEnvOrDefault("CAPTURES_DIR", "captures"),
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		QueueName:         getEnvOrDefault("QUEUE_NAME", "docassist:jobs"),
		QueueBackend:      strings.ToLower(getEnvOrDefault("QUEUE_BACKEND", QueueRedis)),
		WorkerConcurrency: getEnvAsIntOrDefault("WORKER_CONCURRENCY", 2),
		ProcessingTimeout: time.Duration(getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000)) * time.Millisecond, // 5 minutes
		HTTPAddr:          getEnvOrDefault("HTTP_ADDR", ":8000"),
		RegionConcurrency: getEnvAsIntOrDefault("REGION_CONCURRENCY", 4),
		MaxFileSize:       getEnvAsInt64OrDefault("MAX_FILE_SIZE", 52428800), // 50MB
		MaxImagePixels:    getEnvAsInt64OrDefault("MAX_IMAGE_PIXELS", 178956970),
		MaxShortSide:      getEnvAsIntOrDefault("MAX_SHORT_SIDE", 1600),
		CompactLines:      getEnvAsBoolOrDefault("OCR_COMPACT_LINES", true),
		Language:          getEnvOrDefault("OCR_LANGUAGE", "kor+eng"),
		PSMVariants:       getEnvAsIntListOrDefault("OCR_PSM_VARIANTS", []int{6, 4, 11}),
		OCRTimeout:        time.Duration(getEnvAsIntOrDefault("OCR_TIMEOUT_SECONDS", 30)) * time.Second,
		ProbeTimeout:      time.Duration(getEnvAsIntOrDefault("ENGINE_PROBE_SECONDS", 10)) * time.Second,
		EnginesFile:       getEnvOrDefault("ENGINES_FILE", ""),
		TableAreaRatio:    getEnvAsFloatOrDefault("TABLE_AREA_RATIO", 0.01),
		OverlayThickness:  getEnvAsIntOrDefault("OVERLAY_THICKNESS", 2),
		OverlayFontScale:  getEnvAsFloatOrDefault("OVERLAY_FONT_SCALE", 0.6),
		OverlayMinArea:    getEnvAsIntOrDefault("OVERLAY_MIN_AREA", 0),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         getEnvOrDefault("LOG_FORMAT", "text"),
		AppEnv:            getEnvOrDefault("APP_ENV", "development"),
	}

	if cfg.EnginesFile != "" {
		engines, err := LoadEnginesFile(cfg.EnginesFile)
		if err != nil {
			return nil, err
		}
		cfg.Engines = engines
	} else {
		cfg.Engines = enginesFromEnv()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// enginesFromEnv declares the three engines in their fixed order.
func enginesFromEnv() []EngineConfig {
	return []EngineConfig{
		{
			Name:    KindTesseract,
			Kind:    KindTesseract,
			Enabled: getEnvAsBoolOrDefault("ENABLE_TESSERACT", true),
		},
		{
			Name:    KindPaddle,
			Kind:    KindPaddle,
			Enabled: getEnvAsBoolOrDefault("ENABLE_PADDLE", false),
			URL:     getEnvOrDefault("PADDLE_URL", "http://localhost:8866"),
		},
		{
			Name:      KindEasyOCR,
			Kind:      KindEasyOCR,
			Enabled:   getEnvAsBoolOrDefault("ENABLE_EASYOCR", false),
			URL:       getEnvOrDefault("EASYOCR_URL", "http://localhost:8867"),
			Serialize: true,
		},
	}
}

// LoadEnginesFile reads an engine registry declaration.
func LoadEnginesFile(path string) ([]EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read engines file: %w", err)
	}
	return ParseEngines(data)
}

// ParseEngines decodes the YAML engine list. A missing kind defaults to the name.
func ParseEngines(data []byte) ([]EngineConfig, error) {
	var f enginesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse engines file: %w", err)
	}
	for i := range f.Engines {
		e := &f.Engines[i]
		e.Name = strings.TrimSpace(e.Name)
		e.Kind = strings.ToLower(strings.TrimSpace(e.Kind))
		if e.Kind == "" {
			e.Kind = strings.ToLower(e.Name)
		}
	}
	return f.Engines, nil
}

// EnabledEngines returns the enabled declarations in order.
func (c *Config) EnabledEngines() []EngineConfig {
	var out []EngineConfig
	for _, e := range c.Engines {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.CapturesDir == "" {
		return fmt.Errorf("CAPTURES_DIR is required")
	}

	switch c.QueueBackend {
	case QueueRedis, QueueAsynq:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for queue backend %s", c.QueueBackend)
		}
		if c.QueueName == "" {
			return fmt.Errorf("QUEUE_NAME is required for queue backend %s", c.QueueBackend)
		}
	case QueueNone:
	default:
		return fmt.Errorf("QUEUE_BACKEND must be redis, asynq or none, got %q", c.QueueBackend)
	}

	if c.QueueBackend == QueueNone && strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("HTTP_ADDR is required when QUEUE_BACKEND is none")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.RegionConcurrency < 1 || c.RegionConcurrency > 64 {
		return fmt.Errorf("REGION_CONCURRENCY must be between 1 and 64, got %d", c.RegionConcurrency)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 1GB, got %d", c.MaxFileSize)
	}
	if c.MaxImagePixels < 1 {
		return fmt.Errorf("MAX_IMAGE_PIXELS must be positive, got %d", c.MaxImagePixels)
	}

	if c.MaxShortSide < 0 {
		return fmt.Errorf("MAX_SHORT_SIDE must not be negative, got %d", c.MaxShortSide)
	}

	if c.ProcessingTimeout <= 0 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be positive")
	}

	if c.OCRTimeout <= 0 {
		return fmt.Errorf("OCR_TIMEOUT_SECONDS must be positive")
	}

	if len(c.PSMVariants) == 0 {
		return fmt.Errorf("OCR_PSM_VARIANTS must list at least one mode")
	}
	for _, v := range c.PSMVariants {
		if v < 0 || v > 13 {
			return fmt.Errorf("OCR_PSM_VARIANTS contains invalid mode %d", v)
		}
	}

	if c.TableAreaRatio < 0 || c.TableAreaRatio >= 1 {
		return fmt.Errorf("TABLE_AREA_RATIO must be in [0,1), got %v", c.TableAreaRatio)
	}

	if c.OverlayThickness < 1 {
		return fmt.Errorf("OVERLAY_THICKNESS must be at least 1, got %d", c.OverlayThickness)
	}

	if c.OverlayFontScale <= 0 {
		return fmt.Errorf("OVERLAY_FONT_SCALE must be positive, got %v", c.OverlayFontScale)
	}

	return c.validateEngines()
}

func (c *Config) validateEngines() error {
	seen := make(map[string]bool, len(c.Engines))
	for i, e := range c.Engines {
		if e.Name == "" {
			return fmt.Errorf("engine %d has no name", i)
		}
		if seen[e.Name] {
			return fmt.Errorf("engine %q declared twice", e.Name)
		}
		seen[e.Name] = true

		switch e.Kind {
		case KindTesseract:
		case KindPaddle, KindEasyOCR:
			if e.Enabled && e.URL == "" {
				return fmt.Errorf("engine %q of kind %s requires a url", e.Name, e.Kind)
			}
		default:
			return fmt.Errorf("engine %q has unknown kind %q", e.Name, e.Kind)
		}

		if e.Timeout < 0 {
			return fmt.Errorf("engine %q has a negative timeout", e.Name)
		}
	}
	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(strings.TrimSpace(valueStr), 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsIntListOrDefault parses a comma separated list such as "6,4,11".
func getEnvAsIntListOrDefault(key string, defaultValue []int) []int {
	valueStr := os.Getenv(key)
	if strings.TrimSpace(valueStr) == "" {
		return defaultValue
	}

	var out []int
	for _, part := range strings.Split(valueStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return defaultValue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
