package errors

import (
	"fmt"
	"time"
)

/**
 * Custom error types for the docassist worker
 *
 * Design Pattern: Factory Pattern for error creation
 * Callers match on codes with the standard errors.Is against the sentinels below.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Page errors (fatal to the page)
	ErrorImageDecode ErrorCode = "IMAGE_DECODE_FAILED"
	ErrorNotFound    ErrorCode = "NOT_FOUND"

	// Engine errors (demoted to no-opinion candidates)
	ErrorEngineUnavailable ErrorCode = "ENGINE_UNAVAILABLE"
	ErrorEngineTimeout     ErrorCode = "ENGINE_TIMEOUT"
	ErrorEngineFailed      ErrorCode = "ENGINE_FAILED"

	// Region errors (region skipped)
	ErrorInvalidRegion ErrorCode = "INVALID_REGION"

	// Processing errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// Sentinels for errors.Is; any ProcessingError with the same code matches.
var (
	ErrImageDecode       = &ProcessingError{Code: ErrorImageDecode}
	ErrNotFound          = &ProcessingError{Code: ErrorNotFound}
	ErrEngineUnavailable = &ProcessingError{Code: ErrorEngineUnavailable}
	ErrEngineTimeout     = &ProcessingError{Code: ErrorEngineTimeout}
	ErrEngineFailed      = &ProcessingError{Code: ErrorEngineFailed}
	ErrInvalidRegion     = &ProcessingError{Code: ErrorInvalidRegion}
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a ProcessingError with the same code.
func (e *ProcessingError) Is(target error) bool {
	t, ok := target.(*ProcessingError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Factory functions for common errors

func NewImageDecodeError(source string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorImageDecode,
		Message:   fmt.Sprintf("Cannot decode image: %s", source),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"source": source,
		},
		Cause: cause,
	}
}

func NewNotFoundError(source string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorNotFound,
		Message:   fmt.Sprintf("Source not found: %s", source),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"source": source,
		},
	}
}

func NewEngineUnavailableError(engine string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorEngineUnavailable,
		Message:   fmt.Sprintf("OCR engine unavailable: %s", engine),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

func NewEngineTimeoutError(engine string, limit time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorEngineTimeout,
		Message:   fmt.Sprintf("OCR engine %s timed out after %v", engine, limit),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine":           engine,
			"timeout_duration": limit.String(),
		},
		Cause: cause,
	}
}

func NewEngineFailedError(engine string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorEngineFailed,
		Message:   fmt.Sprintf("OCR engine failed: %s", engine),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

func NewInvalidRegionError(index int, reason string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidRegion,
		Message:   fmt.Sprintf("Invalid region #%d: %s", index, reason),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"region_index": index,
		},
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewUnsupportedFormatError(jobID string, mode string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported processing mode: %s", mode),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"mode": mode,
		},
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store processing results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
