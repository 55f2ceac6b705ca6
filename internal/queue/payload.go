package queue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/adverant/nexus/docassist-worker/internal/imaging"
	"github.com/adverant/nexus/docassist-worker/internal/processor"
)

// TaskTypeProcessPage is the asynq task type of a page job.
const TaskTypeProcessPage = "process-page"

// JobPayload is the page job shared by both queue backends.
type JobPayload struct {
	JobID      string `json:"jobId"`
	Filename   string `json:"filename"`
	Mode       string `json:"mode,omitempty"`
	Preprocess string `json:"preprocess,omitempty"`
	FilePath   string `json:"filePath,omitempty"`
	FileURL    string `json:"fileUrl,omitempty"`
	FileBuffer []byte `json:"-"` // set by UnmarshalJSON
}

// UnmarshalJSON implements custom JSON unmarshaling for JobPayload to handle Buffer serialization
// Supports both base64 string format and Node.js Buffer object format
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		FileBuffer interface{} `json:"fileBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	if aux.FileBuffer == nil {
		return nil
	}
	switch v := aux.FileBuffer.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		p.FileBuffer = decoded

	case map[string]interface{}:
		if bufferType, ok := v["type"].(string); !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.FileBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.FileBuffer[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}
	return nil
}

// MarshalJSON writes FileBuffer as base64.
func (p JobPayload) MarshalJSON() ([]byte, error) {
	type Alias JobPayload
	return json.Marshal(&struct {
		FileBuffer string `json:"fileBuffer,omitempty"`
		Alias
	}{
		FileBuffer: base64.StdEncoding.EncodeToString(p.FileBuffer),
		Alias:      Alias(p),
	})
}

// ToRequest validates the payload and converts it into a processor request.
func (p *JobPayload) ToRequest() (*processor.ProcessRequest, error) {
	if p.JobID == "" {
		return nil, fmt.Errorf("jobId is required")
	}
	if len(p.FileBuffer) == 0 && p.FilePath == "" && p.FileURL == "" {
		return nil, fmt.Errorf("job %s has no fileBuffer, filePath or fileUrl", p.JobID)
	}
	mode, err := processor.ParseMode(p.Mode)
	if err != nil {
		return nil, err
	}
	prep, err := imaging.ParseMode(p.Preprocess)
	if err != nil {
		return nil, err
	}
	return &processor.ProcessRequest{
		JobID:      p.JobID,
		Filename:   p.Filename,
		Mode:       mode,
		Preprocess: prep,
		FileBuffer: p.FileBuffer,
		FilePath:   p.FilePath,
		FileURL:    p.FileURL,
	}, nil
}
