/**
 * PaddleOCR engine
 *
 * Client for a PaddleOCR hub-serving deployment (ocr_system module).
 * Lines come back with 0-1 confidences; the score is their mean on the
 * 0-100 scale.
 */

package paddle

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adverant/nexus/docassist-worker/internal/engines"
	"github.com/adverant/nexus/docassist-worker/internal/logging"
)

// Name is the engine name used in scores and metadata.
const Name = "paddle"

const predictPath = "/predict/ocr_system"

// Client talks to the hub-serving endpoint
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

type predictRequest struct {
	Images []string `json:"images"`
}

type predictResponse struct {
	Msg     string         `json:"msg"`
	Status  string         `json:"status"`
	Results [][]lineResult `json:"results"`
}

type lineResult struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	TextRegion [][]float64 `json:"text_region"`
}

// New creates a PaddleOCR client. timeout bounds a single HTTP exchange;
// per-call limits come from the context.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewLogger("PaddleClient"),
	}
}

func (c *Client) Name() string { return Name }

// Probe sends a blank image and expects a well-formed answer.
func (c *Client) Probe(ctx context.Context) error {
	if c.baseURL == "" {
		return fmt.Errorf("no paddle url configured")
	}
	_, err := c.Recognize(ctx, engines.Request{Image: engines.ProbeImage()})
	return err
}

// Recognize sends the image to the predict endpoint. The service is loaded
// with one language model, so req.Language is not forwarded.
func (c *Client) Recognize(ctx context.Context, req engines.Request) (engines.Candidate, error) {
	if req.Image == nil {
		return engines.Candidate{}, fmt.Errorf("no image")
	}
	b64, err := engines.EncodeBase64PNG(req.Image)
	if err != nil {
		return engines.Candidate{}, err
	}

	var resp predictResponse
	if err := engines.PostJSON(ctx, c.httpClient, c.baseURL+predictPath, predictRequest{Images: []string{b64}}, &resp); err != nil {
		return engines.Candidate{}, err
	}
	if resp.Status != "" && resp.Status != "000" {
		return engines.Candidate{}, fmt.Errorf("paddle status %s: %s", resp.Status, resp.Msg)
	}

	var lines []engines.Line
	for _, page := range resp.Results {
		for _, l := range page {
			lines = append(lines, engines.Line{Text: l.Text, Confidence: l.Confidence})
		}
	}

	c.logger.Debug("PaddleOCR response", "lines", len(lines))
	return engines.FromLines(Name, engines.ScaleUnit, lines), nil
}
