/**
 * EasyOCR engine
 *
 * Client for an EasyOCR reader service:
 *
 *	POST /readtext {"image": "<base64 png>", "languages": ["ko","en"]}
 *	200 {"results": [{"text": "...", "confidence": 0.87, "box": [[x,y],...]}]}
 *
 * Confidences are on the 0-1 scale.
 *
 * The reader wraps one loaded model, so registrations usually declare it
 * serialized.
 */

package easyocr

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
const Name = "easyocr"

const readPath = "/readtext"

// tesseract language codes to EasyOCR codes
var languageCodes = map[string]string{
	"kor":     "ko",
	"eng":     "en",
	"jpn":     "ja",
	"chi_sim": "ch_sim",
	"chi_tra": "ch_tra",
	"deu":     "de",
	"fra":     "fr",
	"spa":     "es",
}

// Client talks to the reader service
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

type readRequest struct {
	Image     string   `json:"image"`
	Languages []string `json:"languages,omitempty"`
}

type readResponse struct {
	Results []struct {
		Text       string      `json:"text"`
		Confidence float64     `json:"confidence"`
		Box        [][]float64 `json:"box"`
	} `json:"results"`
	Error string `json:"error,omitempty"`
}

// New creates an EasyOCR client
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewLogger("EasyOCRClient"),
	}
}

func (c *Client) Name() string { return Name }

// Probe sends a blank image and expects a well-formed answer.
func (c *Client) Probe(ctx context.Context) error {
	if c.baseURL == "" {
		return fmt.Errorf("no easyocr url configured")
	}
	_, err := c.Recognize(ctx, engines.Request{Image: engines.ProbeImage()})
	return err
}

// Recognize sends the image to the reader.
func (c *Client) Recognize(ctx context.Context, req engines.Request) (engines.Candidate, error) {
	if req.Image == nil {
		return engines.Candidate{}, fmt.Errorf("no image")
	}
	b64, err := engines.EncodeBase64PNG(req.Image)
	if err != nil {
		return engines.Candidate{}, err
	}

	var resp readResponse
	in := readRequest{Image: b64, Languages: Languages(req.Language)}
	if err := engines.PostJSON(ctx, c.httpClient, c.baseURL+readPath, in, &resp); err != nil {
		return engines.Candidate{}, err
	}
	if resp.Error != "" {
		return engines.Candidate{}, fmt.Errorf("easyocr: %s", resp.Error)
	}

	lines := make([]engines.Line, 0, len(resp.Results))
	for _, r := range resp.Results {
		lines = append(lines, engines.Line{Text: r.Text, Confidence: r.Confidence})
	}
	c.logger.Debug("EasyOCR response", "lines", len(lines))
	return engines.FromLines(Name, engines.ScaleUnit, lines), nil
}

// Languages maps "kor+eng" to ["ko","en"]. Unknown codes pass through.
func Languages(lang string) []string {
	codes := engines.SplitLanguages(lang)
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if mapped, ok := languageCodes[c]; ok {
			out = append(out, mapped)
		} else {
			out = append(out, c)
		}
	}
	return out
}
