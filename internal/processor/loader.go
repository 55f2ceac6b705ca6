package processor

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	apperrors "github.com/adverant/nexus/docassist-worker/internal/errors"
	"github.com/adverant/nexus/docassist-worker/internal/logging"
)

const (
	maxDownloadRetries = 3
	initialBackoff     = 500 * time.Millisecond
	maxBackoff         = 8 * time.Second
	downloadTimeout    = 2 * time.Minute
	// applied when no MaxFileSize is configured
	defaultReadLimit = 256 << 20
)

// loader fetches the raw bytes of a request from its buffer, a local path or
// a URL.
type loader struct {
	client      *http.Client
	maxFileSize int64
	logger      *logging.Logger
}

func newLoader(maxFileSize int64) *loader {
	return &loader{
		client:      &http.Client{Timeout: downloadTimeout},
		maxFileSize: maxFileSize,
		logger:      logging.NewLogger("PageLoader"),
	}
}

// load returns the page bytes and a source label for error messages.
func (l *loader) load(ctx context.Context, req *ProcessRequest) ([]byte, string, error) {
	switch {
	case len(req.FileBuffer) > 0:
		if err := l.checkSize(int64(len(req.FileBuffer))); err != nil {
			return nil, req.Filename, err
		}
		return req.FileBuffer, req.Filename, nil

	case req.FilePath != "":
		info, err := os.Stat(req.FilePath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, req.FilePath, apperrors.NewNotFoundError(req.FilePath)
			}
			return nil, req.FilePath, apperrors.NewImageDecodeError(req.FilePath, err)
		}
		if err := l.checkSize(info.Size()); err != nil {
			return nil, req.FilePath, err
		}
		data, err := os.ReadFile(req.FilePath)
		if err != nil {
			return nil, req.FilePath, apperrors.NewImageDecodeError(req.FilePath, err)
		}
		return data, req.FilePath, nil

	case req.FileURL != "":
		data, err := l.download(ctx, req.JobID, req.FileURL)
		return data, req.FileURL, err

	default:
		return nil, req.Filename, apperrors.NewImageDecodeError(req.Filename, fmt.Errorf("no file source provided (buffer, path or URL)"))
	}
}

func (l *loader) checkSize(n int64) error {
	if l.maxFileSize > 0 && n > l.maxFileSize {
		return fmt.Errorf("file size exceeds maximum: %d > %d bytes", n, l.maxFileSize)
	}
	return nil
}

// download fetches fileURL with exponential backoff. A 404 is not retried.
func (l *loader) download(ctx context.Context, jobID, fileURL string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= maxDownloadRetries; attempt++ {
		data, retry, err := l.fetch(ctx, fileURL)
		if err == nil {
			l.logger.Debug("Download complete", "job", jobID, "attempt", attempt, "bytes", len(data))
			return data, nil
		}
		lastErr = err
		if !retry || attempt == maxDownloadRetries {
			break
		}

		backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt-1)))
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		l.logger.Warn("Download attempt failed, retrying",
			"job", jobID, "attempt", attempt, "backoff", backoff.String(), "error", err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
		}
	}

	return nil, lastErr
}

func (l *loader) fetch(ctx context.Context, fileURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, false, apperrors.NewImageDecodeError(fileURL, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("failed to download %s: %w", fileURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, apperrors.NewNotFoundError(fileURL)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, true, fmt.Errorf("failed to download %s: HTTP %d", fileURL, resp.StatusCode)
	}
	if resp.ContentLength > 0 {
		if err := l.checkSize(resp.ContentLength); err != nil {
			return nil, false, err
		}
	}

	limit := l.maxFileSize
	if limit <= 0 {
		limit = defaultReadLimit
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read %s: %w", fileURL, err)
	}
	if int64(len(data)) > limit {
		return nil, false, fmt.Errorf("file size exceeds maximum: more than %d bytes", limit)
	}
	return data, false, nil
}

// defaultFilename names a request that arrived without a filename.
func defaultFilename(req *ProcessRequest) string {
	switch {
	case req.FilePath != "":
		return filepath.Base(req.FilePath)
	case req.FileURL != "":
		if u, err := url.Parse(req.FileURL); err == nil && path.Base(u.Path) != "/" && path.Base(u.Path) != "." {
			return path.Base(u.Path)
		}
	}
	if req.JobID != "" {
		return req.JobID + ".png"
	}
	return "upload.png"
}
