package storage

import (
	"fmt"
	"image"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/docassist-worker/internal/imaging"
)

// CapturesURLPrefix is the public path the captures directory is served under.
const CapturesURLPrefix = "/captures"

const (
	tablesSubdir    = "tables"
	uploadsSubdir   = "uploads"
	timestampLayout = "20060102_150405"
)

// Captures lays out the files a page run writes: the normalised upload,
// table crops under tables/ and the overlay. Names carry the source stem and
// the run timestamp so captures of the same file never collide across runs.
type Captures struct {
	root string
}

// NewCaptures creates the directory tree under root.
func NewCaptures(root string) (*Captures, error) {
	if root == "" {
		return nil, fmt.Errorf("captures directory is required")
	}
	for _, dir := range []string{root, filepath.Join(root, tablesSubdir), filepath.Join(root, uploadsSubdir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create captures dir %s: %w", dir, err)
		}
	}
	return &Captures{root: root}, nil
}

// Root is the captures directory.
func (c *Captures) Root() string { return c.root }

// TablesDir is the directory table crops are written to.
func (c *Captures) TablesDir() string { return filepath.Join(c.root, tablesSubdir) }

// Run names the files of one page run.
type Run struct {
	captures *Captures
	Stem     string
	Stamp    string
}

// NewRun starts a run for filename at t.
func (c *Captures) NewRun(filename string, t time.Time) *Run {
	return &Run{captures: c, Stem: Stem(filename), Stamp: t.Format(timestampLayout)}
}

// Stem is the base name of filename without extension, reduced to characters
// safe in a file name. An empty result becomes "page".
func Stem(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	stem := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r < 0x20:
			return '_'
		}
		return r
	}, base)
	if stem == "" || stem == "." || stem == ".." {
		return "page"
	}
	return stem
}

// SaveUpload writes the decoded page as PNG under uploads/ with a random name.
func (c *Captures) SaveUpload(img image.Image) (string, error) {
	p := filepath.Join(c.root, uploadsSubdir, uuid.NewString()+".png")
	if err := imaging.SavePNG(p, img); err != nil {
		return "", err
	}
	return p, nil
}

// SaveTable writes the crop of a table region as <stem>_<ts>_t<index>.png and
// returns its URL.
func (r *Run) SaveTable(crop image.Image, index int) (string, error) {
	name := fmt.Sprintf("%s_%s_t%d.png", r.Stem, r.Stamp, index)
	if err := imaging.SavePNG(filepath.Join(r.captures.TablesDir(), name), crop); err != nil {
		return "", fmt.Errorf("failed to save table crop %s: %w", name, err)
	}
	return path.Join(CapturesURLPrefix, tablesSubdir, name), nil
}

// OverlayName is <stem>_<ts>_overlay.png.
func (r *Run) OverlayName() string {
	return fmt.Sprintf("%s_%s_overlay.png", r.Stem, r.Stamp)
}

// OverlayPath is the file path of the overlay.
func (r *Run) OverlayPath() string {
	return filepath.Join(r.captures.root, r.OverlayName())
}

// OverlayURL is the public URL of the overlay.
func (r *Run) OverlayURL() string {
	return path.Join(CapturesURLPrefix, r.OverlayName())
}
