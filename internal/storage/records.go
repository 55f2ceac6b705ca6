/**
 * Record Store for the docassist worker
 *
 * Persists one row per processed page in ocr_results. Two dialects share the
 * same schema and queries: PostgreSQL through lib/pq and SQLite through
 * modernc.org/sqlite. Queries are written with "?" placeholders and rebound
 * to "$n" for PostgreSQL.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	apperrors "github.com/adverant/nexus/docassist-worker/internal/errors"
	"github.com/adverant/nexus/docassist-worker/internal/logging"
)

// Tiers recorded with each page.
const (
	TierSingle = "N/A"
	TierLayout = "layout"
)

// DefaultListLimit is used when ListRecords gets a non-positive limit.
const DefaultListLimit = 50

// Dialect selects the SQL flavour of a store.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Record is one persisted page result.
type Record struct {
	ID          int64           `json:"id"`
	Filename    string          `json:"filename"`
	RawText     string          `json:"raw_text"`
	Parsed      json.RawMessage `json:"parsed"`
	Score       float64         `json:"score"`
	Tier        string          `json:"tier"`
	OverlayPath string          `json:"overlay_path,omitempty"`
	TablesDir   string          `json:"tables_dir,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewRecord is the input of CreateRecord. Parsed is marshalled to JSON.
type NewRecord struct {
	Filename    string
	RawText     string
	Parsed      interface{}
	Score       float64
	Tier        string
	OverlayPath string
	TablesDir   string
}

// RecordStore reads and writes ocr_results.
type RecordStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *logging.Logger
}

// ParseDatabaseURL resolves the dialect and driver DSN of a database URL.
// postgres:// and postgresql:// URLs go to lib/pq; sqlite://path, file: DSNs,
// ":memory:" and plain paths go to SQLite.
func ParseDatabaseURL(databaseURL string) (Dialect, string, error) {
	u := strings.TrimSpace(databaseURL)
	switch {
	case u == "":
		return "", "", fmt.Errorf("database URL is required")
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return DialectPostgres, u, nil
	case strings.HasPrefix(u, "sqlite://"):
		dsn := strings.TrimPrefix(u, "sqlite://")
		if dsn == "" {
			return "", "", fmt.Errorf("sqlite URL has no path: %s", databaseURL)
		}
		return DialectSQLite, dsn, nil
	case strings.Contains(u, "://"):
		return "", "", fmt.Errorf("unsupported database URL scheme: %s", databaseURL)
	default:
		return DialectSQLite, u, nil
	}
}

// NewRecordStore opens the database, verifies connectivity and creates the
// schema when missing.
func NewRecordStore(databaseURL string) (*RecordStore, error) {
	dialect, dsn, err := ParseDatabaseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	if dialect == DialectSQLite && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectPostgres {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(2 * time.Minute)
	} else {
		// SQLite allows one writer; an in-memory database exists per connection.
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &RecordStore{
		db:      db,
		dialect: dialect,
		logger:  logging.NewLogger("RecordStore").With("dialect", string(dialect)),
	}

	if dialect == DialectSQLite {
		if err := store.applyPragmas(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store.logger.Info("Record store ready")
	return store, nil
}

func (s *RecordStore) applyPragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to apply %s: %w", p, err)
		}
	}
	return nil
}

// Migrate creates ocr_results if it does not exist.
func (s *RecordStore) Migrate(ctx context.Context) error {
	var schema string
	if s.dialect == DialectPostgres {
		schema = `
			CREATE TABLE IF NOT EXISTS ocr_results (
				id           BIGSERIAL PRIMARY KEY,
				filename     VARCHAR(255) NOT NULL,
				raw_text     TEXT,
				parsed       JSONB,
				score        DOUBLE PRECISION NOT NULL DEFAULT 0,
				tier         VARCHAR(50) NOT NULL DEFAULT 'N/A',
				overlay_path TEXT,
				tables_dir   TEXT,
				created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`
	} else {
		schema = `
			CREATE TABLE IF NOT EXISTS ocr_results (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				filename     TEXT NOT NULL,
				raw_text     TEXT,
				parsed       TEXT,
				score        REAL NOT NULL DEFAULT 0,
				tier         TEXT NOT NULL DEFAULT 'N/A',
				overlay_path TEXT,
				tables_dir   TEXT,
				created_at   TEXT NOT NULL
			)`
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create ocr_results: %w", err)
	}
	return nil
}

// CreateRecord inserts a page result and returns it with its id and timestamp.
func (s *RecordStore) CreateRecord(ctx context.Context, in NewRecord) (*Record, error) {
	if in.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if in.Tier == "" {
		in.Tier = TierSingle
	}

	parsed, err := json.Marshal(in.Parsed)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parsed payload: %w", err)
	}
	parsed = sanitizeJSON(parsed)

	rec := &Record{
		Filename:    in.Filename,
		RawText:     strings.ReplaceAll(in.RawText, "\x00", ""),
		Parsed:      parsed,
		Score:       sanitizeScore(in.Score),
		Tier:        in.Tier,
		OverlayPath: in.OverlayPath,
		TablesDir:   in.TablesDir,
		CreatedAt:   time.Now().UTC(),
	}

	query := `
		INSERT INTO ocr_results (
			filename, raw_text, parsed, score, tier, overlay_path, tables_dir, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	args := []interface{}{
		rec.Filename, rec.RawText, string(rec.Parsed), rec.Score, rec.Tier,
		nullString(rec.OverlayPath), nullString(rec.TablesDir), s.timeArg(rec.CreatedAt),
	}

	if s.dialect == DialectPostgres {
		err = s.db.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&rec.ID)
	} else {
		var res sql.Result
		res, err = s.db.ExecContext(ctx, query, args...)
		if err == nil {
			rec.ID, err = res.LastInsertId()
		}
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			s.logger.Error("Insert rejected", "code", string(pqErr.Code), "detail", pqErr.Detail)
		}
		return nil, apperrors.NewStorageFailedError(in.Filename, fmt.Errorf("failed to insert record (filename=%s, tier=%s): %w", in.Filename, in.Tier, err))
	}

	s.logger.Debug("Record stored", "id", rec.ID, "filename", rec.Filename, "tier", rec.Tier)
	return rec, nil
}

const selectColumns = `id, filename, raw_text, parsed, score, tier, overlay_path, tables_dir, created_at`

// GetRecord returns the record with the given id, or a NotFound error.
func (s *RecordStore) GetRecord(ctx context.Context, id int64) (*Record, error) {
	query := s.rebind(`SELECT ` + selectColumns + ` FROM ocr_results WHERE id = ?`)
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("record " + strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %d: %w", id, err)
	}
	return rec, nil
}

// ListRecords returns the newest records first.
func (s *RecordStore) ListRecords(ctx context.Context, limit, offset int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	query := s.rebind(`SELECT ` + selectColumns + ` FROM ocr_results ORDER BY id DESC LIMIT ? OFFSET ?`)
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec                             Record
		rawText, overlayPath, tablesDir sql.NullString
		parsed                          []byte
		created                         dbTime
	)
	if err := row.Scan(&rec.ID, &rec.Filename, &rawText, &parsed, &rec.Score, &rec.Tier,
		&overlayPath, &tablesDir, &created); err != nil {
		return nil, err
	}
	rec.RawText = rawText.String
	rec.OverlayPath = overlayPath.String
	rec.TablesDir = tablesDir.String
	rec.CreatedAt = created.Time
	if len(parsed) > 0 {
		rec.Parsed = json.RawMessage(parsed)
	} else {
		rec.Parsed = json.RawMessage("null")
	}
	return &rec, nil
}

// dbTime scans timestamps from either dialect: PostgreSQL returns
// time.Time, SQLite returns the RFC 3339 text written by timeArg.
type dbTime struct {
	time.Time
}

func (t *dbTime) Scan(v interface{}) error {
	switch x := v.(type) {
	case time.Time:
		t.Time = x.UTC()
	case string:
		return t.parse(x)
	case []byte:
		return t.parse(string(x))
	case int64:
		t.Time = time.Unix(x, 0).UTC()
	case nil:
		t.Time = time.Time{}
	default:
		return fmt.Errorf("unsupported timestamp type %T", v)
	}
	return nil
}

func (t *dbTime) parse(s string) error {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}

func (s *RecordStore) timeArg(t time.Time) interface{} {
	if s.dialect == DialectSQLite {
		return t.Format(time.RFC3339Nano)
	}
	return t
}

// rebind rewrites "?" placeholders as "$1", "$2", ... for PostgreSQL.
func (s *RecordStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// sanitizeScore replaces NaN and ±Inf with 0.
func sanitizeScore(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSON drops \u0000 escapes, which JSONB rejects, and turns other
// control character escapes into spaces.
func sanitizeJSON(data []byte) []byte {
	out := nullEscape.ReplaceAll(data, []byte{})
	return controlEscape.ReplaceAll(out, []byte(" "))
}

// Dialect reports the SQL flavour of the store.
func (s *RecordStore) Dialect() Dialect {
	return s.dialect
}

// Ping checks database connectivity
func (s *RecordStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *RecordStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (s *RecordStore) GetStats() sql.DBStats {
	return s.db.Stats()
}
