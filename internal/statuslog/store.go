package statuslog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Report is one immutable audit record: which actor reported which outcome,
// with a structured payload and optional story association.
type Report struct {
	Actor         string
	Code          string
	Timestamp     time.Time
	Payload       map[string]any
	StoryID       string
	CorrelationID string
	Iteration     int // Explicit QA iteration counter; authoritative over any _ITERATION_N suffix
}

// Validate checks the report against the closed vocabulary before it is
// accepted: unknown actors or codes are rejected, error codes must carry an
// error message, and QA iteration codes must carry an iteration number.
func (r *Report) Validate() error {
	if !IsKnownActor(r.Actor) {
		return fmt.Errorf("unknown actor %q", r.Actor)
	}
	if !IsKnownCode(r.Code) {
		return fmt.Errorf("unknown status code %q", r.Code)
	}
	if IsError(r.Code) {
		msg, _ := r.Payload["error_message"].(string)
		if msg == "" {
			return fmt.Errorf("error code %q requires an error_message in the payload", r.Code)
		}
	}
	if IsQAIteration(r.Code) && r.Code != CodeQASpecDeviation {
		if r.Iteration <= 0 && IterationFromCode(r.Code) <= 0 {
			return fmt.Errorf("QA iteration code %q requires an iteration number", r.Code)
		}
	}
	return nil
}

// Sink is the write side of the status log. The coordinator only needs this.
type Sink interface {
	Append(ctx context.Context, r Report) error
}

// Store is the SQLite-backed status log.
type Store struct {
	db *sql.DB
}

// Open creates a store at the given path, creating parent directories and
// the schema as needed. Enables WAL mode and a busy timeout.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// OpenMemory creates an in-memory store for testing.
// Uses a shared cache so multiple connections see the same database.
func OpenMemory(ctx context.Context) (*Store, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS status_reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor TEXT NOT NULL,
		code TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		story_id TEXT,
		correlation_id TEXT,
		iteration INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_status_reports_actor ON status_reports(actor);
	CREATE INDEX IF NOT EXISTS idx_status_reports_code ON status_reports(code);
	CREATE INDEX IF NOT EXISTS idx_status_reports_story_id ON status_reports(story_id);
	CREATE INDEX IF NOT EXISTS idx_status_reports_timestamp ON status_reports(timestamp);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append validates and records a report. The report's timestamp defaults to
// now and its correlation ID to a fresh UUID. Records are never updated.
func (s *Store) Append(ctx context.Context, r Report) error {
	if r.Iteration == 0 {
		r.Iteration = IterationFromCode(r.Code)
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("rejecting status report: %w", err)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if r.CorrelationID == "" {
		r.CorrelationID = uuid.NewString()
	}
	if r.Payload == nil {
		r.Payload = map[string]any{}
	}

	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO status_reports (actor, code, timestamp, story_id, correlation_id, iteration, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.Actor, r.Code, r.Timestamp.Format(time.RFC3339Nano), nullable(r.StoryID), r.CorrelationID, r.Iteration, string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert status report: %w", err)
	}
	return nil
}

// Latest returns the most recent report from an actor, optionally filtered
// by story. Returns nil when the actor has never reported.
func (s *Store) Latest(ctx context.Context, actor, storyID string) (*Report, error) {
	query := `
		SELECT actor, code, timestamp, story_id, correlation_id, iteration, payload
		FROM status_reports
		WHERE actor = ?`
	args := []any{actor}
	if storyID != "" {
		query += ` AND story_id = ?`
		args = append(args, storyID)
	}
	query += ` ORDER BY id DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, args...)
	report, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest status: %w", err)
	}
	return report, nil
}

// History returns every report for a story in chronological order.
func (s *Store) History(ctx context.Context, storyID string) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT actor, code, timestamp, story_id, correlation_id, iteration, payload
		FROM status_reports
		WHERE story_id = ?
		ORDER BY id ASC
	`, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query story history: %w", err)
	}
	defer rows.Close()

	var history []Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status report: %w", err)
		}
		history = append(history, *report)
	}
	return history, rows.Err()
}

// QAIterationCount returns the highest QA rejection iteration recorded for a
// story, for deadlock detection.
func (s *Store) QAIterationCount(ctx context.Context, storyID string) (int, error) {
	var count sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(iteration) FROM status_reports
		WHERE story_id = ? AND code LIKE 'QA_REJECTED_ITERATION_%'
	`, storyID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count QA iterations: %w", err)
	}
	return int(count.Int64), nil
}

// CountCodeSince counts reports whose code matches the given SQL LIKE
// pattern recorded at or after the given time. Used to detect repeated
// failure patterns (tool failures, timeouts) within a window.
func (s *Store) CountCodeSince(ctx context.Context, codePattern string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM status_reports
		WHERE code LIKE ? AND timestamp >= ?
	`, codePattern, since.UTC().Format(time.RFC3339Nano)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count status reports: %w", err)
	}
	return count, nil
}

// Cleanup deletes reports older than the retention period and returns how
// many were removed. Retention is a maintenance concern, not a core
// invariant; the log is otherwise append-only.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM status_reports WHERE timestamp < ?
	`, cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up status reports: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*Report, error) {
	var r Report
	var ts string
	var storyID sql.NullString
	var payload string

	if err := row.Scan(&r.Actor, &r.Code, &ts, &storyID, &r.CorrelationID, &r.Iteration, &payload); err != nil {
		return nil, err
	}

	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", ts, err)
	}
	r.Timestamp = parsed
	r.StoryID = storyID.String

	if err := json.Unmarshal([]byte(payload), &r.Payload); err != nil {
		return nil, fmt.Errorf("invalid payload JSON: %w", err)
	}
	return &r, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
