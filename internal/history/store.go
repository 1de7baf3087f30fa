// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package history persists a record of every conversion job in SQLite so
// past runs can be listed and inspected.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/audiobook-engine/pkg/types"
)

// DefaultLimit is the number of jobs List returns when limit is not positive.
const DefaultLimit = 20

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Errors returned by Get.
var (
	ErrNotFound  = errors.New("job not found")
	ErrAmbiguous = errors.New("job ID prefix matches several jobs")
)

// Store manages the job history database.
type Store struct {
	db *sql.DB
}

// DefaultPath returns ~/.local/share/audiobook-engine/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "audiobook-engine", "history.db"), nil
}

// NewStore opens or creates the history database at cfg.Path (DefaultPath
// when empty) and creates the schema if it does not exist.
func NewStore(cfg types.HistoryConfig) (*Store, error) {
	path := cfg.Path
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			source_pdf TEXT NOT NULL,
			output_dir TEXT NOT NULL,
			book_name TEXT NOT NULL,
			voice_name TEXT,
			status TEXT NOT NULL,
			failed_stage TEXT,
			error TEXT,
			markdown_path TEXT,
			audio_path TEXT,
			page_count INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			finished_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_started_at ON jobs(started_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Record inserts rec or replaces the row with the same ID. A job is
// typically recorded once as running and again when it finishes.
func (s *Store) Record(ctx context.Context, rec types.JobRecord) error {
	if rec.ID == "" {
		return errors.New("job record has no ID")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, source_pdf, output_dir, book_name, voice_name, status,
			failed_stage, error, markdown_path, audio_path, page_count, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_pdf = excluded.source_pdf,
			output_dir = excluded.output_dir,
			book_name = excluded.book_name,
			voice_name = excluded.voice_name,
			status = excluded.status,
			failed_stage = excluded.failed_stage,
			error = excluded.error,
			markdown_path = excluded.markdown_path,
			audio_path = excluded.audio_path,
			page_count = excluded.page_count,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
		rec.ID, rec.SourcePDF, rec.OutputDir, rec.BookName, rec.VoiceName, string(rec.Status),
		string(rec.FailedStage), rec.Error, rec.MarkdownPath, rec.AudioPath, rec.PageCount,
		formatTime(rec.StartedAt), formatTime(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("recording job %s: %w", rec.ID, err)
	}
	return nil
}

const selectColumns = `id, source_pdf, output_dir, book_name, voice_name, status,
	failed_stage, error, markdown_path, audio_path, page_count, started_at, finished_at`

// List returns the most recently started jobs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]types.JobRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM jobs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var records []types.JobRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return records, nil
}

// Get returns the job with the given ID. When no ID matches exactly, a
// unique ID prefix is accepted, so the short IDs List prints work.
func (s *Store) Get(ctx context.Context, id string) (types.JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM jobs WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return types.JobRecord{}, err
	}
	if id == "" {
		return types.JobRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM jobs WHERE substr(id, 1, ?) = ? LIMIT 2`, len(id), id)
	if err != nil {
		return types.JobRecord{}, fmt.Errorf("finding job %s: %w", id, err)
	}
	defer rows.Close()

	var matches []types.JobRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return types.JobRecord{}, err
		}
		matches = append(matches, rec)
	}
	if err := rows.Err(); err != nil {
		return types.JobRecord{}, fmt.Errorf("finding job %s: %w", id, err)
	}
	switch len(matches) {
	case 0:
		return types.JobRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return types.JobRecord{}, fmt.Errorf("%w: %s", ErrAmbiguous, id)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (types.JobRecord, error) {
	var (
		rec                                         types.JobRecord
		status, started                             string
		voice, stage, errMsg, mdPath, audio, finish sql.NullString
	)
	err := sc.Scan(&rec.ID, &rec.SourcePDF, &rec.OutputDir, &rec.BookName, &voice, &status,
		&stage, &errMsg, &mdPath, &audio, &rec.PageCount, &started, &finish)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scanning job: %w", err)
	}
	rec.VoiceName = voice.String
	rec.Status = types.JobStatus(status)
	rec.FailedStage = types.Stage(stage.String)
	rec.Error = errMsg.String
	rec.MarkdownPath = mdPath.String
	rec.AudioPath = audio.String
	rec.StartedAt = parseTime(started)
	rec.FinishedAt = parseTime(finish.String)
	return rec, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
