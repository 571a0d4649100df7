package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"audio-transcriber/internal/domain"
)

// Store persists finished transcription runs in a local SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database and ensures the schema.
// The parent directory is created if missing, so a first launch with no
// app directory yet still gets a working store.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  started_at INTEGER NOT NULL,
  input_path TEXT NOT NULL,
  model TEXT NOT NULL,
  status TEXT NOT NULL,
  elapsed_ms INTEGER NOT NULL DEFAULT 0,
  output_path TEXT,
  error_message TEXT
);
`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Record inserts one finished run.
func (s *Store) Record(ctx context.Context, run domain.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, input_path, model, status, elapsed_ms, output_path, error_message)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.StartedAt.UnixMilli(),
		run.InputPath,
		run.Model,
		string(run.Status),
		run.ElapsedMS,
		nullableString(run.OutputPath),
		nullableString(run.Error),
	)
	return err
}

// Recent returns the latest runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 25
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, input_path, model, status, elapsed_ms, output_path, error_message
       FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Run
	for rows.Next() {
		var (
			run        domain.Run
			startedMs  int64
			statusStr  string
			outputPath sql.NullString
			errorMsg   sql.NullString
		)
		if err := rows.Scan(&run.ID, &startedMs, &run.InputPath, &run.Model, &statusStr, &run.ElapsedMS, &outputPath, &errorMsg); err != nil {
			return nil, err
		}
		run.StartedAt = time.UnixMilli(startedMs)
		run.Status = domain.JobStatus(statusStr)
		if outputPath.Valid {
			run.OutputPath = outputPath.String
		}
		if errorMsg.Valid {
			run.Error = errorMsg.String
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
