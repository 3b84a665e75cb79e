package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/p-blackswan/infragen/internal/project"
)

// Run is one finished pipeline run.
type Run struct {
	ID             string    `json:"id"`
	Version        int       `json:"version"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	ImageRef       string    `json:"imageRef"`
	Template       string    `json:"template"`
	ThinkingLevel  string    `json:"thinkingLevel"`
	FileCount      int       `json:"fileCount"`
	DegradedStages []string  `json:"degradedStages"`
	Logs           []string  `json:"logs"`
	CreatedAt      time.Time `json:"createdAt"`
	FinishedAt     time.Time `json:"finishedAt"`
}

// RunFilter for listing runs
type RunFilter struct {
	Status string
	Limit  int
}

// SaveRun records a project that reached a terminal state.
func (s *Store) SaveRun(ctx context.Context, p *project.Project, degraded []string) error {
	if degraded == nil {
		degraded = []string{}
	}
	degradedJSON, err := json.Marshal(degraded)
	if err != nil {
		return fmt.Errorf("failed to encode degraded stages: %w", err)
	}
	logsJSON, err := json.Marshal(p.Logs)
	if err != nil {
		return fmt.Errorf("failed to encode logs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
	INSERT OR REPLACE INTO runs (
		id, version, status, error, image_ref, template, thinking_level,
		file_count, degraded_stages, logs, created_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.Version, string(p.Status),
		sql.NullString{String: p.Error, Valid: p.Error != ""},
		p.ImageRef, string(p.Config.Template), string(p.Config.ThinkingLevel),
		len(p.Code), string(degradedJSON), string(logsJSON),
		p.CreatedAt.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. It returns nil, nil when no run matches.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
	SELECT id, version, status, error, image_ref, template, thinking_level,
	       file_count, degraded_stages, logs, created_at, finished_at
	FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, version, status, error, image_ref, template, thinking_level,
	       file_count, degraded_stages, logs, created_at, finished_at
	FROM runs`
	var args []any
	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY finished_at DESC, created_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	r := &Run{}
	var errMsg sql.NullString
	var degraded, logs string
	var createdAt, finishedAt int64

	err := sc.Scan(
		&r.ID, &r.Version, &r.Status, &errMsg, &r.ImageRef, &r.Template, &r.ThinkingLevel,
		&r.FileCount, &degraded, &logs, &createdAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	if err := json.Unmarshal([]byte(degraded), &r.DegradedStages); err != nil {
		return nil, fmt.Errorf("decode degraded stages: %w", err)
	}
	if err := json.Unmarshal([]byte(logs), &r.Logs); err != nil {
		return nil, fmt.Errorf("decode logs: %w", err)
	}
	r.CreatedAt = time.UnixMilli(createdAt)
	r.FinishedAt = time.UnixMilli(finishedAt)
	return r, nil
}
