package store

import (
	"context"
	"fmt"
	"time"

	"github.com/p-blackswan/infragen/internal/metrics"
)

// PruneRuns deletes runs that finished before now minus maxAge.
func (s *Store) PruneRuns(ctx context.Context, maxAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE finished_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Msg("pruned run history")
	}
	return n, nil
}

// DBSizeBytes returns the database size in bytes
func (s *Store) DBSizeBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount int64
	var pageSize int64

	err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}

	err = s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}

	return pageCount * pageSize, nil
}

// RunRetention prunes runs older than maxAge every interval until ctx is
// done, then refreshes the database size gauge. It runs once immediately.
// m may be nil.
func (s *Store) RunRetention(ctx context.Context, maxAge, interval time.Duration, m *metrics.Metrics) {
	sweep := func() {
		if _, err := s.PruneRuns(ctx, maxAge); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("run history pruning failed")
		}
		size, err := s.DBSizeBytes()
		if err != nil {
			s.logger.Warn().Err(err).Msg("reading history size failed")
			return
		}
		m.SetHistorySize(size)
	}
	sweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
