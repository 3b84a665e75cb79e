package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	if err := s.migrateV1(); err != nil {
		return err
	}
	return s.migrateV2()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id              TEXT PRIMARY KEY,
		version         INTEGER NOT NULL,
		status          TEXT NOT NULL,
		error           TEXT,
		template        TEXT NOT NULL,
		thinking_level  TEXT NOT NULL,
		file_count      INTEGER NOT NULL DEFAULT 0,
		degraded_stages TEXT NOT NULL DEFAULT '[]',
		logs            TEXT NOT NULL DEFAULT '[]',
		created_at      INTEGER NOT NULL,
		finished_at     INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}
	return nil
}

func (s *Store) migrateV2() error {
	var version string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	if err != nil || version >= "2" {
		return nil // already at v2+
	}

	schema := `
	ALTER TABLE runs ADD COLUMN image_ref TEXT NOT NULL DEFAULT '';
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	UPDATE meta SET value = '2' WHERE key = 'schema_version';
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v2: %w", err)
	}
	return nil
}
