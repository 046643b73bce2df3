package storage

import (
	"context"
	"database/sql"
	"time"
)

// Marker returns the persisted value for a named task marker. ok is false
// when the task has never fired.
//
// Markers are the restart-safe replacement for the old "sleep five minutes
// after firing" debounce: each time-windowed task gates on its marker before
// running and writes it after.
func (s *Store) Marker(ctx context.Context, name string) (string, bool, error) {
	if err := s.ready(); err != nil {
		return "", false, err
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM markers WHERE name = ?`, name).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// PutMarker upserts a task marker.
func (s *Store) PutMarker(ctx context.Context, name, value string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO markers(name, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, msOf(time.Now()),
	)
	return err
}

// PruneMarkers removes markers not touched since the cutoff. Stale markers
// are harmless but accumulate one row per retired task name.
func (s *Store) PruneMarkers(ctx context.Context, olderThan time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM markers WHERE updated_at < ?`, msOf(olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
