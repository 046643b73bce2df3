package storage

import (
	"context"
	"database/sql"
	"time"

	"questbot/pkg/logx"
)

// Enqueue inserts a notification row and returns its id.
func (s *Store) Enqueue(ctx context.Context, userID int64, kind Kind, title, body string, dueAt time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(user_id, kind, title, body, due_at) VALUES(?,?,?,?,?)`,
		userID, string(kind), nullStr(title), body, msOf(dueAt),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Due returns up to limit unsent, non-failed notifications with due_at <= now.
// Rows come back in id order; callers must not rely on ordering.
func (s *Store) Due(ctx context.Context, now time.Time, limit int) ([]Notification, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, kind, COALESCE(title,''), body, due_at, sent, COALESCE(sent_at,0), attempts, failed, created_at
		 FROM notifications
		 WHERE sent = 0 AND failed = 0 AND due_at <= ?
		 ORDER BY id
		 LIMIT ?`,
		msOf(now), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n                        Notification
			kind                     string
			dueMS, sentMS, createdMS int64
			sent, failed             int
		)
		if err := rows.Scan(&n.ID, &n.UserID, &kind, &n.Title, &n.Body, &dueMS, &sent, &sentMS, &n.Attempts, &failed, &createdMS); err != nil {
			// One malformed row must not block the rest of the batch.
			s.log.Warn("skipping malformed notification row", logx.Err(err))
			continue
		}
		n.Kind = Kind(kind)
		n.DueAt = timeOf(dueMS)
		n.Sent = sent != 0
		n.SentAt = timeOf(sentMS)
		n.Failed = failed != 0
		n.CreatedAt = timeOf(createdMS)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkSentBatch flips the given rows to sent in one transaction. A failure on
// an individual id is logged and skipped so it cannot hold the rest back.
func (s *Store) MarkSentBatch(ctx context.Context, ids []int64, at time.Time) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx,
			`UPDATE notifications SET sent = 1, sent_at = ? WHERE id = ? AND sent = 0`,
			msOf(at), id,
		)
		if err != nil {
			s.log.Warn("mark sent failed", logx.Int64("id", id), logx.Err(err))
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			marked++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return marked, nil
}

// RecordAttempt bumps the attempts counter of an unsent notification and
// returns the new value.
func (s *Store) RecordAttempt(ctx context.Context, id int64) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET attempts = attempts + 1 WHERE id = ? AND sent = 0`, id)
	if err != nil {
		return 0, err
	}
	var attempts int
	err = s.db.QueryRowContext(ctx, `SELECT attempts FROM notifications WHERE id = ?`, id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return attempts, err
}

// MarkFailed moves a notification to the terminal failed state. Failed rows
// are never picked up by Due again; the retention job eventually purges them.
func (s *Store) MarkFailed(ctx context.Context, id int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET failed = 1 WHERE id = ? AND sent = 0`, id)
	return err
}

// Notification fetches one row by id.
func (s *Store) Notification(ctx context.Context, id int64) (Notification, error) {
	if err := s.ready(); err != nil {
		return Notification{}, err
	}
	var (
		n                        Notification
		kind                     string
		dueMS, sentMS, createdMS int64
		sent, failed             int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, kind, COALESCE(title,''), body, due_at, sent, COALESCE(sent_at,0), attempts, failed, created_at
		 FROM notifications WHERE id = ?`, id,
	).Scan(&n.ID, &n.UserID, &kind, &n.Title, &n.Body, &dueMS, &sent, &sentMS, &n.Attempts, &failed, &createdMS)
	if err == sql.ErrNoRows {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, err
	}
	n.Kind = Kind(kind)
	n.DueAt = timeOf(dueMS)
	n.Sent = sent != 0
	n.SentAt = timeOf(sentMS)
	n.Failed = failed != 0
	n.CreatedAt = timeOf(createdMS)
	return n, nil
}

// PurgeNotifications deletes sent rows older than olderThan and all failed
// rows. Returns the number of rows removed.
func (s *Store) PurgeNotifications(ctx context.Context, olderThan time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE (sent = 1 AND sent_at <= ?) OR failed = 1`,
		msOf(olderThan),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
