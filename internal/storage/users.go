package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const MaxCharges = 3

// UpsertUser registers a user (idempotent). Used by the request-handling side;
// tests use it to seed fixtures.
func (s *Store) UpsertUser(ctx context.Context, telegramID int64, username string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(telegram_id, username) VALUES(?,?)
		 ON CONFLICT(telegram_id) DO UPDATE SET username = excluded.username`,
		telegramID, nullStr(username),
	)
	return err
}

// ResetCharges restores charges to max for every user whose last reset was
// before the start of the current UTC day. The per-row condition makes the
// reset idempotent per calendar day and keeps it from clobbering a spend that
// lands after an earlier reset the same day.
func (s *Store) ResetCharges(ctx context.Context, now time.Time, max int) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if max <= 0 || max > MaxCharges {
		max = MaxCharges
	}
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET charges = ?, last_charge_reset = ? WHERE last_charge_reset < ?`,
		max, msOf(now), msOf(dayStart),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ConsumeCharge decrements a user's charge count. Returns the remaining
// charges, or ErrNotFound when the user is unknown or has none left.
func (s *Store) ConsumeCharge(ctx context.Context, telegramID int64) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET charges = charges - 1 WHERE telegram_id = ? AND charges > 0`, telegramID)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}
	var left int
	err = s.db.QueryRowContext(ctx, `SELECT charges FROM users WHERE telegram_id = ?`, telegramID).Scan(&left)
	return left, err
}

// Charges returns the current charge count for one user.
func (s *Store) Charges(ctx context.Context, telegramID int64) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT charges FROM users WHERE telegram_id = ?`, telegramID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return n, err
}

// prefColumns whitelists settings columns; Preference values never reach SQL
// text any other way.
var prefColumns = map[Preference]string{
	PrefEnabled:        "enabled",
	PrefDailyReminders: "daily_reminders",
	PrefWeeklyStats:    "weekly_stats",
	PrefMissionUpdates: "mission_notifications",
	PrefPairUpdates:    "pair_notifications",
}

// Recipients returns ids of non-banned users whose settings allow the given
// preference. A user without a settings row counts as all-enabled, matching
// the lazy default-enabled creation on the settings screen.
func (s *Store) Recipients(ctx context.Context, pref Preference) ([]int64, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	col, ok := prefColumns[pref]
	if !ok {
		return nil, fmt.Errorf("unknown preference %q", pref)
	}
	q := `SELECT u.telegram_id
	      FROM users u
	      LEFT JOIN notification_settings ns ON ns.user_id = u.telegram_id
	      WHERE u.is_banned = 0
	        AND COALESCE(ns.enabled, 1) = 1`
	if col != "enabled" {
		q += ` AND COALESCE(ns.` + col + `, 1) = 1`
	}
	q += ` ORDER BY u.telegram_id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpdateSettings writes per-user notification preferences, creating the row
// on first write.
func (s *Store) UpdateSettings(ctx context.Context, st Settings) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_settings(user_id, enabled, daily_reminders, weekly_stats, mission_notifications, pair_notifications, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   enabled = excluded.enabled,
		   daily_reminders = excluded.daily_reminders,
		   weekly_stats = excluded.weekly_stats,
		   mission_notifications = excluded.mission_notifications,
		   pair_notifications = excluded.pair_notifications,
		   updated_at = excluded.updated_at`,
		st.UserID, boolInt(st.Enabled), boolInt(st.DailyReminders), boolInt(st.WeeklyStats),
		boolInt(st.MissionUpdates), boolInt(st.PairUpdates), msOf(time.Now()),
	)
	return err
}

// WeeklyDigest aggregates one user's stats since the given time for the weekly
// digest notification.
func (s *Store) WeeklyDigest(ctx context.Context, telegramID int64, since time.Time) (DigestStats, error) {
	if err := s.ready(); err != nil {
		return DigestStats{}, err
	}
	var d DigestStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(c.id), COALESCE(SUM(c.points), 0)
		 FROM completions c
		 WHERE c.user_id = ? AND c.completed_at >= ?`,
		telegramID, msOf(since),
	).Scan(&d.Completed, &d.Points)
	if err != nil {
		return DigestStats{}, err
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT level, charges FROM users WHERE telegram_id = ?`, telegramID,
	).Scan(&d.Level, &d.Charges)
	if err == sql.ErrNoRows {
		return DigestStats{}, ErrNotFound
	}
	return d, err
}

// AddCompletion records a finished mission (request-path write; the engine
// only reads completions).
func (s *Store) AddCompletion(ctx context.Context, telegramID int64, missionID int64, at time.Time, points int) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO completions(user_id, mission_id, completed_at, points) VALUES(?,?,?,?)`,
		telegramID, missionID, msOf(at), points,
	)
	return err
}
