package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// AddCampaign inserts a theme week and returns its id. Campaigns are produced
// by the admin side; the engine only reads them.
func (s *Store) AddCampaign(ctx context.Context, c Campaign) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	tags := "[]"
	if len(c.Tags) > 0 {
		b, err := json.Marshal(c.Tags)
		if err != nil {
			return 0, err
		}
		tags = string(b)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO theme_weeks(name, description, tags, start_at, end_at, active)
		 VALUES(?,?,?,?,?,?)`,
		c.Name, nullStr(c.Description), tags, msOf(c.StartAt), msOf(c.EndAt), boolInt(c.Active),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ActiveCampaign returns the campaign whose window contains now, or nil when
// there is none. Overlapping windows resolve to the latest start_at; the
// engine never enforces non-overlap.
func (s *Store) ActiveCampaign(ctx context.Context, now time.Time) (*Campaign, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	ms := msOf(now)
	var (
		c    Campaign
		tags string
		act  int
		sMS  int64
		eMS  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(description,''), tags, start_at, end_at, active
		 FROM theme_weeks
		 WHERE active = 1 AND start_at <= ? AND end_at >= ?
		 ORDER BY start_at DESC
		 LIMIT 1`,
		ms, ms,
	).Scan(&c.ID, &c.Name, &c.Description, &tags, &sMS, &eMS, &act)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.StartAt = timeOf(sMS)
	c.EndAt = timeOf(eMS)
	c.Active = act != 0
	if tags != "" {
		_ = json.Unmarshal([]byte(tags), &c.Tags)
	}
	return &c, nil
}
