package storage

import (
	"context"
	"time"
)

// Pair/pair-request expiry semantics: requests live 24h, pairs 7 days.
// The rows are written by the pairing handlers; the engine only purges them.

func (s *Store) AddPairRequest(ctx context.Context, fromID, toID int64, expiresAt time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pair_requests(from_user_id, to_user_id, expires_at) VALUES(?,?,?)`,
		fromID, toID, msOf(expiresAt),
	)
	return err
}

func (s *Store) AddPair(ctx context.Context, user1, user2 int64, expiresAt time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pairs(user1_id, user2_id, expires_at) VALUES(?,?,?)`,
		user1, user2, msOf(expiresAt),
	)
	return err
}

func (s *Store) DeleteExpiredPairRequests(ctx context.Context, now time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM pair_requests WHERE expires_at <= ?`, msOf(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteExpiredPairs(ctx context.Context, now time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM pairs WHERE expires_at <= ?`, msOf(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
