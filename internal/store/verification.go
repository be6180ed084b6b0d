package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SetPending stores or replaces the user's pending verification.
func (s *DB) SetPending(ctx context.Context, p Pending) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO pending_verifications(user_id, roblox_user_id, roblox_username, code, created_at, expires_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			roblox_user_id=excluded.roblox_user_id,
			roblox_username=excluded.roblox_username,
			code=excluded.code,
			created_at=excluded.created_at,
			expires_at=excluded.expires_at;`,
		p.UserID, p.RobloxUserID, p.RobloxUsername, p.Code, p.CreatedAt.UTC(), p.ExpiresAt.UTC())
	return err
}

// GetPending returns the user's pending verification, or ErrNotFound when
// there is none or it has expired.
func (s *DB) GetPending(ctx context.Context, userID string) (Pending, error) {
	var p Pending
	err := s.queryRow(ctx, `
		SELECT user_id, roblox_user_id, roblox_username, code, created_at, expires_at
		FROM pending_verifications WHERE user_id=?;`, userID).
		Scan(&p.UserID, &p.RobloxUserID, &p.RobloxUsername, &p.Code, &p.CreatedAt, &p.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Pending{}, ErrNotFound
	}
	if err != nil {
		return Pending{}, err
	}
	if p.Expired(s.now()) {
		return Pending{}, ErrNotFound
	}
	return p, nil
}

func (s *DB) DeletePending(ctx context.Context, userID string) error {
	_, err := s.exec(ctx, `DELETE FROM pending_verifications WHERE user_id=?;`, userID)
	return err
}

// PurgeExpiredPending removes rows whose expiry is at or before now and
// returns how many were deleted.
func (s *DB) PurgeExpiredPending(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM pending_verifications WHERE expires_at <= ?;`, s.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetVerified stores or replaces the user's verified link.
func (s *DB) SetVerified(ctx context.Context, v Verified) error {
	if v.VerifiedAt.IsZero() {
		v.VerifiedAt = s.now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO verified_users(user_id, roblox_user_id, roblox_username, verified_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			roblox_user_id=excluded.roblox_user_id,
			roblox_username=excluded.roblox_username,
			verified_at=excluded.verified_at;`,
		v.UserID, v.RobloxUserID, v.RobloxUsername, v.VerifiedAt.UTC())
	return err
}

func (s *DB) GetVerified(ctx context.Context, userID string) (Verified, error) {
	var v Verified
	err := s.queryRow(ctx, `
		SELECT user_id, roblox_user_id, roblox_username, verified_at
		FROM verified_users WHERE user_id=?;`, userID).
		Scan(&v.UserID, &v.RobloxUserID, &v.RobloxUsername, &v.VerifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Verified{}, ErrNotFound
	}
	return v, err
}

// SetClock replaces the time source; tests use it to age rows.
func (s *DB) SetClock(now func() time.Time) { s.now = now }
