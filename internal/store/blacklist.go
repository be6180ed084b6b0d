package store

import (
	"context"
	"fmt"
)

// AddBlacklistedGroup inserts the group if absent and returns the total
// number of blacklisted groups afterwards.
func (s *DB) AddBlacklistedGroup(ctx context.Context, groupID int64) (int, error) {
	if _, err := s.exec(ctx, `
		INSERT INTO blacklisted_groups(group_id, added_at) VALUES(?, ?)
		ON CONFLICT(group_id) DO NOTHING;`, groupID, s.now().UTC()); err != nil {
		return 0, fmt.Errorf("add blacklisted group %d: %w", groupID, err)
	}
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM blacklisted_groups;`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// RemoveBlacklistedGroup reports whether a row was deleted.
func (s *DB) RemoveBlacklistedGroup(ctx context.Context, groupID int64) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM blacklisted_groups WHERE group_id=?;`, groupID)
	if err != nil {
		return false, fmt.Errorf("remove blacklisted group %d: %w", groupID, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// BlacklistedGroups lists every blacklisted group, oldest first.
func (s *DB) BlacklistedGroups(ctx context.Context) ([]BlacklistedGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id, added_at FROM blacklisted_groups ORDER BY added_at, group_id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]BlacklistedGroup, 0)
	for rows.Next() {
		var g BlacklistedGroup
		if err := rows.Scan(&g.GroupID, &g.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *DB) IsGroupBlacklisted(ctx context.Context, groupID int64) (bool, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM blacklisted_groups WHERE group_id=?;`, groupID).Scan(&n)
	return n > 0, err
}
