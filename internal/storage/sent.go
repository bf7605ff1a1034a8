package storage

import (
	"context"
	"fmt"
	"time"
)

// AlreadySent reports whether itemKey was dispatched by any feed.
func (s *SQLite) AlreadySent(ctx context.Context, itemKey string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM sent_items WHERE item_key = ?)`, itemKey,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check sent: %w", err)
	}
	return exists == 1, nil
}

// MarkSent records itemKey as dispatched by feedID. The unique constraint on
// item_key makes concurrent callers race safely: exactly one sees inserted == true.
func (s *SQLite) MarkSent(ctx context.Context, feedID, itemKey string) (bool, error) {
	return s.markSentAt(ctx, feedID, itemKey, time.Now())
}

func (s *SQLite) markSentAt(ctx context.Context, feedID, itemKey string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sent_items (feed_id, item_key, sent_at) VALUES (?, ?, ?)
		 ON CONFLICT (item_key) DO NOTHING`,
		feedID, itemKey, at.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("mark sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// PurgeOlderThan deletes records older than the given number of days.
func (s *SQLite) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `DELETE FROM sent_items WHERE sent_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sent items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// CountSentSince returns how many items feedID dispatched at or after since.
func (s *SQLite) CountSentSince(ctx context.Context, feedID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sent_items WHERE feed_id = ? AND sent_at >= ?`,
		feedID, since.UTC().Format(timeLayout),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sent: %w", err)
	}
	return n, nil
}
