package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	repeater "github.com/go-pkgz/repeater/v2"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"rss_relay/internal/model"
	"rss_relay/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

const feedColumns = `id, name, category, url, source_kind, destination, mode, interval_seconds,
	is_active, allow_embeds, message_template, mention_user, mention_role, filters,
	dedup_window_hours, max_per_run, daily_cap, last_item, last_pub_date, last_error,
	last_check_at, total_sent, created_at`

// SQLite implements FeedStore and DedupStore backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

var (
	_ FeedStore  = (*SQLite)(nil)
	_ DedupStore = (*SQLite)(nil)
)

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	if dsn != ":memory:" && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if strings.HasPrefix(dsn, ":memory:") {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateFeed inserts a new feed and populates its CreatedAt. The caller assigns the ID.
func (s *SQLite) CreateFeed(ctx context.Context, feed *model.Feed) error {
	if feed.ID == "" {
		return errors.New("insert feed: empty id")
	}
	filters, err := json.Marshal(feed.Filters)
	if err != nil {
		return fmt.Errorf("encode filters: %w", err)
	}
	now := time.Now().UTC().Format(timeLayout)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO feeds (id, name, category, url, source_kind, destination, mode, interval_seconds,
			is_active, allow_embeds, message_template, mention_user, mention_role, filters,
			dedup_window_hours, max_per_run, daily_cap, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		feed.ID, feed.Name, feed.Category, feed.URL, string(feed.SourceKind), feed.Destination,
		string(feed.Mode), feed.IntervalSeconds, boolToInt(feed.IsActive), boolToInt(feed.AllowEmbeds),
		feed.MessageTemplate, feed.MentionUser, feed.MentionRole, string(filters),
		feed.DedupWindowHours, feed.MaxPerRun, feed.DailyCap, now,
	)
	if err != nil {
		return fmt.Errorf("insert feed: %w", err)
	}
	feed.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetFeed returns a single feed by its ID.
func (s *SQLite) GetFeed(ctx context.Context, id string) (*model.Feed, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

// ListFeeds returns feeds matching opts, oldest first.
func (s *SQLite) ListFeeds(ctx context.Context, opts ListOptions) ([]model.Feed, error) {
	query := `SELECT ` + feedColumns + ` FROM feeds WHERE 1=1`
	var args []any
	if opts.Active != nil {
		query += ` AND is_active = ?`
		args = append(args, boolToInt(*opts.Active))
	}
	if opts.Category != "" {
		query += ` AND category = ?`
		args = append(args, opts.Category)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeeds(rows)
}

// ListActiveFeeds returns every active feed.
func (s *SQLite) ListActiveFeeds(ctx context.Context) ([]model.Feed, error) {
	active := true
	return s.ListFeeds(ctx, ListOptions{Active: &active})
}

// UpdateFeed persists the configuration fields of an existing feed.
// Running metadata is owned by RecordDispatch and RecordCheck and is left untouched.
func (s *SQLite) UpdateFeed(ctx context.Context, feed *model.Feed) error {
	filters, err := json.Marshal(feed.Filters)
	if err != nil {
		return fmt.Errorf("encode filters: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET name = ?, category = ?, url = ?, source_kind = ?, destination = ?, mode = ?,
			interval_seconds = ?, is_active = ?, allow_embeds = ?, message_template = ?,
			mention_user = ?, mention_role = ?, filters = ?, dedup_window_hours = ?,
			max_per_run = ?, daily_cap = ?
		 WHERE id = ?`,
		feed.Name, feed.Category, feed.URL, string(feed.SourceKind), feed.Destination, string(feed.Mode),
		feed.IntervalSeconds, boolToInt(feed.IsActive), boolToInt(feed.AllowEmbeds), feed.MessageTemplate,
		feed.MentionUser, feed.MentionRole, string(filters), feed.DedupWindowHours,
		feed.MaxPerRun, feed.DailyCap, feed.ID,
	)
	if err != nil {
		return fmt.Errorf("update feed: %w", err)
	}
	return expectOne(res)
}

// DeleteFeed removes a feed. Its dispatched-item records are kept so the
// same items are not re-sent if the source is added again.
func (s *SQLite) DeleteFeed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM feeds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	return expectOne(res)
}

// RecordDispatch atomically bumps the sent counter and stores the last item.
func (s *SQLite) RecordDispatch(ctx context.Context, feedID, itemKey string, pubDate int64) error {
	var pd *int64
	if pubDate > 0 {
		pd = &pubDate
	}
	return s.withRetry(ctx, "record dispatch", func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE feeds SET last_item = ?, last_pub_date = COALESCE(?, last_pub_date),
				total_sent = total_sent + 1
			 WHERE id = ?`,
			itemKey, pd, feedID,
		)
		return err
	})
}

// RecordCheck stores the time and outcome of the latest check.
func (s *SQLite) RecordCheck(ctx context.Context, feedID string, at time.Time, errText string) error {
	return s.withRetry(ctx, "record check", func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE feeds SET last_check_at = ?, last_error = ? WHERE id = ?`,
			at.UTC().Format(timeLayout), errText, feedID,
		)
		return err
	})
}

// Stats aggregates feed and dispatch counters; SentToday counts records since the given time.
func (s *SQLite) Stats(ctx context.Context, since time.Time) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(is_active), 0),
			COALESCE(SUM(CASE WHEN last_error != '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(total_sent), 0)
		 FROM feeds`,
	).Scan(&st.Feeds, &st.ActiveFeeds, &st.ErrorFeeds, &st.TotalSent)
	if err != nil {
		return st, fmt.Errorf("feed stats: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN sent_at >= ? THEN 1 ELSE 0 END), 0) FROM sent_items`,
		since.UTC().Format(timeLayout),
	).Scan(&st.SentItems, &st.SentToday)
	if err != nil {
		return st, fmt.Errorf("sent stats: %w", err)
	}
	return st, nil
}

// withRetry retries fn with backoff while SQLite reports lock contention.
func (s *SQLite) withRetry(ctx context.Context, op string, fn func() error) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	err := retrier.Do(ctx, func() error {
		if err := fn(); err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: err}
		}
		return nil
	}, errStopRetry)
	if err != nil {
		var ce *criticalError
		if errors.As(err, &ce) {
			err = ce.err
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFeed(row scannable) (*model.Feed, error) {
	var (
		f                     model.Feed
		kind, mode, filters   string
		isActive, allowEmbeds int
		lastPubDate           sql.NullInt64
		lastCheck             sql.NullString
		created               string
	)
	err := row.Scan(&f.ID, &f.Name, &f.Category, &f.URL, &kind, &f.Destination, &mode,
		&f.IntervalSeconds, &isActive, &allowEmbeds, &f.MessageTemplate, &f.MentionUser,
		&f.MentionRole, &filters, &f.DedupWindowHours, &f.MaxPerRun, &f.DailyCap, &f.LastItem,
		&lastPubDate, &f.LastError, &lastCheck, &f.TotalSent, &created)
	if err != nil {
		return nil, fmt.Errorf("scan feed: %w", err)
	}
	f.SourceKind = model.SourceKind(kind)
	f.Mode = model.Mode(mode)
	f.IsActive = isActive == 1
	f.AllowEmbeds = allowEmbeds == 1
	if filters != "" {
		if err := json.Unmarshal([]byte(filters), &f.Filters); err != nil {
			return nil, fmt.Errorf("decode filters of feed %s: %w", f.ID, err)
		}
	}
	if lastPubDate.Valid {
		v := lastPubDate.Int64
		f.LastPubDate = &v
	}
	if lastCheck.Valid {
		t, _ := time.Parse(timeLayout, lastCheck.String)
		f.LastCheckAt = &t
	}
	f.CreatedAt, _ = time.Parse(timeLayout, created)
	return &f, nil
}

func scanFeeds(rows *sql.Rows) ([]model.Feed, error) {
	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}
