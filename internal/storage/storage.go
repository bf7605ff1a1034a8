// Package storage defines the persistence interfaces and their SQLite implementation.
package storage

import (
	"context"
	"errors"
	"time"

	"rss_relay/internal/model"
)

// ErrNotFound is returned when a feed does not exist.
var ErrNotFound = errors.New("feed not found")

// ListOptions narrows ListFeeds. Zero values match everything.
type ListOptions struct {
	Active   *bool
	Category string
}

// Stats is an aggregate snapshot of the relay state.
type Stats struct {
	Feeds       int   `json:"feeds"`
	ActiveFeeds int   `json:"active_feeds"`
	ErrorFeeds  int   `json:"error_feeds"`
	TotalSent   int64 `json:"total_sent"`
	SentItems   int64 `json:"sent_items"`
	SentToday   int64 `json:"sent_today"`
}

// FeedStore is the feed configuration store.
type FeedStore interface {
	CreateFeed(ctx context.Context, feed *model.Feed) error
	GetFeed(ctx context.Context, id string) (*model.Feed, error)
	ListFeeds(ctx context.Context, opts ListOptions) ([]model.Feed, error)
	ListActiveFeeds(ctx context.Context) ([]model.Feed, error)
	UpdateFeed(ctx context.Context, feed *model.Feed) error
	DeleteFeed(ctx context.Context, id string) error

	// RecordDispatch updates last item, last publish time and increments the sent counter.
	RecordDispatch(ctx context.Context, feedID, itemKey string, pubDate int64) error
	// RecordCheck stores the outcome of a check. An empty errText clears the last error.
	RecordCheck(ctx context.Context, feedID string, at time.Time, errText string) error

	Stats(ctx context.Context, since time.Time) (Stats, error)
}

// DedupStore is the durable record of dispatched item keys.
type DedupStore interface {
	AlreadySent(ctx context.Context, itemKey string) (bool, error)
	// MarkSent records itemKey and reports whether it was newly inserted.
	// A duplicate key is not an error.
	MarkSent(ctx context.Context, feedID, itemKey string) (bool, error)
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
	CountSentSince(ctx context.Context, feedID string, since time.Time) (int, error)
}
