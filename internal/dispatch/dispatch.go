// Package dispatch formats qualifying items and hands them to a messaging sink.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"rss_relay/internal/fetcher"
	"rss_relay/internal/model"
)

// ErrDestinationNotFound is returned by a Sink when the destination does not exist
// or is not reachable by the relay.
var ErrDestinationNotFound = errors.New("destination not found")

// ErrNotRecorded is returned by Dispatch when the item was delivered but could not
// be marked sent. The item may be delivered again by a later cycle.
var ErrNotRecorded = errors.New("delivered item not recorded")

// Message is one outgoing post.
type Message struct {
	Destination string
	Text        string
	AllowEmbeds bool
	Mode        model.Mode
}

// Sink delivers messages to a chat platform.
type Sink interface {
	Deliver(ctx context.Context, msg Message) (string, error)
}

// Marker records dispatched item keys.
type Marker interface {
	MarkSent(ctx context.Context, feedID, itemKey string) (bool, error)
}

// Recorder stores per-feed running metadata.
type Recorder interface {
	RecordDispatch(ctx context.Context, feedID, itemKey string, pubDate int64) error
}

// Dispatcher delivers one item and does the bookkeeping for it.
type Dispatcher struct {
	sink     Sink
	marker   Marker
	recorder Recorder
	log      *slog.Logger
}

// New creates a Dispatcher.
func New(sink Sink, marker Marker, recorder Recorder, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sink:     sink,
		marker:   marker,
		recorder: recorder,
		log:      log,
	}
}

// Dispatch sends item for feed. A returned error means the item was not delivered
// or could not be marked sent; metadata failures are logged only.
func (d *Dispatcher) Dispatch(ctx context.Context, feed *model.Feed, item fetcher.Item) error {
	msg := Message{
		Destination: feed.Destination,
		Text:        Format(feed, item),
		AllowEmbeds: feed.AllowEmbeds,
		Mode:        feed.Mode,
	}
	msgID, err := d.sink.Deliver(ctx, msg)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", feed.Destination, err)
	}

	key := item.Key()
	inserted, err := d.marker.MarkSent(ctx, feed.ID, key)
	if err != nil {
		return fmt.Errorf("%w: mark sent: %w", ErrNotRecorded, err)
	}
	if !inserted {
		d.log.Warn("item was already recorded as sent", "feed_id", feed.ID, "key", key)
	}

	if err := d.recorder.RecordDispatch(ctx, feed.ID, key, item.Timestamp()); err != nil {
		d.log.Error("update feed metadata", "feed_id", feed.ID, "error", err)
	}

	d.log.Info("item dispatched",
		"feed_id", feed.ID,
		"feed", feed.Name,
		"key", key,
		"message_id", msgID,
	)
	return nil
}

// Format renders the feed template for item and prepends the configured mentions.
// {link} is the item link, or its GUID when the link is missing. The role mention comes first.
func Format(feed *model.Feed, item fetcher.Item) string {
	text := strings.NewReplacer("{title}", item.Title, "{link}", item.Key()).Replace(feed.Template())
	if feed.MentionUser != "" {
		text = UserMention(feed.MentionUser) + " " + text
	}
	if feed.MentionRole != "" {
		text = RoleMention(feed.MentionRole) + " " + text
	}
	return text
}

// UserMention renders a user mention token.
func UserMention(v string) string {
	return "@" + strings.TrimPrefix(strings.TrimSpace(v), "@")
}

// RoleMention renders a role mention token. Chats without roles get a hashtag
// that members can subscribe to.
func RoleMention(v string) string {
	return "#" + strings.TrimPrefix(strings.TrimSpace(v), "#")
}
