// Package manager validates feed configuration changes and keeps the scheduler in sync with them.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"rss_relay/internal/dispatch"
	"rss_relay/internal/fetcher"
	"rss_relay/internal/filter"
	"rss_relay/internal/model"
	"rss_relay/internal/scheduler"
	"rss_relay/internal/storage"
)

// Store is the feed configuration store.
type Store interface {
	CreateFeed(ctx context.Context, feed *model.Feed) error
	GetFeed(ctx context.Context, id string) (*model.Feed, error)
	ListFeeds(ctx context.Context, opts storage.ListOptions) ([]model.Feed, error)
	UpdateFeed(ctx context.Context, feed *model.Feed) error
	DeleteFeed(ctx context.Context, id string) error
	Stats(ctx context.Context, since time.Time) (storage.Stats, error)
}

// Scheduler is the scheduling surface driven by configuration changes.
type Scheduler interface {
	ScheduleFeed(feed model.Feed) (scheduler.JobInfo, error)
	UnscheduleFeed(feedID string) bool
	ReloadAllSchedules(ctx context.Context) (scheduler.ReloadResult, error)
	SetAggressiveMode(ctx context.Context, on bool) (scheduler.ReloadResult, error)
	AggressiveMode() bool
	CheckNow(ctx context.Context, feedID string) (scheduler.CheckReport, error)
	Jobs() []scheduler.JobInfo
}

// Resolver maps operator URLs to feed URLs.
type Resolver interface {
	Resolve(rawURL string, kind model.SourceKind) string
}

// Previewer fetches the first items of a feed.
type Previewer interface {
	Preview(ctx context.Context, url string, n int) []fetcher.Item
}

// DestinationChecker verifies that a destination identifier is usable.
type DestinationChecker interface {
	CheckDestination(ctx context.Context, destination string) error
}

// ValidationError reports an invalid feed field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// BulkAction is an operation applied to many feeds at once.
type BulkAction string

// Supported bulk actions.
const (
	BulkActivate   BulkAction = "activate"
	BulkDeactivate BulkAction = "deactivate"
	BulkDelete     BulkAction = "delete"
)

// BulkResult lists the outcome per feed ID.
type BulkResult struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// Manager is the request-layer entry point for feed management.
type Manager struct {
	store       Store
	sched       Scheduler
	resolver    Resolver
	previewer   Previewer
	checker     DestinationChecker
	minInterval int
	log         *slog.Logger
}

// New creates a Manager. minInterval is the smallest accepted feed interval in seconds.
func New(store Store, sched Scheduler, resolver Resolver, previewer Previewer, checker DestinationChecker,
	minInterval int, log *slog.Logger,
) *Manager {
	return &Manager{
		store:       store,
		sched:       sched,
		resolver:    resolver,
		previewer:   previewer,
		checker:     checker,
		minInterval: minInterval,
		log:         log,
	}
}

// Create validates feed, resolves its URL, stores it and schedules it when active.
func (m *Manager) Create(ctx context.Context, feed model.Feed) (*model.Feed, error) {
	feed.ID = uuid.NewString()
	feed.Name = strings.TrimSpace(feed.Name)
	feed.URL = strings.TrimSpace(feed.URL)
	feed.ApplyDefaults()

	if err := m.validate(ctx, &feed); err != nil {
		return nil, err
	}
	feed.URL = m.resolver.Resolve(feed.URL, feed.SourceKind)

	if err := m.store.CreateFeed(ctx, &feed); err != nil {
		return nil, fmt.Errorf("create feed: %w", err)
	}
	m.log.Info("feed created", "feed_id", feed.ID, "name", feed.Name, "url", feed.URL)

	m.sync(feed)
	return &feed, nil
}

// Update applies patch to the stored feed, re-resolving the URL when the URL or
// source kind changed, and reschedules or unschedules it.
func (m *Manager) Update(ctx context.Context, id string, patch func(*model.Feed)) (*model.Feed, error) {
	current, err := m.store.GetFeed(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := *current
	patch(&updated)
	updated.ID = current.ID
	updated.Name = strings.TrimSpace(updated.Name)
	updated.URL = strings.TrimSpace(updated.URL)
	updated.ApplyDefaults()

	if updated.Destination == current.Destination {
		err = m.validateFields(&updated)
	} else {
		err = m.validate(ctx, &updated)
	}
	if err != nil {
		return nil, err
	}
	if updated.URL != current.URL || updated.SourceKind != current.SourceKind {
		updated.URL = m.resolver.Resolve(updated.URL, updated.SourceKind)
	}

	if err := m.store.UpdateFeed(ctx, &updated); err != nil {
		return nil, fmt.Errorf("update feed: %w", err)
	}
	m.log.Info("feed updated", "feed_id", id, "active", updated.IsActive)

	m.sync(updated)
	return &updated, nil
}

// SetActive activates or deactivates a feed.
func (m *Manager) SetActive(ctx context.Context, id string, active bool) (*model.Feed, error) {
	return m.Update(ctx, id, func(f *model.Feed) { f.IsActive = active })
}

// Delete unschedules and removes a feed. Its dispatched-item records are kept.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.sched.UnscheduleFeed(id)
	if err := m.store.DeleteFeed(ctx, id); err != nil {
		return err
	}
	m.log.Info("feed deleted", "feed_id", id)
	return nil
}

// Get returns one feed.
func (m *Manager) Get(ctx context.Context, id string) (*model.Feed, error) {
	return m.store.GetFeed(ctx, id)
}

// List returns feeds matching opts.
func (m *Manager) List(ctx context.Context, opts storage.ListOptions) ([]model.Feed, error) {
	return m.store.ListFeeds(ctx, opts)
}

// CheckNow runs one cycle for the feed out of band.
func (m *Manager) CheckNow(ctx context.Context, id string) (scheduler.CheckReport, error) {
	return m.sched.CheckNow(ctx, id)
}

// SetAggressiveMode toggles the global short interval.
func (m *Manager) SetAggressiveMode(ctx context.Context, on bool) (scheduler.ReloadResult, error) {
	return m.sched.SetAggressiveMode(ctx, on)
}

// AggressiveMode reports whether the global short interval is active.
func (m *Manager) AggressiveMode() bool {
	return m.sched.AggressiveMode()
}

// Reload reschedules every active feed.
func (m *Manager) Reload(ctx context.Context) (scheduler.ReloadResult, error) {
	return m.sched.ReloadAllSchedules(ctx)
}

// Jobs lists installed timers.
func (m *Manager) Jobs() []scheduler.JobInfo {
	return m.sched.Jobs()
}

// Bulk applies action to every feed in ids. Failures are collected per feed.
func (m *Manager) Bulk(ctx context.Context, action BulkAction, ids []string) (BulkResult, error) {
	var apply func(id string) error
	switch action {
	case BulkActivate, BulkDeactivate:
		active := action == BulkActivate
		apply = func(id string) error {
			_, err := m.SetActive(ctx, id, active)
			return err
		}
	case BulkDelete:
		apply = func(id string) error { return m.Delete(ctx, id) }
	default:
		return BulkResult{}, &ValidationError{Field: "action", Msg: fmt.Sprintf("unknown bulk action %q", action)}
	}

	res := BulkResult{Failed: make(map[string]string)}
	for _, id := range ids {
		if err := apply(id); err != nil {
			res.Failed[id] = err.Error()
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	m.log.Info("bulk action", "action", action, "succeeded", len(res.Succeeded), "failed", len(res.Failed))
	return res, nil
}

// Preview resolves rawURL and returns its first n items.
func (m *Manager) Preview(ctx context.Context, rawURL string, kind model.SourceKind, n int) ([]fetcher.Item, string) {
	if kind == "" {
		kind = model.KindWeb
	}
	url := m.resolver.Resolve(strings.TrimSpace(rawURL), kind)
	return m.previewer.Preview(ctx, url, n), url
}

// Stats returns aggregate counters; "today" starts at local midnight.
func (m *Manager) Stats(ctx context.Context) (storage.Stats, error) {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return m.store.Stats(ctx, midnight)
}

// RegexWarnings returns a message for each filter pattern that does not compile.
// Such patterns are kept and fail open during evaluation.
func RegexWarnings(f model.Filters) []string {
	var out []string
	for _, list := range [][]string{f.IncludeRegex, f.ExcludeRegex} {
		for _, p := range list {
			if err := filter.ValidateRegex(p); err != nil {
				out = append(out, fmt.Sprintf("%q: %v", p, err))
			}
		}
	}
	return out
}

func (m *Manager) sync(feed model.Feed) {
	if !feed.IsActive {
		m.sched.UnscheduleFeed(feed.ID)
		return
	}
	if _, err := m.sched.ScheduleFeed(feed); err != nil {
		m.log.Warn("schedule feed", "feed_id", feed.ID, "error", err)
	}
}

func (m *Manager) validate(ctx context.Context, f *model.Feed) error {
	if err := m.validateFields(f); err != nil {
		return err
	}
	if err := m.checker.CheckDestination(ctx, f.Destination); err != nil {
		if errors.Is(err, dispatch.ErrDestinationNotFound) {
			return &ValidationError{Field: "destination", Msg: fmt.Sprintf("%s not found", f.Destination)}
		}
		return &ValidationError{Field: "destination", Msg: err.Error()}
	}
	return nil
}

func (m *Manager) validateFields(f *model.Feed) error {
	switch {
	case f.Name == "":
		return &ValidationError{Field: "name", Msg: "must not be empty"}
	case f.URL == "":
		return &ValidationError{Field: "url", Msg: "must not be empty"}
	case strings.TrimSpace(f.Destination) == "":
		return &ValidationError{Field: "destination", Msg: "must not be empty"}
	case !f.SourceKind.Valid():
		return &ValidationError{Field: "source_kind", Msg: fmt.Sprintf("unknown kind %q", f.SourceKind)}
	case !f.Mode.Valid():
		return &ValidationError{Field: "mode", Msg: fmt.Sprintf("unknown mode %q", f.Mode)}
	case f.IntervalSeconds < m.minInterval:
		return &ValidationError{Field: "interval", Msg: fmt.Sprintf("must be at least %d seconds", m.minInterval)}
	case f.MaxPerRun < 1:
		return &ValidationError{Field: "max_per_run", Msg: "must be at least 1"}
	case f.DailyCap < 0:
		return &ValidationError{Field: "daily_cap", Msg: "must not be negative"}
	case f.DedupWindowHours < 0:
		return &ValidationError{Field: "dedup_window_hours", Msg: "must not be negative"}
	}

	qs, qe := f.Filters.QuietHoursStart, f.Filters.QuietHoursEnd
	if (qs == "") != (qe == "") {
		return &ValidationError{Field: "quiet_hours", Msg: "start and end must be set together"}
	}
	for _, v := range []string{qs, qe} {
		if v == "" {
			continue
		}
		if _, err := filter.ParseClock(v); err != nil {
			return &ValidationError{Field: "quiet_hours", Msg: err.Error()}
		}
	}

	for _, w := range RegexWarnings(f.Filters) {
		m.log.Warn("filter regex does not compile and will fail open", "feed_id", f.ID, "pattern", w)
	}
	return nil
}
