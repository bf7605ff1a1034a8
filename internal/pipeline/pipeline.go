// Package pipeline runs one check cycle for a feed: fetch, filter, dispatch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rss_relay/internal/dispatch"
	"rss_relay/internal/fetcher"
	"rss_relay/internal/filter"
	"rss_relay/internal/metrics"
	"rss_relay/internal/model"
)

// Fetcher returns the items of a feed, most recent first.
type Fetcher interface {
	Fetch(ctx context.Context, url string) []fetcher.Item
}

// Evaluator decides whether an item qualifies for dispatch.
type Evaluator interface {
	Evaluate(ctx context.Context, f model.Filters, item fetcher.Item, seen map[string]struct{}) (filter.Reason, error)
}

// Dispatcher delivers one qualifying item.
type Dispatcher interface {
	Dispatch(ctx context.Context, feed *model.Feed, item fetcher.Item) error
}

// SentCounter counts a feed's dispatched items since a point in time.
type SentCounter interface {
	CountSentSince(ctx context.Context, feedID string, since time.Time) (int, error)
}

// Result summarises one cycle.
type Result struct {
	Fetched    int
	Sent       int
	Failed     int
	Rejected   map[filter.Reason]int
	CapReached bool
}

// Pipeline executes check cycles.
type Pipeline struct {
	fetcher    Fetcher
	evaluator  Evaluator
	dispatcher Dispatcher
	counter    SentCounter
	now        func() time.Time
	log        *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source used for the daily cap.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a Pipeline.
func New(f Fetcher, e Evaluator, d Dispatcher, c SentCounter, log *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher:    f,
		evaluator:  e,
		dispatcher: d,
		counter:    c,
		now:        time.Now,
		log:        log,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run executes one cycle for feed. Items are evaluated most recent first and
// evaluation stops once the cycle budget is spent. Fetch and delivery problems
// are logged and never returned; an error means the dedup store failed.
func (p *Pipeline) Run(ctx context.Context, feed *model.Feed) (Result, error) {
	res := Result{Rejected: make(map[filter.Reason]int)}
	log := p.log.With("feed_id", feed.ID, "feed", feed.Name)

	budget, err := p.budget(ctx, feed)
	if err != nil {
		return res, err
	}
	if budget <= 0 {
		res.CapReached = true
		log.Info("daily cap reached, skipping cycle", "daily_cap", feed.DailyCap)
		return res, nil
	}

	items := p.fetcher.Fetch(ctx, feed.URL)
	res.Fetched = len(items)

	seen := make(map[string]struct{})
	for _, item := range items {
		if res.Sent >= budget {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		reason, err := p.evaluator.Evaluate(ctx, feed.Filters, item, seen)
		if err != nil {
			return res, fmt.Errorf("evaluate %q: %w", item.Key(), err)
		}
		if reason != filter.Accepted {
			res.Rejected[reason]++
			metrics.ObserveRejected(string(reason))
			log.Debug("item rejected", "key", item.Key(), "reason", reason)
			continue
		}

		if err := p.dispatcher.Dispatch(ctx, feed, item); err != nil {
			res.Failed++
			kind := metrics.FailureDelivery
			switch {
			case errors.Is(err, dispatch.ErrDestinationNotFound):
				kind = metrics.FailureDestination
			case errors.Is(err, dispatch.ErrNotRecorded):
				kind = metrics.FailureStore
			}
			metrics.ObserveDispatchFailure(kind)
			log.Warn("dispatch item", "key", item.Key(), "kind", kind, "error", err)
			continue
		}
		res.Sent++
		metrics.ObserveDispatched()
	}

	log.Info("cycle complete",
		"fetched", res.Fetched,
		"sent", res.Sent,
		"failed", res.Failed,
		"rejected", rejectedTotal(res.Rejected),
	)
	return res, nil
}

// budget returns how many items the cycle may dispatch: MaxPerRun, further
// limited by what remains of the daily cap since local midnight.
func (p *Pipeline) budget(ctx context.Context, feed *model.Feed) (int, error) {
	budget := feed.MaxPerRun
	if budget <= 0 {
		budget = model.DefaultMaxPerRun
	}
	if feed.DailyCap <= 0 {
		return budget, nil
	}

	now := p.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	sentToday, err := p.counter.CountSentSince(ctx, feed.ID, midnight)
	if err != nil {
		return 0, fmt.Errorf("count sent today: %w", err)
	}
	return min(budget, feed.DailyCap-sentToday), nil
}

func rejectedTotal(m map[filter.Reason]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
