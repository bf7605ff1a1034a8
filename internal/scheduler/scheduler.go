// Package scheduler drives periodic check cycles, one timer per active feed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"rss_relay/internal/metrics"
	"rss_relay/internal/model"
	"rss_relay/internal/pipeline"
	"rss_relay/internal/storage"
)

var (
	// ErrNotRunning is returned when timers are installed before Start or after Stop.
	ErrNotRunning = errors.New("scheduler is not running")
	// ErrCheckInProgress is returned when a check for the feed is already running.
	ErrCheckInProgress = errors.New("check already in progress")
)

// Store is the subset of the feed store the scheduler reads and updates.
type Store interface {
	GetFeed(ctx context.Context, id string) (*model.Feed, error)
	ListActiveFeeds(ctx context.Context) ([]model.Feed, error)
	RecordCheck(ctx context.Context, feedID string, at time.Time, errText string) error
}

// Runner executes one check cycle.
type Runner interface {
	Run(ctx context.Context, feed *model.Feed) (pipeline.Result, error)
}

// Options tunes intervals and concurrency.
type Options struct {
	DefaultInterval    time.Duration
	MinInterval        time.Duration
	AggressiveInterval time.Duration
	Aggressive         bool
	MaxConcurrent      int
}

// JobInfo describes the schedule of one feed.
type JobInfo struct {
	FeedID    string         `json:"feed_id"`
	Name      string         `json:"name"`
	Interval  time.Duration  `json:"interval"`
	NextRun   time.Time      `json:"next_run"`
	LastRun   time.Time      `json:"last_run,omitzero"`
	State     model.JobState `json:"state"`
	LastError string         `json:"last_error,omitempty"`
}

// ReloadResult summarises a bulk reschedule.
type ReloadResult struct {
	Scheduled  int  `json:"scheduled"`
	Aggressive bool `json:"aggressive"`
}

// CheckReport is the outcome of an out-of-band check.
type CheckReport struct {
	FeedID    string `json:"feed_id"`
	Fetched   int    `json:"fetched"`
	ItemsSent int    `json:"items_sent"`
	Error     string `json:"error,omitempty"`
}

type job struct {
	feedID   string
	name     string
	interval time.Duration
	next     time.Time
	stop     chan struct{}
}

type status struct {
	running   bool
	lastRun   time.Time
	lastError string
}

// Scheduler owns the per-feed timers.
type Scheduler struct {
	store  Store
	runner Runner
	log    *slog.Logger
	opts   Options
	sem    *semaphore.Weighted

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	jobs       map[string]*job
	locks      map[string]*sync.Mutex
	statuses   map[string]*status
	aggressive bool

	wg sync.WaitGroup
}

// New creates a Scheduler. Zero options fall back to 300s default, 60s minimum,
// 10s aggressive interval and 10 concurrent checks.
func New(store Store, runner Runner, log *slog.Logger, opts Options) *Scheduler {
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = model.DefaultIntervalSeconds * time.Second
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = time.Minute
	}
	if opts.AggressiveInterval <= 0 {
		opts.AggressiveInterval = 10 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}
	return &Scheduler{
		store:      store,
		runner:     runner,
		log:        log,
		opts:       opts,
		sem:        semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		jobs:       make(map[string]*job),
		locks:      make(map[string]*sync.Mutex),
		statuses:   make(map[string]*status),
		aggressive: opts.Aggressive,
	}
}

// Start enables timer installation. Timers run until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.log.Info("scheduler started",
		"aggressive", s.aggressive,
		"max_concurrent", s.opts.MaxConcurrent,
	)
}

// Stop cancels every timer and waits for in-flight checks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.stopAllLocked()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// ScheduleFeed replaces any timer for feed with a new recurring one.
func (s *Scheduler) ScheduleFeed(feed model.Feed) (JobInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(feed)
}

func (s *Scheduler) scheduleLocked(feed model.Feed) (JobInfo, error) {
	if s.ctx == nil || s.ctx.Err() != nil {
		return JobInfo{}, ErrNotRunning
	}
	if old, ok := s.jobs[feed.ID]; ok {
		close(old.stop)
		delete(s.jobs, feed.ID)
	}

	interval := s.effectiveIntervalLocked(feed)
	j := &job{
		feedID:   feed.ID,
		name:     feed.Name,
		interval: interval,
		next:     time.Now().Add(interval),
		stop:     make(chan struct{}),
	}
	s.jobs[feed.ID] = j
	metrics.SetScheduledJobs(len(s.jobs))

	s.wg.Add(1)
	go s.loop(s.ctx, j)

	s.log.Debug("feed scheduled", "feed_id", feed.ID, "interval", interval)
	return s.infoLocked(j), nil
}

// UnscheduleFeed cancels the timer of a feed and reports whether one existed.
// A check already running for the feed is not interrupted.
func (s *Scheduler) UnscheduleFeed(feedID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[feedID]
	if !ok {
		return false
	}
	close(j.stop)
	delete(s.jobs, feedID)
	s.forgetLocked(feedID)
	metrics.SetScheduledJobs(len(s.jobs))
	s.log.Debug("feed unscheduled", "feed_id", feedID)
	return true
}

// ReloadAllSchedules cancels every timer and schedules each active feed again.
func (s *Scheduler) ReloadAllSchedules(ctx context.Context) (ReloadResult, error) {
	feeds, err := s.store.ListActiveFeeds(ctx)
	if err != nil {
		return ReloadResult{}, fmt.Errorf("list active feeds: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.ctx.Err() != nil {
		return ReloadResult{}, ErrNotRunning
	}
	s.stopAllLocked()

	res := ReloadResult{Aggressive: s.aggressive}
	for _, f := range feeds {
		if _, err := s.scheduleLocked(f); err != nil {
			return res, fmt.Errorf("schedule feed %s: %w", f.ID, err)
		}
		res.Scheduled++
	}
	for id := range s.locks {
		if _, ok := s.jobs[id]; !ok {
			s.forgetLocked(id)
		}
	}
	for id := range s.statuses {
		if _, ok := s.jobs[id]; !ok {
			s.forgetLocked(id)
		}
	}
	s.log.Info("schedules reloaded", "scheduled", res.Scheduled, "aggressive", res.Aggressive)
	return res, nil
}

// SetAggressiveMode toggles the global short interval and reloads every schedule.
func (s *Scheduler) SetAggressiveMode(ctx context.Context, on bool) (ReloadResult, error) {
	s.mu.Lock()
	s.aggressive = on
	s.mu.Unlock()
	s.log.Info("aggressive mode changed", "enabled", on)
	return s.ReloadAllSchedules(ctx)
}

// AggressiveMode reports whether the global short interval is active.
func (s *Scheduler) AggressiveMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aggressive
}

// EffectiveInterval returns the interval a timer for feed would use.
func (s *Scheduler) EffectiveInterval(feed model.Feed) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveIntervalLocked(feed)
}

func (s *Scheduler) effectiveIntervalLocked(feed model.Feed) time.Duration {
	if s.aggressive {
		return s.opts.AggressiveInterval
	}
	d := s.opts.DefaultInterval
	if feed.IntervalSeconds > 0 {
		d = time.Duration(feed.IntervalSeconds) * time.Second
	}
	return max(d, s.opts.MinInterval)
}

// CheckNow runs exactly one cycle for the feed outside its timer, even when
// the feed is inactive. It returns ErrCheckInProgress if a cycle is running.
func (s *Scheduler) CheckNow(ctx context.Context, feedID string) (CheckReport, error) {
	return s.guarded(ctx, feedID, true)
}

// Jobs lists installed timers ordered by feed name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, s.infoLocked(j))
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Name != out[b].Name {
			return out[a].Name < out[b].Name
		}
		return out[a].FeedID < out[b].FeedID
	})
	return out
}

// State returns the scheduling state of a feed.
func (s *Scheduler) State(feedID string) model.JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, scheduled := s.jobs[feedID]
	return s.stateLocked(feedID, scheduled)
}

func (s *Scheduler) stateLocked(feedID string, scheduled bool) model.JobState {
	st := s.statuses[feedID]
	switch {
	case st != nil && st.running:
		return model.StateRunning
	case !scheduled:
		return model.StateUnscheduled
	case st != nil && st.lastError != "":
		return model.StateError
	default:
		return model.StateScheduled
	}
}

func (s *Scheduler) infoLocked(j *job) JobInfo {
	info := JobInfo{
		FeedID:   j.feedID,
		Name:     j.name,
		Interval: j.interval,
		NextRun:  j.next,
		State:    s.stateLocked(j.feedID, true),
	}
	if st := s.statuses[j.feedID]; st != nil {
		info.LastRun = st.lastRun
		info.LastError = st.lastError
	}
	return info
}

func (s *Scheduler) stopAllLocked() {
	for id, j := range s.jobs {
		close(j.stop)
		delete(s.jobs, id)
	}
	metrics.SetScheduledJobs(0)
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			j.next = now.Add(j.interval)
			s.mu.Unlock()
			s.fire(ctx, j.feedID)
		}
	}
}

// fire starts a check for the feed without blocking the timer. A fire that
// finds the previous check still running is dropped.
func (s *Scheduler) fire(ctx context.Context, feedID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, err := s.guarded(ctx, feedID, false)
		switch {
		case errors.Is(err, ErrCheckInProgress):
			metrics.ObserveFireDropped()
			s.log.Debug("previous check still running, fire dropped", "feed_id", feedID)
		case err != nil:
			s.log.Warn("timer check", "feed_id", feedID, "error", err)
		}
	}()
}

// acquire takes the per-feed check lock without blocking. Locks are only taken
// and dropped under s.mu, so a pruned lock is never held.
func (s *Scheduler) acquire(feedID string) (*sync.Mutex, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[feedID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[feedID] = l
	}
	return l, l.TryLock()
}

// release ends a check and prunes the bookkeeping of a feed that has no timer.
func (s *Scheduler) release(feedID string, l *sync.Mutex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.Unlock()
	if _, scheduled := s.jobs[feedID]; !scheduled {
		s.forgetLocked(feedID)
	}
}

// forgetLocked drops the lock and status of feedID unless a check still holds the
// lock; release prunes them when that check ends.
func (s *Scheduler) forgetLocked(feedID string) {
	if l, ok := s.locks[feedID]; ok {
		if !l.TryLock() {
			return
		}
		l.Unlock()
	}
	delete(s.locks, feedID)
	delete(s.statuses, feedID)
}

func (s *Scheduler) guarded(ctx context.Context, feedID string, force bool) (CheckReport, error) {
	lock, ok := s.acquire(feedID)
	if !ok {
		return CheckReport{FeedID: feedID}, ErrCheckInProgress
	}
	defer s.release(feedID, lock)
	return s.check(ctx, feedID, force)
}

func (s *Scheduler) check(ctx context.Context, feedID string, force bool) (CheckReport, error) {
	report := CheckReport{FeedID: feedID}

	feed, err := s.store.GetFeed(ctx, feedID)
	if err != nil {
		if !force && errors.Is(err, storage.ErrNotFound) {
			// deleted while a timer was still installed
			s.UnscheduleFeed(feedID)
		}
		return report, fmt.Errorf("load feed: %w", err)
	}
	if !feed.IsActive && !force {
		s.log.Debug("feed inactive, skipping", "feed_id", feedID)
		return report, nil
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return report, fmt.Errorf("wait for check slot: %w", err)
	}
	defer s.sem.Release(1)

	s.markRunning(feedID)
	start := time.Now()
	res, runErr := s.safeRun(ctx, feed)
	elapsed := time.Since(start)

	report.Fetched = res.Fetched
	report.ItemsSent = res.Sent
	result := metrics.ResultOK
	switch {
	case runErr != nil:
		report.Error = runErr.Error()
		result = metrics.ResultError
		s.log.Error("check feed", "feed_id", feedID, "feed", feed.Name, "error", runErr)
	case res.CapReached:
		result = metrics.ResultSkipped
	}
	metrics.ObserveCycle(result, elapsed)
	s.finish(feedID, start, report.Error)

	// the cycle's own context may be cancelled; the outcome is still recorded
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.store.RecordCheck(recCtx, feedID, start, report.Error); err != nil {
		s.log.Warn("record check", "feed_id", feedID, "error", err)
	}
	return report, nil
}

// safeRun runs one cycle and converts a panic into an error.
func (s *Scheduler) safeRun(ctx context.Context, feed *model.Feed) (res pipeline.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("check panicked", "feed_id", feed.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.runner.Run(ctx, feed)
}

func (s *Scheduler) markRunning(feedID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusLocked(feedID).running = true
}

func (s *Scheduler) finish(feedID string, at time.Time, errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statusLocked(feedID)
	st.running = false
	st.lastRun = at
	st.lastError = errText
}

func (s *Scheduler) statusLocked(feedID string) *status {
	st, ok := s.statuses[feedID]
	if !ok {
		st = &status{}
		s.statuses[feedID] = st
	}
	return st
}
