// Package filter implements the per-item selection pipeline.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"rss_relay/internal/fetcher"
	"rss_relay/internal/model"
)

// Reason names the predicate that rejected an item. Accepted is the empty reason.
type Reason string

// Rejection reasons, in evaluation order.
const (
	Accepted       Reason = ""
	ReasonQuiet    Reason = "quiet_hours"
	ReasonNoKey    Reason = "no_key"
	ReasonSeen     Reason = "already_sent"
	ReasonLanguage Reason = "language"
	ReasonInclude  Reason = "include_keyword"
	ReasonExclude  Reason = "exclude_keyword"
	ReasonIncludeR Reason = "include_regex"
	ReasonExcludeR Reason = "exclude_regex"
	ReasonDomain   Reason = "domain"
)

// Dedup answers whether an item key was already dispatched.
type Dedup interface {
	AlreadySent(ctx context.Context, itemKey string) (bool, error)
}

// Engine evaluates feed items against a feed's filters.
type Engine struct {
	dedup Dedup
	now   func() time.Time
	log   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for quiet hours.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine backed by the given dedup store.
func New(dedup Dedup, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{dedup: dedup, now: time.Now, log: log}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate runs every predicate in order and returns the first rejection reason,
// or Accepted. seen holds keys already accepted by the dedup stage in this run
// and is updated in place. A non-nil error means the dedup store failed.
func (e *Engine) Evaluate(ctx context.Context, f model.Filters, item fetcher.Item, seen map[string]struct{}) (Reason, error) {
	if InQuietHours(e.now(), f.QuietHoursStart, f.QuietHoursEnd) {
		return ReasonQuiet, nil
	}

	key := item.Key()
	if key == "" {
		return ReasonNoKey, nil
	}
	if _, ok := seen[key]; ok {
		return ReasonSeen, nil
	}
	sent, err := e.dedup.AlreadySent(ctx, key)
	if err != nil {
		return "", fmt.Errorf("check sent %q: %w", key, err)
	}
	if sent {
		return ReasonSeen, nil
	}
	seen[key] = struct{}{}

	text := item.Title + "\n" + item.Summary

	if !MatchLanguage(text, f.Language) {
		return ReasonLanguage, nil
	}
	if len(f.IncludeKeywords) > 0 && !MatchKeywords(text, f.IncludeKeywords) {
		return ReasonInclude, nil
	}
	if len(f.ExcludeKeywords) > 0 && MatchKeywords(text, f.ExcludeKeywords) {
		return ReasonExclude, nil
	}
	if len(f.IncludeRegex) > 0 && !e.matchRegex(text, f.IncludeRegex, true) {
		return ReasonIncludeR, nil
	}
	if len(f.ExcludeRegex) > 0 && e.matchRegex(text, f.ExcludeRegex, false) {
		return ReasonExcludeR, nil
	}
	if !MatchDomain(item.Key(), f.DomainAllow, f.DomainDeny) {
		return ReasonDomain, nil
	}
	return Accepted, nil
}

// matchRegex reports whether any pattern matches text case-insensitively.
// An invalid pattern short-circuits to onInvalid: include lists accept, exclude lists
// stop excluding.
func (e *Engine) matchRegex(text string, patterns []string, onInvalid bool) bool {
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			e.log.Warn("invalid filter regex", "pattern", p, "error", err)
			return onInvalid
		}
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// InQuietHours reports whether now falls in [start, end), wrapping past midnight
// when start > end. Missing or malformed bounds disable the window.
func InQuietHours(now time.Time, start, end string) bool {
	if start == "" || end == "" {
		return false
	}
	s, err := ParseClock(start)
	if err != nil {
		return false
	}
	en, err := ParseClock(end)
	if err != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if s <= en {
		return cur >= s && cur < en
	}
	return cur >= s || cur < en
}

// ParseClock parses HH:MM into minutes after midnight.
func ParseClock(v string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

var languageMarkers = map[string][]string{
	"fr": {" le ", " la ", " les ", " de ", " des ", " et ", " à ", " pour ", " sur "},
	"en": {" the ", " and ", " of ", " for ", " on ", " with ", " from "},
}

// MatchLanguage is a marker-word heuristic: text passes when at least one
// function word of the language occurs. Unknown or empty languages always pass.
func MatchLanguage(text, lang string) bool {
	markers, ok := languageMarkers[strings.ToLower(lang)]
	if !ok {
		return true
	}
	lower := strings.ToLower(text)
	score := 0
	for _, m := range markers {
		if strings.Contains(lower, m) {
			score++
		}
	}
	return score >= 1
}

// MatchKeywords reports whether any keyword occurs in text, case-insensitively.
func MatchKeywords(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Domain extracts the host of link without scheme, port and leading "www.".
func Domain(link string) string {
	d := strings.ToLower(strings.TrimSpace(link))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/?#:"); i >= 0 {
		d = d[:i]
	}
	return d
}

// MatchDomain applies the allow and deny lists to the domain of link.
func MatchDomain(link string, allow, deny []string) bool {
	d := Domain(link)
	if len(allow) > 0 && !contains(allow, d) {
		return false
	}
	if len(deny) > 0 && contains(deny, d) {
		return false
	}
	return true
}

func contains(list []string, d string) bool {
	for _, v := range list {
		if strings.ToLower(strings.TrimSpace(v)) == d {
			return true
		}
	}
	return false
}

// ValidateRegex checks whether a pattern is a valid regular expression.
func ValidateRegex(pattern string) error {
	_, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	return nil
}
