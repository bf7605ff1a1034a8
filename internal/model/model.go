// Package model defines the domain types used across the application.
package model

import "time"

// Feed defaults applied when a field is left unset.
const (
	DefaultIntervalSeconds  = 300
	DefaultMaxPerRun        = 5
	DefaultDedupWindowHours = 24
	DefaultCategory         = "general"
	DefaultTemplate         = "{title}\n{link}"
)

// SourceKind declares what kind of URL the operator supplied.
type SourceKind string

// Supported source kinds.
const (
	KindWeb       SourceKind = "web"
	KindRSS       SourceKind = "rss"
	KindYouTube   SourceKind = "youtube"
	KindFacebook  SourceKind = "facebook"
	KindInstagram SourceKind = "instagram"
	KindTikTok    SourceKind = "tiktok"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case KindWeb, KindRSS, KindYouTube, KindFacebook, KindInstagram, KindTikTok:
		return true
	}
	return false
}

// Mode defines how an item is published to its destination.
type Mode string

// Supported publication modes.
const (
	ModeDirect Mode = "direct"
	ModeThread Mode = "thread"
)

// Valid reports whether m is a known publication mode.
func (m Mode) Valid() bool {
	return m == ModeDirect || m == ModeThread
}

// Filters holds the per-feed item selection rules.
type Filters struct {
	IncludeKeywords []string `json:"include_keywords,omitempty"`
	ExcludeKeywords []string `json:"exclude_keywords,omitempty"`
	IncludeRegex    []string `json:"include_regex,omitempty"`
	ExcludeRegex    []string `json:"exclude_regex,omitempty"`
	DomainAllow     []string `json:"domain_allow,omitempty"`
	DomainDeny      []string `json:"domain_deny,omitempty"`
	Language        string   `json:"language,omitempty"`
	QuietHoursStart string   `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   string   `json:"quiet_hours_end,omitempty"`
}

// Feed is one configured content source plus its delivery rules and schedule.
type Feed struct {
	ID              string
	Name            string
	Category        string
	URL             string
	SourceKind      SourceKind
	Destination     string
	Mode            Mode
	IntervalSeconds int
	IsActive        bool
	AllowEmbeds     bool
	MessageTemplate string
	MentionUser     string
	MentionRole     string
	Filters         Filters

	// DedupWindowHours is descriptive only; dedup has no expiry besides the retention sweep.
	DedupWindowHours int
	MaxPerRun        int
	DailyCap         int

	LastItem    string
	LastPubDate *int64
	LastError   string
	LastCheckAt *time.Time
	TotalSent   int64
	CreatedAt   time.Time
}

// ApplyDefaults fills zero-valued settings with their defaults.
func (f *Feed) ApplyDefaults() {
	if f.Category == "" {
		f.Category = DefaultCategory
	}
	if f.SourceKind == "" {
		f.SourceKind = KindWeb
	}
	if f.Mode == "" {
		f.Mode = ModeDirect
	}
	if f.IntervalSeconds == 0 {
		f.IntervalSeconds = DefaultIntervalSeconds
	}
	if f.MaxPerRun == 0 {
		f.MaxPerRun = DefaultMaxPerRun
	}
	if f.DedupWindowHours == 0 {
		f.DedupWindowHours = DefaultDedupWindowHours
	}
}

// Template returns the message template, falling back to the default one.
func (f *Feed) Template() string {
	if f.MessageTemplate == "" {
		return DefaultTemplate
	}
	return f.MessageTemplate
}

// JobState is the runtime scheduling state of a feed.
type JobState string

// Scheduler job states.
const (
	StateUnscheduled JobState = "unscheduled"
	StateScheduled   JobState = "scheduled"
	StateRunning     JobState = "running"
	StateError       JobState = "error"
)
