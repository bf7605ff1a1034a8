package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rss_relay/internal/fetcher"
	"rss_relay/internal/model"
	"rss_relay/internal/scheduler"
	"rss_relay/internal/storage"
)

func TestParseAddArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    AddArgs
		wantErr bool
	}{
		{
			name: "url only",
			args: "https://example.com/rss",
			want: AddArgs{URL: "https://example.com/rss"},
		},
		{
			name: "kind and destination",
			args: "https://youtube.com/@golang -k youtube -d @golang_news",
			want: AddArgs{URL: "https://youtube.com/@golang", Kind: model.KindYouTube, Destination: "@golang_news"},
		},
		{
			name: "name after flags",
			args: "https://example.com/rss -d -100123 Example News",
			want: AddArgs{URL: "https://example.com/rss", Destination: "-100123", Name: "Example News"},
		},
		{
			name: "uppercase kind",
			args: "https://tiktok.com/@x -k TikTok",
			want: AddArgs{URL: "https://tiktok.com/@x", Kind: model.KindTikTok},
		},
		{name: "empty", args: "", wantErr: true},
		{name: "unknown kind", args: "https://x.com -k myspace", wantErr: true},
		{name: "flag without value", args: "https://x.com -d", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseIDArg(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    string
		wantErr bool
	}{
		{name: "full id", args: "2b7c4a1e-0000-4000-8000-000000000001", want: "2b7c4a1e-0000-4000-8000-000000000001"},
		{name: "prefix with whitespace", args: "  2b7c  ", want: "2b7c"},
		{name: "extra words ignored", args: "2b7c now", want: "2b7c"},
		{name: "empty", args: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIDArg(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseRenameArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     string
		wantID   string
		wantName string
		wantErr  bool
	}{
		{name: "valid", args: "ab12 New Name", wantID: "ab12", wantName: "New Name"},
		{name: "missing name", args: "ab12", wantErr: true},
		{name: "blank name", args: "ab12    ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, name, err := ParseRenameArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantID, id); diff != "" {
				t.Errorf("id mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantName, name); diff != "" {
				t.Errorf("name mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseIntervalArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     string
		wantID   string
		wantSecs int
		wantErr  bool
	}{
		{name: "valid", args: "ab12 600", wantID: "ab12", wantSecs: 600},
		{name: "one second", args: "ab12 1", wantID: "ab12", wantSecs: 1},
		{name: "zero", args: "ab12 0", wantErr: true},
		{name: "missing seconds", args: "ab12", wantErr: true},
		{name: "not a number", args: "ab12 soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, secs, err := ParseIntervalArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantID, id); diff != "" {
				t.Errorf("id mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantSecs, secs); diff != "" {
				t.Errorf("seconds mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseSetArgs(t *testing.T) {
	got, err := ParseSetArgs("ab12  Template  {title}  by  {link}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := SetArgs{FeedID: "ab12", Field: "template", Value: "{title}  by  {link}"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	if _, err := ParseSetArgs("ab12 include"); err == nil {
		t.Error("expected error for missing value")
	}
}

func TestApplySetting(t *testing.T) {
	tests := []struct {
		name    string
		start   model.Feed
		field   string
		value   string
		want    model.Feed
		wantErr bool
	}{
		{
			name:  "include list",
			field: "include", value: "go, rust ,, zig",
			want: model.Feed{Filters: model.Filters{IncludeKeywords: []string{"go", "rust", "zig"}}},
		},
		{
			name:  "clear exclude",
			start: model.Feed{Filters: model.Filters{ExcludeKeywords: []string{"ad"}}},
			field: "exclude", value: "-",
			want: model.Feed{},
		},
		{
			name:  "regex keeps commas",
			field: "include_re", value: `^v\d{1,3} (?i)release`,
			want: model.Feed{Filters: model.Filters{IncludeRegex: []string{`^v\d{1,3}`, "(?i)release"}}},
		},
		{
			name:  "domains",
			field: "deny", value: "spam.com,ads.net",
			want: model.Feed{Filters: model.Filters{DomainDeny: []string{"spam.com", "ads.net"}}},
		},
		{
			name:  "quiet hours",
			field: "quiet", value: "22:00 - 07:00",
			want: model.Feed{Filters: model.Filters{QuietHoursStart: "22:00", QuietHoursEnd: "07:00"}},
		},
		{
			name:  "clear quiet hours",
			start: model.Feed{Filters: model.Filters{QuietHoursStart: "22:00", QuietHoursEnd: "07:00"}},
			field: "quiet", value: "-",
			want: model.Feed{},
		},
		{name: "bad quiet hours", field: "quiet", value: "22:00", wantErr: true},
		{
			name:  "template newline escape",
			field: "template", value: `{title}\n{link}`,
			want: model.Feed{MessageTemplate: "{title}\n{link}"},
		},
		{
			name:  "embeds on",
			field: "embeds", value: "on",
			want: model.Feed{AllowEmbeds: true},
		},
		{name: "embeds garbage", field: "embeds", value: "maybe", wantErr: true},
		{
			name:  "daily cap",
			field: "daily_cap", value: "20",
			want: model.Feed{DailyCap: 20},
		},
		{name: "max per run not a number", field: "max_per_run", value: "lots", wantErr: true},
		{
			name:  "mode lowercased",
			field: "mode", value: "THREAD",
			want: model.Feed{Mode: model.ModeThread},
		},
		{
			name:  "clear mention",
			start: model.Feed{MentionRole: "news"},
			field: "mention_role", value: "-",
			want: model.Feed{},
		},
		{name: "unknown field", field: "colour", value: "red", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.start
			err := ApplySetting(&got, tt.field, tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatFeedList(t *testing.T) {
	tests := []struct {
		name         string
		feeds        []model.Feed
		wantContains []string
	}{
		{
			name:         "empty list",
			feeds:        nil,
			wantContains: []string{"No feeds yet"},
		},
		{
			name: "with feeds",
			feeds: []model.Feed{
				{ID: "11111111-aaaa", Name: "Feed A", Category: "tech", Destination: "-100", IntervalSeconds: 300, IsActive: true, TotalSent: 4},
				{ID: "22222222-bbbb", Name: "Feed B", Category: "general", Destination: "@b", IntervalSeconds: 60, LastError: "timeout"},
			},
			wantContains: []string{
				"11111111 Feed A",
				"(every 300s) [active]",
				"tech -> -100, 4 sent",
				"22222222 Feed B",
				"[paused]",
				"last error: timeout",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatFeedList(tt.feeds)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("output missing %q:\n%s", want, got)
				}
			}
		})
	}
}

func TestFormatFeedInfo(t *testing.T) {
	lastCheck := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name         string
		feed         *model.Feed
		wantContains []string
	}{
		{
			name: "active feed with filters",
			feed: &model.Feed{
				ID: "0123456789ab", Name: "DevOps Feed", URL: "https://example.com/rss", SourceKind: model.KindRSS,
				Destination: "-100", Mode: model.ModeThread, IntervalSeconds: 600, IsActive: true,
				MaxPerRun: 5, DailyCap: 30, LastCheckAt: &lastCheck, LastError: "boom",
				Filters: model.Filters{
					IncludeKeywords: []string{"k8s", "helm"},
					DomainDeny:      []string{"ads.com"},
					QuietHoursStart: "22:00",
					QuietHoursEnd:   "07:00",
				},
			},
			wantContains: []string{
				"01234567 DevOps Feed [active]",
				"ID: 0123456789ab",
				"https://example.com/rss (rss)",
				"Destination: -100 (thread)",
				"every 600s",
				"5 per run, 30 per day",
				`Template: "{title}\n{link}"`,
				"2025-06-15 10:30 UTC",
				"Last error: boom",
				"Include: k8s, helm",
				"Denied domains: ads.com",
				"Quiet hours: 22:00-07:00",
			},
		},
		{
			name: "paused feed no filters",
			feed: &model.Feed{ID: "short", Name: "Paused", URL: "https://p.com"},
			wantContains: []string{
				"short Paused [paused]",
				"No filters",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatFeedInfo(tt.feed)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("output missing %q:\n%s", want, got)
				}
			}
		})
	}
}

func TestFormatJobs(t *testing.T) {
	next := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	jobs := []scheduler.JobInfo{
		{FeedID: "aaaaaaaa-1", Name: "A", Interval: 5 * time.Minute, NextRun: next, State: model.StateScheduled},
		{FeedID: "bbbbbbbb-2", Name: "B", Interval: time.Minute, NextRun: next, LastRun: next.Add(-time.Minute),
			State: model.StateError, LastError: "parse failed"},
	}

	got := FormatJobs(jobs, true)
	for _, want := range []string{
		"2 scheduled jobs (aggressive mode)",
		"aaaaaaaa A [scheduled] every 5m0s",
		"next: 2025-01-01 12:00 UTC",
		"last: 2025-01-01 11:59 UTC",
		"error: parse failed",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(strings.SplitN(got, "bbbbbbbb", 2)[0], "last:") {
		t.Errorf("job without a run must not show a last run:\n%s", got)
	}
}

func TestFormatStats(t *testing.T) {
	got := FormatStats(storage.Stats{Feeds: 3, ActiveFeeds: 2, ErrorFeeds: 1, TotalSent: 40, SentItems: 38, SentToday: 5})
	want := "Feeds: 3 (2 active, 1 with errors)\nSent: 40 total, 5 today\nDispatched items tracked: 38"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatPreview(t *testing.T) {
	if got := FormatPreview("https://x.com/rss", nil); !strings.Contains(got, "No items found") {
		t.Errorf("unexpected empty preview: %s", got)
	}

	got := FormatPreview("https://x.com/rss", []fetcher.Item{
		{Title: "First", Link: "https://x.com/1"},
		{Title: "Second", GUID: "guid-2"},
	})
	for _, want := range []string{"Preview of https://x.com/rss", "1. First", "https://x.com/1", "2. Second", "guid-2"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestTruncate(t *testing.T) {
	if diff := cmp.Diff("héllo", truncate("héllo", 5)); diff != "" {
		t.Errorf("short string changed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("hé…", truncate("héllo", 3)); diff != "" {
		t.Errorf("truncate mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatBulkResult(t *testing.T) {
	got := FormatBulkResult([]string{"a"}, map[string]string{"zz": "not found", "bb": "ambiguous feed ID"})
	want := "Done: 1 succeeded, 2 failed.\nbb: ambiguous feed ID\nzz: not found\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
