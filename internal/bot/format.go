package bot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"rss_relay/internal/fetcher"
	"rss_relay/internal/model"
	"rss_relay/internal/scheduler"
	"rss_relay/internal/storage"
)

const (
	statusActive = "active"
	statusPaused = "paused"

	shortIDLen = 8
	timeLayout = "2006-01-02 15:04 MST"
)

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

func feedStatus(f *model.Feed) string {
	if f.IsActive {
		return statusActive
	}
	return statusPaused
}

// FormatFeedList formats a list of feeds for display.
func FormatFeedList(feeds []model.Feed) string {
	if len(feeds) == 0 {
		return "No feeds yet. Use /add <url> to add one."
	}
	var b strings.Builder
	b.WriteString("Feeds:\n")
	for i := range feeds {
		f := &feeds[i]
		fmt.Fprintf(&b, "\n%s %s  (every %ds) [%s]\n", shortID(f.ID), f.Name, f.IntervalSeconds, feedStatus(f))
		fmt.Fprintf(&b, "   %s -> %s, %d sent\n", f.Category, f.Destination, f.TotalSent)
		if f.LastError != "" {
			fmt.Fprintf(&b, "   last error: %s\n", f.LastError)
		}
	}
	return b.String()
}

// FormatFeedInfo formats detailed information about a single feed.
func FormatFeedInfo(feed *model.Feed) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s [%s]\n", shortID(feed.ID), feed.Name, feedStatus(feed))
	fmt.Fprintf(&b, "ID: %s\n", feed.ID)
	fmt.Fprintf(&b, "URL: %s (%s)\n", feed.URL, feed.SourceKind)
	fmt.Fprintf(&b, "Destination: %s (%s)\n", feed.Destination, feed.Mode)
	fmt.Fprintf(&b, "Category: %s\n", feed.Category)
	fmt.Fprintf(&b, "Interval: every %ds\n", feed.IntervalSeconds)
	fmt.Fprintf(&b, "Limits: %d per run", feed.MaxPerRun)
	if feed.DailyCap > 0 {
		fmt.Fprintf(&b, ", %d per day", feed.DailyCap)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Template: %q\n", feed.Template())
	if feed.MentionUser != "" || feed.MentionRole != "" {
		fmt.Fprintf(&b, "Mentions: user=%s role=%s\n", feed.MentionUser, feed.MentionRole)
	}
	fmt.Fprintf(&b, "Sent: %d\n", feed.TotalSent)
	if feed.LastItem != "" {
		fmt.Fprintf(&b, "Last item: %s\n", feed.LastItem)
	}
	if feed.LastCheckAt != nil {
		fmt.Fprintf(&b, "Last check: %s\n", feed.LastCheckAt.Format(timeLayout))
	}
	if feed.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", feed.LastError)
	}
	b.WriteString("\n")
	b.WriteString(FormatFilters(feed.Filters))
	return b.String()
}

// FormatFilters formats the selection rules of a feed.
func FormatFilters(f model.Filters) string {
	rows := []struct {
		label  string
		values []string
	}{
		{"Include", f.IncludeKeywords},
		{"Exclude", f.ExcludeKeywords},
		{"Include (regex)", f.IncludeRegex},
		{"Exclude (regex)", f.ExcludeRegex},
		{"Allowed domains", f.DomainAllow},
		{"Denied domains", f.DomainDeny},
	}

	var b strings.Builder
	for _, r := range rows {
		if len(r.values) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", r.label, strings.Join(r.values, ", "))
	}
	if f.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", f.Language)
	}
	if f.QuietHoursStart != "" {
		fmt.Fprintf(&b, "Quiet hours: %s-%s\n", f.QuietHoursStart, f.QuietHoursEnd)
	}
	if b.Len() == 0 {
		return "No filters. Use /set <id> include|exclude|... to add some.\n"
	}
	return "Filters:\n" + b.String()
}

// FormatCheckReport formats the result of a manual check.
func FormatCheckReport(feed *model.Feed, r scheduler.CheckReport) string {
	if r.Error != "" {
		return fmt.Sprintf("Check of %s \"%s\" failed: %s", shortID(feed.ID), feed.Name, r.Error)
	}
	return fmt.Sprintf("Checked %s \"%s\": %d fetched, %d sent.", shortID(feed.ID), feed.Name, r.Fetched, r.ItemsSent)
}

// FormatJobs formats the installed schedules.
func FormatJobs(jobs []scheduler.JobInfo, aggressive bool) string {
	var b strings.Builder
	mode := "normal"
	if aggressive {
		mode = "aggressive"
	}
	fmt.Fprintf(&b, "%d scheduled jobs (%s mode)\n", len(jobs), mode)
	for _, j := range jobs {
		fmt.Fprintf(&b, "\n%s %s [%s] every %s\n", shortID(j.FeedID), j.Name, j.State, j.Interval)
		fmt.Fprintf(&b, "   next: %s", j.NextRun.Format(timeLayout))
		if !j.LastRun.IsZero() {
			fmt.Fprintf(&b, ", last: %s", j.LastRun.Format(timeLayout))
		}
		b.WriteString("\n")
		if j.LastError != "" {
			fmt.Fprintf(&b, "   error: %s\n", j.LastError)
		}
	}
	return b.String()
}

// FormatStats formats aggregate counters.
func FormatStats(st storage.Stats) string {
	return fmt.Sprintf("Feeds: %d (%d active, %d with errors)\nSent: %d total, %d today\nDispatched items tracked: %d",
		st.Feeds, st.ActiveFeeds, st.ErrorFeeds, st.TotalSent, st.SentToday, st.SentItems)
}

// FormatPreview formats the first items of a feed.
func FormatPreview(url string, items []fetcher.Item) string {
	if len(items) == 0 {
		return fmt.Sprintf("No items found at %s", url)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Preview of %s:\n", url)
	for i, it := range items {
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, it.Title)
		if it.Published != nil {
			fmt.Fprintf(&b, "   %s\n", it.Published.In(time.Local).Format(timeLayout))
		}
		if key := it.Key(); key != "" {
			fmt.Fprintf(&b, "   %s\n", key)
		}
	}
	return b.String()
}

// FormatBulkResult formats the outcome of a bulk action.
func FormatBulkResult(succeeded []string, failed map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Done: %d succeeded, %d failed.\n", len(succeeded), len(failed))
	refs := make([]string, 0, len(failed))
	for ref := range failed {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		fmt.Fprintf(&b, "%s: %s\n", ref, failed[ref])
	}
	return b.String()
}
