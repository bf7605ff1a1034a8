// Package fetcher handles RSS/Atom feed downloading and parsing.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	maxBodySize = 5 * 1024 * 1024
	userAgent   = "RSSRelay/1.0"
	acceptFeeds = "application/rss+xml,application/atom+xml,application/xml;q=0.9,text/xml;q=0.8,*/*;q=0.5"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Item is a single parsed feed entry.
type Item struct {
	Title     string
	Link      string
	GUID      string
	Summary   string
	Published *time.Time
}

// Key returns the deduplication identity of the item: its link, or GUID when there is no link.
func (i Item) Key() string {
	if i.Link != "" {
		return i.Link
	}
	return i.GUID
}

// Timestamp returns the publish time in epoch seconds, or 0 when unknown.
func (i Item) Timestamp() int64 {
	if i.Published == nil {
		return 0
	}
	return i.Published.Unix()
}

// Fetcher downloads and parses feeds.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
	log     *slog.Logger
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient, timeout time.Duration, log *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:  client,
		timeout: timeout,
		log:     log,
	}
}

// Fetch returns the items of the feed at url, most recent first.
// Failures are logged and produce an empty slice.
func (f *Fetcher) Fetch(ctx context.Context, url string) []Item {
	body, err := f.download(ctx, url)
	if err != nil {
		f.log.Warn("fetch feed", "url", url, "error", err)
		return nil
	}
	parsed := f.parse(url, body)
	if len(parsed) == 0 {
		f.log.Debug("feed has no items", "url", url)
		return nil
	}

	items := make([]Item, 0, len(parsed))
	for _, it := range parsed {
		if it == nil {
			continue
		}
		items = append(items, convert(it))
	}
	SortByRecency(items)
	return items
}

// Preview returns at most n items of the feed at url, most recent first.
func (f *Fetcher) Preview(ctx context.Context, url string, n int) []Item {
	items := f.Fetch(ctx, url)
	if n > 0 && len(items) > n {
		items = items[:n]
	}
	return items
}

// SortByRecency orders items by publish time descending; undated items sort last.
func SortByRecency(items []Item) {
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].Timestamp() > items[b].Timestamp()
	})
}

func (f *Fetcher) download(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptFeeds)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}

// parse decodes body. When the document as a whole is malformed, every complete
// item or entry it contains is still returned.
func (f *Fetcher) parse(url, body string) []*gofeed.Item {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	feed, err := gofeed.NewParser().ParseString(body)
	if err == nil {
		return feed.Items
	}
	items := salvage(body)
	f.log.Warn("malformed feed", "url", url, "error", err, "recovered", len(items))
	return items
}

const extraNamespaces = `xmlns:content="http://purl.org/rss/1.0/modules/content/" ` +
	`xmlns:dc="http://purl.org/dc/elements/1.1/" ` +
	`xmlns:media="http://search.yahoo.com/mrss/" ` +
	`xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"`

var fragments = []struct {
	open, close    string
	prefix, suffix string
}{
	{"<item", "</item>", `<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom" ` + extraNamespaces + `><channel>`, "</channel></rss>"},
	{"<entry", "</entry>", `<feed xmlns="http://www.w3.org/2005/Atom" ` + extraNamespaces + `>`, "</feed>"},
}

// salvage parses each closed <item> or <entry> element of body on its own.
func salvage(body string) []*gofeed.Item {
	p := gofeed.NewParser()
	for _, fr := range fragments {
		var out []*gofeed.Item
		rest := body
		for {
			start := indexTag(rest, fr.open)
			if start < 0 {
				break
			}
			rest = rest[start:]
			end := strings.Index(rest, fr.close)
			if end < 0 {
				break
			}
			chunk := rest[:end+len(fr.close)]
			// a second opening tag means the first element was never closed
			if next := indexTag(chunk[len(fr.open):], fr.open); next >= 0 {
				rest = rest[len(fr.open)+next:]
				continue
			}
			rest = rest[len(chunk):]

			feed, err := p.ParseString(fr.prefix + chunk + fr.suffix)
			if err != nil || feed == nil {
				continue
			}
			out = append(out, feed.Items...)
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// indexTag finds open followed by '>' or whitespace, so "<item" does not match "<itemref".
func indexTag(s, open string) int {
	off := 0
	for {
		i := strings.Index(s[off:], open)
		if i < 0 {
			return -1
		}
		i += off
		if j := i + len(open); j < len(s) && strings.ContainsRune("> \t\r\n", rune(s[j])) {
			return i
		}
		off = i + len(open)
	}
}

func convert(it *gofeed.Item) Item {
	title := strings.TrimSpace(it.Title)
	if title == "" {
		title = "Untitled"
	}
	summary := strings.TrimSpace(it.Description)
	if summary == "" {
		summary = strings.TrimSpace(it.Content)
	}

	out := Item{
		Title:   title,
		Link:    strings.TrimSpace(it.Link),
		GUID:    strings.TrimSpace(it.GUID),
		Summary: summary,
	}
	switch {
	case it.PublishedParsed != nil:
		t := it.PublishedParsed.UTC()
		out.Published = &t
	case it.UpdatedParsed != nil:
		t := it.UpdatedParsed.UTC()
		out.Published = &t
	}
	return out
}
