package opsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rss_relay/internal/model"
	"rss_relay/internal/scheduler"
	"rss_relay/internal/storage"
)

type fakeSource struct {
	jobs       []scheduler.JobInfo
	aggressive bool
	stats      storage.Stats
	statsErr   error
}

func (f *fakeSource) Jobs() []scheduler.JobInfo { return f.jobs }

func (f *fakeSource) AggressiveMode() bool { return f.aggressive }

func (f *fakeSource) Stats(context.Context) (storage.Stats, error) { return f.stats, f.statsErr }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	return rec
}

func TestPing(t *testing.T) {
	srv := New(":0", &fakeSource{}, "test", discard())
	rec := get(t, srv.Handler(), "/ping")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if diff := cmp.Diff("pong", rec.Body.String()); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestJobs(t *testing.T) {
	next := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		aggressive: true,
		jobs: []scheduler.JobInfo{
			{FeedID: "f1", Name: "One", Interval: 10 * time.Second, NextRun: next, State: model.StateScheduled},
			{FeedID: "f2", Name: "Two", Interval: 10 * time.Second, NextRun: next, State: model.StateError, LastError: "boom"},
		},
	}
	srv := New(":0", src, "test", discard())

	rec := get(t, srv.Handler(), "/jobs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got jobsResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := jobsResponse{Aggressive: true, Jobs: src.jobs}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("jobs mismatch (-want +got):\n%s", diff)
	}
}

func TestJobsEmpty(t *testing.T) {
	srv := New(":0", &fakeSource{}, "test", discard())
	rec := get(t, srv.Handler(), "/jobs")
	if !strings.Contains(rec.Body.String(), `"jobs":[]`) {
		t.Errorf("expected empty job array, got %s", rec.Body.String())
	}
}

func TestStats(t *testing.T) {
	src := &fakeSource{stats: storage.Stats{Feeds: 2, ActiveFeeds: 1, TotalSent: 9, SentToday: 3}}
	srv := New(":0", src, "test", discard())

	rec := get(t, srv.Handler(), "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got storage.Stats
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(src.stats, got); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	src.statsErr = errors.New("database is closed")
	rec = get(t, srv.Handler(), "/stats")
	if diff := cmp.Diff(http.StatusInternalServerError, rec.Code); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestMetrics(t *testing.T) {
	srv := New(":0", &fakeSource{}, "test", discard())
	rec := get(t, srv.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "relay_scheduled_jobs") {
		t.Error("expected relay_scheduled_jobs in metrics output")
	}
}

func TestRunShutdown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	srv := New(addr, &fakeSource{}, "test", discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	url := fmt.Sprintf("http://%s/ping", addr)
	var resp *http.Response
	for range 100 {
		if resp, err = http.Get(url); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server did not start: %v", err)
	}
	_ = resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
