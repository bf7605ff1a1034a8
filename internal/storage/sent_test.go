package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestMarkSent(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	sent, err := s.AlreadySent(ctx, "https://x.example.com/1")
	if err != nil {
		t.Fatalf("already sent: %v", err)
	}
	if sent {
		t.Fatal("expected fresh key to be unsent")
	}

	steps := []struct {
		name         string
		feedID       string
		wantInserted bool
	}{
		{name: "first insert", feedID: "f1", wantInserted: true},
		{name: "duplicate is a no-op", feedID: "f1", wantInserted: false},
		{name: "same key from another feed", feedID: "f2", wantInserted: false},
	}
	for _, st := range steps {
		t.Run(st.name, func(t *testing.T) {
			inserted, err := s.MarkSent(ctx, st.feedID, "https://x.example.com/1")
			if err != nil {
				t.Fatalf("mark sent: %v", err)
			}
			if diff := cmp.Diff(st.wantInserted, inserted); diff != "" {
				t.Errorf("inserted mismatch (-want +got):\n%s", diff)
			}
			sent, err := s.AlreadySent(ctx, "https://x.example.com/1")
			if err != nil {
				t.Fatalf("already sent: %v", err)
			}
			if !sent {
				t.Error("expected key to be sent")
			}
		})
	}
}

func TestMarkSentRace(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	const workers = 10
	var (
		wg       sync.WaitGroup
		winners  atomic.Int32
		failures atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := s.MarkSent(ctx, "f1", "race-key")
			if err != nil {
				failures.Add(1)
				return
			}
			if inserted {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if diff := cmp.Diff(int32(0), failures.Load()); diff != "" {
		t.Errorf("failures mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(int32(1), winners.Load()); diff != "" {
		t.Errorf("winners mismatch (-want +got):\n%s", diff)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	now := time.Now()

	records := []struct {
		key string
		age time.Duration
	}{
		{key: "fresh", age: time.Hour},
		{key: "six-days", age: 6 * 24 * time.Hour},
		{key: "eight-days", age: 8 * 24 * time.Hour},
		{key: "month", age: 30 * 24 * time.Hour},
	}
	for _, r := range records {
		if _, err := s.markSentAt(ctx, "f1", r.key, now.Add(-r.age)); err != nil {
			t.Fatalf("mark %s: %v", r.key, err)
		}
	}

	n, err := s.PurgeOlderThan(ctx, 7)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if diff := cmp.Diff(int64(2), n); diff != "" {
		t.Errorf("purged count mismatch (-want +got):\n%s", diff)
	}

	want := map[string]bool{"fresh": true, "six-days": true, "eight-days": false, "month": false}
	got := map[string]bool{}
	for key := range want {
		sent, err := s.AlreadySent(ctx, key)
		if err != nil {
			t.Fatalf("already sent: %v", err)
		}
		got[key] = sent
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("remaining records mismatch (-want +got):\n%s", diff)
	}
}

func TestCountSentSince(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	now := time.Now()

	marks := []struct {
		feed string
		key  string
		at   time.Time
	}{
		{feed: "f1", key: "a", at: now.Add(-time.Minute)},
		{feed: "f1", key: "b", at: now.Add(-2 * time.Hour)},
		{feed: "f1", key: "c", at: now.Add(-30 * time.Hour)},
		{feed: "f2", key: "d", at: now.Add(-time.Minute)},
	}
	for _, m := range marks {
		if _, err := s.markSentAt(ctx, m.feed, m.key, m.at); err != nil {
			t.Fatalf("mark: %v", err)
		}
	}

	got, err := s.CountSentSince(ctx, "f1", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if diff := cmp.Diff(2, got); diff != "" {
		t.Errorf("count mismatch (-want +got):\n%s", diff)
	}
}
