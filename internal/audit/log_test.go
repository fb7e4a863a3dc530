package audit

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestRecordAndReplay(t *testing.T) {
	l, err := Open(t.TempDir(), "orb-agent", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()

	l.Record("u1", "session_started", map[string]any{"sessionId": "s1"})
	l.Record("u2", "session_started", map[string]any{"sessionId": "s2"})
	l.Record("u1", "session_ended", map[string]any{"sessionId": "s1"})

	events, err := l.Replay("u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for u1, got %d", len(events))
	}
	if events[0].EventType != "session_started" || events[1].EventType != "session_ended" {
		t.Fatalf("events out of append order: %+v", events)
	}
	if events[0].Source != "orb-agent" {
		t.Fatalf("expected source tag, got %q", events[0].Source)
	}
	if events[0].Data["sessionId"] != "s1" {
		t.Fatalf("unexpected payload: %v", events[0].Data)
	}
}

func TestDayPartitioning(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, "orb-agent", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()

	current := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	l.now = func() time.Time { return current }

	l.Record("u1", "session_started", nil)
	current = current.Add(2 * time.Minute) // crosses midnight
	l.Record("u1", "session_ended", nil)

	for _, name := range []string{"events-2026-03-01.jsonl", "events-2026-03-02.jsonl"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected partition %s: %v", name, err)
		}
	}

	events, err := l.Replay("u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected replay across partitions, got %d events", len(events))
	}
}

func TestTimestampsMonotonicPerWriter(t *testing.T) {
	l, err := Open(t.TempDir(), "orb-agent", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(time.Second), base.Add(-time.Hour)} // clock steps back
	i := 0
	l.now = func() time.Time {
		ts := times[i]
		if i < len(times)-1 {
			i++
		}
		return ts
	}

	l.Record("u1", "a", nil)
	l.Record("u1", "b", nil)
	l.Record("u1", "c", nil)

	events, err := l.Replay("u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for j := 1; j < len(events); j++ {
		if events[j].Timestamp.Before(events[j-1].Timestamp) {
			t.Fatalf("timestamps regressed: %v then %v", events[j-1].Timestamp, events[j].Timestamp)
		}
	}
}

type captureSink struct {
	mu    sync.Mutex
	calls int
}

func (c *captureSink) ReportError(err error, source, userID string, ctx map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
}

func TestWriteFailureNeverPropagates(t *testing.T) {
	dir := t.TempDir()
	sink := &captureSink{}
	l, err := Open(dir, "orb-agent", sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()

	// Remove the directory so partition opens fail.
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}

	// Must not panic or error.
	l.Record("u1", "session_started", nil)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.calls != 1 {
		t.Fatalf("expected 1 fault report, got %d", sink.calls)
	}
}

func TestReplayUnknownUserEmpty(t *testing.T) {
	l, err := Open(t.TempDir(), "orb-agent", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()

	events, err := l.Replay("ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected empty replay, got %d", len(events))
	}
}
