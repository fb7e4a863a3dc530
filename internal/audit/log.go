// Package audit provides the append-only audit stream: one JSON object per
// line, files partitioned by day. Recording never fails the caller; write
// failures go to a secondary fault channel instead of blocking or reverting
// the operation being audited.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a single audit record.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"userId"`
	EventType string         `json:"eventType"`
	Data      map[string]any `json:"data,omitempty"`
	Source    string         `json:"source"`
}

// FaultSink receives failures that must not surface to the audited
// operation. A nil sink is allowed.
type FaultSink interface {
	ReportError(err error, source, userID string, ctx map[string]any)
}

// Log is an append-only, day-partitioned JSONL event stream. Timestamps are
// monotonic per Log instance: an event never carries a timestamp earlier
// than the one before it, even across clock steps.
type Log struct {
	dir    string
	source string
	faults FaultSink

	mu      sync.Mutex
	file    *os.File
	fileDay string
	lastTS  time.Time
	now     func() time.Time
}

// Open creates the audit directory if needed and returns a Log writing
// under it. Source tags every event with the writing component.
func Open(dir, source string, faults FaultSink) (*Log, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &Log{
		dir:    dir,
		source: source,
		faults: faults,
		now:    time.Now,
	}, nil
}

// Record appends an event to the stream. It never returns an error and
// never panics on write failure; failures are reported to the fault sink.
func (l *Log) Record(userID, eventType string, data map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now().UTC()
	if ts.Before(l.lastTS) {
		ts = l.lastTS
	}
	l.lastTS = ts

	event := Event{
		ID:        uuid.New().String(),
		Timestamp: ts,
		UserID:    userID,
		EventType: eventType,
		Data:      data,
		Source:    l.source,
	}

	if err := l.writeLocked(event); err != nil {
		l.reportFault(err, userID, eventType)
	}
}

func (l *Log) writeLocked(event Event) error {
	day := event.Timestamp.Format("2006-01-02")
	if l.file == nil || day != l.fileDay {
		if l.file != nil {
			l.file.Close()
			l.file = nil
		}
		f, err := os.OpenFile(l.path(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return fmt.Errorf("open audit partition: %w", err)
		}
		l.file = f
		l.fileDay = day
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Replay returns a user's events in append order across all day partitions,
// for compliance review.
func (l *Log) Replay(userID string) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	names, err := filepath.Glob(filepath.Join(l.dir, "events-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("list audit partitions: %w", err)
	}
	sort.Strings(names)

	var out []Event
	for _, name := range names {
		events, err := readPartition(name, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	return out, nil
}

func readPartition(name, userID string) ([]Event, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open audit partition: %w", err)
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// A torn final line from a crashed writer is tolerated.
			continue
		}
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit partition: %w", err)
	}
	return out, nil
}

// Close flushes and closes the current partition file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.fileDay = ""
	return err
}

func (l *Log) path(day string) string {
	return filepath.Join(l.dir, "events-"+day+".jsonl")
}

func (l *Log) reportFault(err error, userID, eventType string) {
	if l.faults == nil {
		return
	}
	l.faults.ReportError(err, "audit", userID, map[string]any{
		"eventType": eventType,
	})
}
