// Package history maintains a bounded, time-windowed log of recent user
// utterances, used as context for escalation evaluation.
package history

import (
	"sync"
	"time"
)

// DefaultRetentionWindow is how long an utterance stays relevant for
// escalation decisions. Override via NewBufferWithWindow.
const DefaultRetentionWindow = time.Hour

// Entry is a single user utterance.
type Entry struct {
	Input      string    `json:"input"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Buffer holds per-user utterance logs bounded by a retention window.
// Storage is compacted to the window on every Pruned call, so the buffer
// never grows past one window of traffic per user.
type Buffer struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string][]Entry
	now     func() time.Time
}

// NewBuffer creates a Buffer with the default one-hour retention window.
func NewBuffer() *Buffer {
	return NewBufferWithWindow(DefaultRetentionWindow)
}

// NewBufferWithWindow creates a Buffer with an explicit retention window.
func NewBufferWithWindow(window time.Duration) *Buffer {
	if window <= 0 {
		window = DefaultRetentionWindow
	}
	return &Buffer{
		window:  window,
		entries: make(map[string][]Entry),
		now:     time.Now,
	}
}

// Append records an utterance for a user, timestamped now.
func (b *Buffer) Append(userID, input string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[userID] = append(b.entries[userID], Entry{
		Input:      input,
		OccurredAt: b.now().UTC(),
	})
}

// Pruned returns the entries for a user that are still inside the retention
// window, oldest first. Internal storage for that user is compacted to the
// returned set. The result is a copy: callers may range over it repeatedly
// or hold it across later appends.
func (b *Buffer) Pruned(userID string) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.window)
	all := b.entries[userID]

	// Entries are appended in time order, so find the first one still
	// inside the window and drop everything before it.
	keepFrom := len(all)
	for i, e := range all {
		if !e.OccurredAt.Before(cutoff) {
			keepFrom = i
			break
		}
	}

	kept := all[keepFrom:]
	if keepFrom > 0 {
		if len(kept) == 0 {
			delete(b.entries, userID)
			kept = nil
		} else {
			compacted := make([]Entry, len(kept))
			copy(compacted, kept)
			b.entries[userID] = compacted
			kept = compacted
		}
	}

	out := make([]Entry, len(kept))
	copy(out, kept)
	return out
}

// Len reports the number of stored entries for a user, including any that
// have aged out but not yet been compacted away.
func (b *Buffer) Len(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries[userID])
}
