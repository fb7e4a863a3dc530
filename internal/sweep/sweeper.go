// Package sweep periodically ends elevated sessions that have gone stale,
// so resource handles acquired for a session whose owner vanished (crashed
// front-end, dropped connection) are reclaimed instead of orphaned.
package sweep

import (
	"log/slog"
	"sync"
	"time"

	"github.com/workspace/orb-agent/internal/session"
)

// Sweeper scans the registry on an interval and dismisses sessions whose
// last activity is older than the TTL. Ending a session runs the registry
// end hooks, which is where handle release happens.
type Sweeper struct {
	registry *session.Registry
	ttl      time.Duration
	interval time.Duration

	mu   sync.Mutex
	done chan struct{}
	now  func() time.Time
}

// New creates a Sweeper. Call Start to begin sweeping.
func New(registry *session.Registry, ttl, interval time.Duration) *Sweeper {
	return &Sweeper{
		registry: registry,
		ttl:      ttl,
		interval: interval,
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the sweep loop in the background.
func (s *Sweeper) Start() {
	go s.loop()
}

// Stop ends the sweep loop. Safe to call once.
func (s *Sweeper) Stop() {
	close(s.done)
}

func (s *Sweeper) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one pass and returns how many sessions were ended.
func (s *Sweeper) Sweep() int {
	s.mu.Lock()
	cutoff := s.now().Add(-s.ttl)
	s.mu.Unlock()

	ended := 0
	for _, sess := range s.registry.Active() {
		if sess.LastActivityAt.Before(cutoff) {
			if _, ok := s.registry.End(sess.UserID, session.ResolutionDismissed); ok {
				slog.Info("swept stale session", "sessionId", sess.ID, "userId", sess.UserID, "lastActivityAt", sess.LastActivityAt)
				ended++
			}
		}
	}
	return ended
}
