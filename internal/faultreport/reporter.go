// Package faultreport is the secondary error channel: failures that must
// not block or revert the operation that produced them (audit writes,
// evaluator faults, resource release errors) are batched here and shipped
// to the control plane. All methods are nil-safe: a nil *Reporter is a
// no-op, and a reporter with no control-plane URL only logs locally.
package faultreport

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Fault is a single reported failure.
type Fault struct {
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Source    string         `json:"source"`
	UserID    string         `json:"userId,omitempty"`
	Timestamp string         `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

// Config tunes batching behavior.
type Config struct {
	FlushInterval time.Duration // periodic flush cadence (default: 30s)
	MaxBatchSize  int           // immediate flush threshold (default: 10)
	MaxQueueSize  int           // queued faults before dropping (default: 100)
	HTTPTimeout   time.Duration // POST timeout (default: 10s)
}

// Reporter batches faults and POSTs them to the control plane.
type Reporter struct {
	baseURL string
	config  Config
	client  *http.Client

	mu    sync.Mutex
	queue []Fault
	stopC chan struct{}
	doneC chan struct{}
}

// New creates a Reporter. An empty baseURL disables shipping; faults are
// still logged through slog so nothing is silently lost.
func New(baseURL string, cfg Config) *Reporter {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 10
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	return &Reporter{
		baseURL: strings.TrimRight(baseURL, "/"),
		config:  cfg,
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
		queue:   make([]Fault, 0, cfg.MaxBatchSize),
		stopC:   make(chan struct{}),
		doneC:   make(chan struct{}),
	}
}

// Start launches the background flush goroutine.
func (r *Reporter) Start() {
	if r == nil {
		return
	}
	go r.flushLoop()
}

// Shutdown flushes remaining faults and stops the background goroutine.
func (r *Reporter) Shutdown() {
	if r == nil {
		return
	}
	close(r.stopC)
	<-r.doneC
}

// Report queues a fault. When the queue reaches MaxBatchSize a flush runs
// immediately.
func (r *Reporter) Report(f Fault) {
	if r == nil {
		return
	}
	if f.Timestamp == "" {
		f.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if f.Level == "" {
		f.Level = "error"
	}

	slog.Warn("fault reported", "source", f.Source, "message", f.Message, "userId", f.UserID)

	r.mu.Lock()
	if len(r.queue) >= r.config.MaxQueueSize {
		r.mu.Unlock()
		slog.Warn("faultreport: queue full, dropping fault", "message", f.Message)
		return
	}
	r.queue = append(r.queue, f)
	shouldFlush := len(r.queue) >= r.config.MaxBatchSize
	r.mu.Unlock()

	if shouldFlush {
		go r.flush()
	}
}

// ReportError queues a fault built from an error.
func (r *Reporter) ReportError(err error, source, userID string, ctx map[string]any) {
	if r == nil {
		return
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	r.Report(Fault{
		Level:   "error",
		Message: msg,
		Source:  source,
		UserID:  userID,
		Context: ctx,
	})
}

// Pending reports the current queue depth.
func (r *Reporter) Pending() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Reporter) flushLoop() {
	defer close(r.doneC)

	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopC:
			r.flush()
			return
		case <-ticker.C:
			r.flush()
		}
	}
}

func (r *Reporter) flush() {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.queue
	r.queue = make([]Fault, 0, r.config.MaxBatchSize)
	r.mu.Unlock()

	if r.baseURL == "" {
		// Local-only mode: faults were already logged on Report.
		return
	}
	r.send(batch)
}

func (r *Reporter) send(faults []Fault) {
	body, err := json.Marshal(map[string]any{"faults": faults})
	if err != nil {
		slog.Error("faultreport: marshal batch", "error", err)
		return
	}

	resp, err := r.client.Post(r.baseURL+"/api/orb/faults", "application/json", bytes.NewReader(body))
	if err != nil {
		slog.Error("faultreport: send batch", "count", len(faults), "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("faultreport: control plane returned non-OK status", "statusCode", resp.StatusCode, "count", len(faults))
	}
}
