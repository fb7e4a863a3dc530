// Package handoff decides when a user interaction escalates from the
// baseline agent to an elevated session, and assembles the payload the
// presentation layer needs to perform the switch.
package handoff

import (
	"context"
	"log/slog"
	"time"

	"github.com/workspace/orb-agent/internal/evaluator"
	"github.com/workspace/orb-agent/internal/history"
	"github.com/workspace/orb-agent/internal/positioning"
)

// DefaultEvaluatorTimeout bounds a single evaluator call.
const DefaultEvaluatorTimeout = 5 * time.Second

// Signals carries the contextual inputs accompanying a user utterance.
type Signals struct {
	Viewport        positioning.Viewport `json:"viewport"`
	TopTier         bool                 `json:"topTier"`
	WorkerResponses []string             `json:"workerResponses,omitempty"`
}

// Payload is handed to the presentation layer when escalation fires: the
// decision that triggered it, plus where the elevated surface should first
// appear.
type Payload struct {
	Decision  evaluator.Decision `json:"decision"`
	Placement positioning.Point  `json:"placement"`
}

// Result is the outcome of processing one input.
type Result struct {
	Handoff bool     `json:"handoff"`
	Payload *Payload `json:"payload,omitempty"`
}

// FaultSink receives evaluator faults for out-of-band reporting.
type FaultSink interface {
	ReportError(err error, source, userID string, ctx map[string]any)
}

// Bridge orchestrates history, evaluation, and placement. It never touches
// session state: the registry acts only once the presentation layer
// follows through on the payload.
type Bridge struct {
	history *history.Buffer
	eval    evaluator.Evaluator
	faults  FaultSink
	timeout time.Duration
}

// NewBridge creates a Bridge. Faults may be nil; a non-positive timeout
// falls back to the default.
func NewBridge(buf *history.Buffer, eval evaluator.Evaluator, faults FaultSink, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = DefaultEvaluatorTimeout
	}
	return &Bridge{history: buf, eval: eval, faults: faults, timeout: timeout}
}

// ProcessInput appends the input to the user's history, asks the evaluator
// for a decision over the pruned window, and returns a handoff payload when
// escalation fires.
//
// Evaluator failure of any kind is fail-safe, not fail-open: the user
// continues with the baseline agent and never sees an error. Escalation is
// a privilege increase, so it must never happen off a faulty decision.
func (b *Bridge) ProcessInput(ctx context.Context, userID, input string, sig Signals) Result {
	b.history.Append(userID, input)
	entries := b.history.Pruned(userID)

	req := evaluator.Request{
		UserID:      userID,
		LatestInput: input,
		AuxContext: evaluator.AuxContext{
			WorkerResponses: sig.WorkerResponses,
			History:         toHistoryEntries(entries),
		},
	}

	evalCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	decision, err := b.eval.Evaluate(evalCtx, req)
	if err != nil {
		slog.Warn("evaluator call failed, continuing without escalation", "userId", userID, "error", err)
		if b.faults != nil {
			b.faults.ReportError(err, "evaluator", userID, nil)
		}
		return Result{Handoff: false}
	}

	if !decision.Escalate {
		return Result{Handoff: false}
	}

	placement := positioning.InitialPlacement(positioning.Signals{
		Viewport: sig.Viewport,
		TopTier:  sig.TopTier,
		Reason:   decision.Reason,
	})

	slog.Info("escalation decided", "userId", userID, "reason", decision.Reason, "priority", decision.Priority)
	return Result{Handoff: true, Payload: &Payload{Decision: decision, Placement: placement}}
}

func toHistoryEntries(entries []history.Entry) []evaluator.HistoryEntry {
	out := make([]evaluator.HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = evaluator.HistoryEntry{Input: e.Input, OccurredAt: e.OccurredAt}
	}
	return out
}
