// Package evaluator defines the escalation decision contract and the
// out-of-process transports that produce decisions.
//
// The contract is a versioned JSON request/response schema; callers depend
// only on the Evaluator interface, never on a specific invocation mechanism.
// Any transport failure (timeout, non-zero exit, malformed output) surfaces
// as an error, which callers must treat as "do not escalate": escalation is
// a privilege increase and must never happen off a missing or faulty
// decision.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion identifies the request/response schema. Bumped on any
// incompatible change to Request or Decision.
const SchemaVersion = 1

// Priority is the urgency of an escalation.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Well-known escalation reasons. Evaluators may report others; only
// ReasonFrustration affects placement.
const (
	ReasonFrustration = "frustration"
	ReasonKeyword     = "keyword"
	ReasonTier        = "tier"
)

// HistoryEntry is one recent utterance forwarded as evaluator context.
type HistoryEntry struct {
	Input      string    `json:"input"`
	OccurredAt time.Time `json:"occurredAt"`
}

// AuxContext carries the contextual signals beyond the latest input.
type AuxContext struct {
	WorkerResponses []string       `json:"workerResponses,omitempty"`
	History         []HistoryEntry `json:"history"`
}

// Request is the evaluator invocation payload.
type Request struct {
	SchemaVersion int        `json:"schemaVersion"`
	UserID        string     `json:"userId"`
	LatestInput   string     `json:"latestInput"`
	AuxContext    AuxContext `json:"auxContext"`
}

// Decision is the evaluator's verdict. Immutable once produced; consumed
// exactly once by the handoff bridge.
type Decision struct {
	Escalate bool           `json:"escalate"`
	Reason   string         `json:"reason"`
	Priority Priority       `json:"priority"`
	Context  map[string]any `json:"context,omitempty"`
}

// Evaluator produces escalation decisions. Implementations cross a process
// boundary and must honor ctx cancellation.
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (Decision, error)
}

// NoEscalation is the fail-safe decision substituted when an evaluator call
// fails.
func NoEscalation() Decision {
	return Decision{Escalate: false, Priority: PriorityNormal}
}

// decodeDecision parses and validates raw evaluator output. A missing
// priority defaults to normal; an unknown priority is malformed output and
// rejected so the caller falls back to no escalation.
func decodeDecision(data []byte) (Decision, error) {
	var d Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return Decision{}, fmt.Errorf("malformed evaluator output: %w", err)
	}
	switch d.Priority {
	case "":
		d.Priority = PriorityNormal
	case PriorityLow, PriorityNormal, PriorityHigh:
	default:
		return Decision{}, fmt.Errorf("malformed evaluator output: unknown priority %q", d.Priority)
	}
	return d, nil
}
