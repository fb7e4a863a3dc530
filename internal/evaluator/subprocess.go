package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// SubprocessEvaluator invokes the evaluator as a child process: the request
// is written to stdin as one JSON object, the decision is read from stdout.
// A non-zero exit is a transport failure regardless of what the process
// printed.
type SubprocessEvaluator struct {
	command string
	args    []string
}

// NewSubprocessEvaluator creates a subprocess transport for the given
// command line.
func NewSubprocessEvaluator(command string, args ...string) *SubprocessEvaluator {
	return &SubprocessEvaluator{command: command, args: args}
}

// Evaluate runs the evaluator process under ctx. Cancellation kills the
// child.
func (e *SubprocessEvaluator) Evaluate(ctx context.Context, req Request) (Decision, error) {
	req.SchemaVersion = SchemaVersion

	input, err := json.Marshal(req)
	if err != nil {
		return Decision{}, fmt.Errorf("marshal evaluator request: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.command, e.args...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Decision{}, fmt.Errorf("evaluator subprocess: %w", ctxErr)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return Decision{}, fmt.Errorf("evaluator subprocess: %w (stderr: %s)", err, detail)
		}
		return Decision{}, fmt.Errorf("evaluator subprocess: %w", err)
	}

	return decodeDecision(bytes.TrimSpace(stdout.Bytes()))
}
