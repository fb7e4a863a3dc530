package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxResponseBytes bounds how much evaluator output is read. Anything larger
// is malformed by definition.
const maxResponseBytes = 1 << 20

// HTTPEvaluator invokes the evaluator over HTTP: the request is POSTed as
// JSON, the decision comes back as the response body.
type HTTPEvaluator struct {
	endpoint string
	client   *http.Client
}

// NewHTTPEvaluator creates an HTTP transport for the given endpoint. The
// client may be nil, in which case http.DefaultClient is used; the per-call
// deadline comes from ctx either way.
func NewHTTPEvaluator(endpoint string, client *http.Client) *HTTPEvaluator {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPEvaluator{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

// Evaluate POSTs the request and decodes the decision.
func (e *HTTPEvaluator) Evaluate(ctx context.Context, req Request) (Decision, error) {
	req.SchemaVersion = SchemaVersion

	body, err := json.Marshal(req)
	if err != nil {
		return Decision{}, fmt.Errorf("marshal evaluator request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return Decision{}, fmt.Errorf("build evaluator request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return Decision{}, fmt.Errorf("evaluator http call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("evaluator http call: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Decision{}, fmt.Errorf("read evaluator response: %w", err)
	}

	return decodeDecision(data)
}
