package permission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// FileAccessProvider grants access to a per-user project subtree under a
// configured root. The subtree is created if absent, and the granted path
// is always confined to the root regardless of what the user id contains.
type FileAccessProvider struct {
	Root string
}

// Acquire returns the user's project directory, creating it when missing.
func (p *FileAccessProvider) Acquire(_ context.Context, userID string) (string, error) {
	name := sanitizeUserDir(userID)
	if name == "" {
		return "", fmt.Errorf("%w: unusable user id", ErrUnavailable)
	}

	dir := filepath.Join(p.Root, name)

	// Confinement check: the join must stay under the root.
	rel, err := filepath.Rel(p.Root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes project root", ErrUnavailable)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("%w: create project dir: %v", ErrUnavailable, err)
	}
	return dir, nil
}

// Release is a no-op: directory grants hold no OS handle.
func (p *FileAccessProvider) Release(string) error { return nil }

// sanitizeUserDir maps a user id onto a safe directory name.
func sanitizeUserDir(userID string) string {
	var b strings.Builder
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

// ScreenBrokerClient negotiates capture sources with an out-of-process
// screen broker over HTTP. The broker owns the actual capture machinery;
// this service only negotiates and records the grant.
type ScreenBrokerClient struct {
	baseURL string
	client  *http.Client
}

// NewScreenBrokerClient creates a broker client. The client may be nil.
func NewScreenBrokerClient(baseURL string, client *http.Client) *ScreenBrokerClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &ScreenBrokerClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type brokerAcquireResponse struct {
	Success   bool   `json:"success"`
	SourceRef string `json:"sourceRef,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Acquire requests a capture source for the user.
func (c *ScreenBrokerClient) Acquire(ctx context.Context, userID string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"userId":             userID,
		"desiredPermissions": []string{"screen"},
	})
	if err != nil {
		return "", fmt.Errorf("marshal broker request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/capture/acquire", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build broker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: screen broker unreachable: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: screen broker status %d", ErrUnavailable, resp.StatusCode)
	}

	var decoded brokerAcquireResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: malformed broker response: %v", ErrUnavailable, err)
	}
	if !decoded.Success || decoded.SourceRef == "" {
		msg := decoded.Error
		if msg == "" {
			msg = "no capture source available"
		}
		return "", fmt.Errorf("%w: %s", ErrUnavailable, msg)
	}
	return decoded.SourceRef, nil
}

// Release tells the broker to free the capture source. Best effort: a
// broker that no longer knows the ref responds OK.
func (c *ScreenBrokerClient) Release(ref string) error {
	body, err := json.Marshal(map[string]string{"sourceRef": ref})
	if err != nil {
		return fmt.Errorf("marshal broker release: %w", err)
	}
	resp, err := c.client.Post(c.baseURL+"/capture/release", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("release capture source: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("release capture source: broker status %d", resp.StatusCode)
	}
	return nil
}

// StubScreenProvider hands out synthetic capture refs. Used when no broker
// is configured (local development) and throughout the tests.
type StubScreenProvider struct {
	Available bool

	mu     sync.Mutex
	active map[string]bool
}

// Acquire returns a fresh synthetic ref, or ErrUnavailable when the stub is
// marked unavailable.
func (p *StubScreenProvider) Acquire(_ context.Context, userID string) (string, error) {
	if !p.Available {
		return "", fmt.Errorf("%w: no capture source", ErrUnavailable)
	}
	ref := "screen:" + userID + ":" + uuid.New().String()
	p.mu.Lock()
	if p.active == nil {
		p.active = make(map[string]bool)
	}
	p.active[ref] = true
	p.mu.Unlock()
	return ref, nil
}

// Release frees a synthetic ref. Releasing an unknown ref is an error so
// double-release bugs surface in tests.
func (p *StubScreenProvider) Release(ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active[ref] {
		return fmt.Errorf("release of unknown capture ref %s", ref)
	}
	delete(p.active, ref)
	return nil
}

// ActiveRefs reports how many synthetic refs are still held.
func (p *StubScreenProvider) ActiveRefs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}
