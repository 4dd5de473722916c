package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HealthPath is the worker REST endpoint describing cloud status.
const HealthPath = "/3/Cloud"

// DefaultHealthTimeout bounds a single health request.
const DefaultHealthTimeout = 10 * time.Second

// maxHealthBody caps how much of a health response is decoded.
const maxHealthBody = 1 << 20

// Status is the subset of the cloud status payload the orchestrator reads.
type Status struct {
	CloudName    string `json:"cloud_name"`
	CloudSize    int    `json:"cloud_size"`
	CloudHealthy bool   `json:"cloud_healthy"`
	Consensus    bool   `json:"consensus"`
	Locked       bool   `json:"locked"`
}

// HealthChecker queries cloud health with its own request timeout.
type HealthChecker struct {
	client *http.Client
}

// NewHealthChecker creates a checker whose requests time out after timeout.
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	return &HealthChecker{client: &http.Client{Timeout: timeout}}
}

// Check reports whether the cloud at baseURL declares itself healthy. Transport
// errors, non-2xx responses and undecodable bodies are returned as errors and
// count as unhealthy.
func (h *HealthChecker) Check(ctx context.Context, baseURL string) (bool, error) {
	st, err := h.Status(ctx, baseURL)
	if err != nil {
		return false, err
	}
	return st.CloudHealthy, nil
}

// Status fetches and decodes the cloud status payload.
func (h *HealthChecker) Status(ctx context.Context, baseURL string) (Status, error) {
	url := strings.TrimSuffix(baseURL, "/") + HealthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Status{}, fmt.Errorf("build health request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("health request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Status{}, fmt.Errorf("health request %s: status %d", url, resp.StatusCode)
	}

	var st Status
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxHealthBody)).Decode(&st); err != nil {
		return Status{}, fmt.Errorf("decode health response: %w", err)
	}
	return st, nil
}
