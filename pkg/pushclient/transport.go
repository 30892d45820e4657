package pushclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nicktill/tinytrim/pkg/feed"
	"github.com/nicktill/tinytrim/pkg/point"
)

// ErrInvalidBackendCount is returned when SetBackends is given a count below one.
var ErrInvalidBackendCount = errors.New("backend count must be at least 1")

// Transport sends point batches to a server
type Transport interface {
	Send(ctx context.Context, points []point.Point) error
}

// HTTPTransport pushes points to a server's /v1/points endpoint
type HTTPTransport struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTP creates a transport for the server at baseURL (e.g. http://localhost:8080).
func NewHTTP(baseURL, token string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send posts points, split into requests of at most point.MaxPointsPerBatch.
func (t *HTTPTransport) Send(ctx context.Context, points []point.Point) error {
	for len(points) > 0 {
		n := min(len(points), point.MaxPointsPerBatch)
		if err := t.post(ctx, "/v1/points", feed.PointsRequest{Points: points[:n]}); err != nil {
			return err
		}
		points = points[n:]
	}
	return nil
}

// SetBackends reports the number of backends the pushed points were sampled from.
func (t *HTTPTransport) SetBackends(ctx context.Context, count int) error {
	if count < 1 {
		return ErrInvalidBackendCount
	}
	return t.post(ctx, "/v1/backends", feed.BackendsRequest{Count: count})
}

func (t *HTTPTransport) post(ctx context.Context, path string, body any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s failed with status %d", path, resp.StatusCode)
	}
	return nil
}
