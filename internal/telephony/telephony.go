// Package telephony is the boundary to the call-control surface of whichever
// telephony provider is driving a live call.
//
// The orchestration core only ever needs two operations: transfer the call to
// a human's phone number and hang up. Both are keyed by the provider's
// external call identifier.
package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Controller drives call-control actions for live calls. Implementations
// must be safe for concurrent use.
type Controller interface {
	// Transfer connects the call identified by callID to the given phone
	// number.
	Transfer(ctx context.Context, callID, number string) error

	// EndCall hangs up the call identified by callID.
	EndCall(ctx context.Context, callID string) error
}

// HTTPController calls a telephony provider's REST control surface.
type HTTPController struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// HTTPControllerConfig configures an HTTPController.
type HTTPControllerConfig struct {
	// BaseURL is the provider's control API root. Required.
	BaseURL string

	// APIKey authenticates requests via a bearer token. May be empty for
	// providers that authenticate by network.
	APIKey string

	// Timeout bounds one control request. Defaults to 5s.
	Timeout time.Duration
}

// NewHTTPController creates an HTTPController.
func NewHTTPController(cfg HTTPControllerConfig) (*HTTPController, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("telephony: base URL must not be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &HTTPController{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Transfer implements Controller.
func (c *HTTPController) Transfer(ctx context.Context, callID, number string) error {
	return c.post(ctx, fmt.Sprintf("/calls/%s/transfer", callID), map[string]string{
		"number": number,
	})
}

// EndCall implements Controller.
func (c *HTTPController) EndCall(ctx context.Context, callID string) error {
	return c.post(ctx, fmt.Sprintf("/calls/%s/hangup", callID), nil)
}

func (c *HTTPController) post(ctx context.Context, path string, payload map[string]string) error {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return fmt.Errorf("telephony: encode payload: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("telephony: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("telephony: %s returned status %d", path, resp.StatusCode)
	}
	return nil
}

var _ Controller = (*HTTPController)(nil)

// MockController records call-control actions for tests.
type MockController struct {
	mu sync.Mutex

	// TransferErr and EndCallErr, if non-nil, are returned by the respective
	// methods.
	TransferErr error
	EndCallErr  error

	// Transfers records (callID, number) pairs; Ended records callIDs.
	Transfers [][2]string
	Ended     []string
}

// Transfer implements Controller.
func (m *MockController) Transfer(_ context.Context, callID, number string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TransferErr != nil {
		return m.TransferErr
	}
	m.Transfers = append(m.Transfers, [2]string{callID, number})
	return nil
}

// EndCall implements Controller.
func (m *MockController) EndCall(_ context.Context, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EndCallErr != nil {
		return m.EndCallErr
	}
	m.Ended = append(m.Ended, callID)
	return nil
}

var _ Controller = (*MockController)(nil)
