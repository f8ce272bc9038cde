// Package backend is the stateless HTTP client for the pairing/command
// channel. It maps each local call to one remote call, decodes the response,
// and surfaces failures as typed errors for the resilience layer to classify.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tetherlabs/tether/internal/resilience"
)

// DefaultTimeout bounds every pairing-channel request.
const DefaultTimeout = 10 * time.Second

// Client is the pairing-channel API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a pairing-channel client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// BaseURL returns the backend base URL, used by the connectivity probe.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// RequestQRToken asks for a fresh pairing token and QR payload.
func (c *Client) RequestQRToken(ctx context.Context, req *QRTokenRequest) (*QRTokenResponse, error) {
	var resp QRTokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/qr-token", req, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckLoginStatus polls whether the pairing token has been claimed.
func (c *Client) CheckLoginStatus(ctx context.Context, token string) (*LoginStatusResponse, error) {
	path := "/check-login-status?token=" + url.QueryEscape(token)
	var resp LoginStatusResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendHeartbeat posts the periodic liveness signal.
func (c *Client) SendHeartbeat(ctx context.Context, token string, req *HeartbeatRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/heartbeat", req, token, nil)
}

// PollCommands fetches up to limit pending commands.
func (c *Client) PollCommands(ctx context.Context, token, connectorID string, limit int) ([]Command, error) {
	path := "/commands/poll?connector_id=" + url.QueryEscape(connectorID) + "&limit=" + strconv.Itoa(limit)
	var commands []Command
	if err := c.doJSON(ctx, http.MethodGet, path, nil, token, &commands); err != nil {
		return nil, err
	}
	return commands, nil
}

// ReportCommandResult posts a command outcome.
func (c *Client) ReportCommandResult(ctx context.Context, token string, req *CommandResultRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/commands/result", req, token, nil)
}

// ReportWorkContext uploads the work-context snapshot.
func (c *Client) ReportWorkContext(ctx context.Context, token string, req *WorkContextRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/work-context", req, token, nil)
}

// Disconnect tells the backend this connector is going away.
func (c *Client) Disconnect(ctx context.Context, token string, req *DisconnectRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/disconnect", req, token, nil)
}

// doJSON issues one request and decodes the JSON response into out (if out is
// non-nil). Non-2xx responses become *resilience.StatusError so the governor
// can classify them by status code.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, bearer string, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &resilience.StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
