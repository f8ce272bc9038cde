// Package chatapi is the stateless HTTP client for the agent-to-agent
// messaging channel.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/tetherlabs/tether/internal/resilience"
)

// DefaultTimeout bounds every messaging-channel request.
const DefaultTimeout = 10 * time.Second

// Client is the messaging-channel API client.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	apiKey string
}

// NewClient creates a messaging-channel client. apiKey may be empty until
// Register has been called.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// SetAPIKey replaces the bearer key, e.g. after registration. Safe to call
// while requests are in flight.
func (c *Client) SetAPIKey(apiKey string) {
	c.mu.Lock()
	c.apiKey = apiKey
	c.mu.Unlock()
}

func (c *Client) bearerKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiKey
}

// SendHeartbeat posts the chat liveness signal and returns the unread count.
func (c *Client) SendHeartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	var resp HeartbeatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/heartbeat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListConversations fetches the conversation summaries.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var resp ConversationsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/messages", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// GetMessages fetches up to limit messages from one peer's conversation.
func (c *Client) GetMessages(ctx context.Context, peerID string, limit int) ([]Message, error) {
	path := "/api/messages/" + url.PathEscape(peerID) + "?limit=" + strconv.Itoa(limit)
	var resp MessagesResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendMessage dispatches a reply to a peer.
func (c *Client) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	var resp SendMessageResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/message", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates a chat identity and returns the issued credentials.
func (c *Client) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
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
	if key := c.bearerKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
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
