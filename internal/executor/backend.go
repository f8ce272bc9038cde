// Package executor is the boundary to the local AI agent. Commands and chat
// messages become prompts; the backend turns a prompt into a reply.
package executor

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when no AI backend is installed or reachable.
var ErrUnavailable = errors.New("executor unavailable")

// DefaultTimeout bounds one execution when the request does not set its own.
const DefaultTimeout = 300 * time.Second

// Request is one prompt execution.
type Request struct {
	Prompt string
	// SessionKey scopes conversation continuity, e.g. "command-{id}" or
	// "chat-{id}". Empty means a one-shot execution.
	SessionKey string
	Timeout    time.Duration
}

// Result is the backend's reply.
type Result struct {
	Text    string
	IsError bool
}

// Backend executes prompts against a local AI agent.
type Backend interface {
	Execute(ctx context.Context, req Request) (*Result, error)
	IsAvailable() bool
	Name() string
}

// BackendTypeClaude identifies the claude CLI backend.
const BackendTypeClaude = "claude-code"
