package executor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/google/uuid"

	"github.com/tetherlabs/tether/internal/logging"
)

// ClaudeBackend shells out to the claude CLI in print mode.
type ClaudeBackend struct {
	command string
	log     *slog.Logger
}

// NewClaudeBackend creates a claude CLI backend. command defaults to "claude".
func NewClaudeBackend(command string) *ClaudeBackend {
	if command == "" {
		command = "claude"
	}
	return &ClaudeBackend{
		command: command,
		log:     logging.WithComponent("executor.claude"),
	}
}

// Name returns the backend identifier.
func (b *ClaudeBackend) Name() string {
	return BackendTypeClaude
}

// IsAvailable checks whether the claude CLI is installed.
func (b *ClaudeBackend) IsAvailable() bool {
	_, err := exec.LookPath(b.command)
	return err == nil
}

// sessionID derives a stable CLI session UUID from a session key, so repeated
// executions under the same key share conversation state.
func sessionID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// Execute runs one prompt and returns the reply text. A non-zero exit with
// output still yields a Result with IsError set, so callers can report the
// failure upstream instead of dropping it.
func (b *ClaudeBackend) Execute(ctx context.Context, req Request) (*Result, error) {
	if !b.IsAvailable() {
		return nil, ErrUnavailable
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-p", req.Prompt,
		"--output-format", "text",
	}
	if req.SessionKey != "" {
		args = append(args, "--session-id", sessionID(req.SessionKey))
	}

	cmd := exec.CommandContext(ctx, b.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	b.log.Debug("Executing prompt",
		slog.String("session_key", req.SessionKey),
		slog.Duration("timeout", timeout),
	)

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("execution timed out after %s: %w", timeout, ctx.Err())
	}
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail == "" {
			return nil, fmt.Errorf("execution failed: %w", err)
		}
		return &Result{Text: detail, IsError: true}, nil
	}

	return &Result{Text: strings.TrimSpace(stdout.String())}, nil
}
