package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeStub creates an executable script that stands in for the claude CLI.
func writeStub(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude-stub")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("failed to write stub: %v", err)
	}
	return path
}

func TestClaudeBackendName(t *testing.T) {
	b := NewClaudeBackend("")
	if b.Name() != BackendTypeClaude {
		t.Errorf("Name() = %q, want %q", b.Name(), BackendTypeClaude)
	}
	if b.command != "claude" {
		t.Errorf("default command = %q, want claude", b.command)
	}
}

func TestExecuteUnavailableBinary(t *testing.T) {
	b := NewClaudeBackend("definitely-not-installed-binary")
	if b.IsAvailable() {
		t.Fatal("IsAvailable() = true for a missing binary")
	}
	_, err := b.Execute(context.Background(), Request{Prompt: "hi"})
	if err != ErrUnavailable {
		t.Errorf("Execute() error = %v, want ErrUnavailable", err)
	}
}

func TestExecuteReturnsStdout(t *testing.T) {
	stub := writeStub(t, `echo "the reply"`)
	b := NewClaudeBackend(stub)

	result, err := b.Execute(context.Background(), Request{Prompt: "hi", SessionKey: "command-1"})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result.IsError {
		t.Error("IsError = true, want false")
	}
	if result.Text != "the reply" {
		t.Errorf("Text = %q, want %q", result.Text, "the reply")
	}
}

func TestExecuteNonZeroExitYieldsErrorResult(t *testing.T) {
	stub := writeStub(t, `echo "something broke" >&2; exit 1`)
	b := NewClaudeBackend(stub)

	result, err := b.Execute(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !result.IsError {
		t.Error("IsError = false, want true")
	}
	if result.Text != "something broke" {
		t.Errorf("Text = %q, want stderr detail", result.Text)
	}
}

func TestExecuteTimesOut(t *testing.T) {
	stub := writeStub(t, `sleep 10`)
	b := NewClaudeBackend(stub)

	start := time.Now()
	_, err := b.Execute(context.Background(), Request{Prompt: "hi", Timeout: 100 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v, want well under the sleep", elapsed)
	}
}

func TestSessionIDIsStable(t *testing.T) {
	a := sessionID("command-42")
	b := sessionID("command-42")
	c := sessionID("chat-42")
	if a != b {
		t.Errorf("same key produced different session IDs: %q vs %q", a, b)
	}
	if a == c {
		t.Error("different keys produced the same session ID")
	}
}
