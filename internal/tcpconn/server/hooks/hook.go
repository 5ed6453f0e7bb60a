// Connection-lifecycle hook interface.
// This file defines the Hook contract every dispatch target (shell, webhook,
// stdio) implements to react to a connection EventType.
package hooks

import (
	"context"
)

// Hook represents a handler invoked when a connection lifecycle event
// (connect, disconnect, client admission, ...) fires.
type Hook interface {
	// Execute runs the hook against one lifecycle event.
	Execute(ctx context.Context, event Event) error

	// Type identifies the dispatch mechanism: "shell", "webhook", "stdio".
	Type() string

	// ID returns a unique identifier for this hook instance.
	ID() string
}

// HookConfig configures how the manager dispatches lifecycle events to
// registered hooks.
type HookConfig struct {
	// Timeout is the configured per-hook execution bound (default: 30s).
	// NewHookManager only checks that it parses; the manager does not apply
	// it, each hook enforces the timeout it was constructed with.
	Timeout string `json:"timeout"`

	// Concurrency caps the number of hook executions in flight at once
	// across all event types (default: 10).
	Concurrency int `json:"concurrency"`

	// StdioFormat enables structured stdio output ("json", "env", or "" to
	// disable it).
	StdioFormat string `json:"stdio_format"`
}

// DefaultHookConfig returns the manager's out-of-the-box configuration.
func DefaultHookConfig() HookConfig {
	return HookConfig{
		Timeout:     "30s",
		Concurrency: 10,
		StdioFormat: "",
	}
}
