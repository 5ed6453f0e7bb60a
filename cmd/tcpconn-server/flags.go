package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

// cliConfig holds user supplied flag values prior to translation into
// server construction options.
type cliConfig struct {
	listenAddr      string
	logLevel        string
	logLevelFile    string
	rawMode         bool
	rawHeaderSize   int
	rawLengthOffset int
	rawLengthSize   int
	minVersion      string
	showVersion     bool

	hookScripts     []string
	hookWebhooks    []string
	hookStdioFormat string
	hookTimeout     string
	hookConcurrency int
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := pflag.NewFlagSet("tcpconn-server", pflag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}

	fs.StringVarP(&cfg.listenAddr, "listen", "l", ":4455", "TCP listen address (e.g. :4455 or 0.0.0.0:4455)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.logLevelFile, "log-level-file", "", "Optional file to watch for live log-level changes (fsnotify)")
	fs.BoolVar(&cfg.rawMode, "raw", false, "Speak raw mode instead of framed mode (no handshake, no header)")
	fs.IntVar(&cfg.rawHeaderSize, "raw-header-size", 0, "Raw mode: fixed application header size in bytes (0 disables header parsing)")
	fs.IntVar(&cfg.rawLengthOffset, "raw-length-offset", 0, "Raw mode: byte offset of the length field within the header")
	fs.IntVar(&cfg.rawLengthSize, "raw-length-size", 2, "Raw mode: length field width in bytes (1, 2, or 4)")
	fs.StringVar(&cfg.minVersion, "min-version", "", "Require the library version to satisfy this semver constraint (e.g. \">=0.1.0\")")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.StringSliceVar(&cfg.hookScripts, "hook-script", nil, "Hook script in format event_type=script_path (repeatable)")
	fs.StringSliceVar(&cfg.hookWebhooks, "hook-webhook", nil, "Hook webhook in format event_type=webhook_url (repeatable)")
	fs.StringVar(&cfg.hookStdioFormat, "hook-stdio-format", "", "Enable structured stdio output: json|env (empty=disabled)")
	fs.StringVar(&cfg.hookTimeout, "hook-timeout", "30s", "Timeout for hook execution")
	fs.IntVar(&cfg.hookConcurrency, "hook-concurrency", 10, "Maximum concurrent hook executions")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	if cfg.rawMode && cfg.rawHeaderSize > 0 {
		switch cfg.rawLengthSize {
		case 1, 2, 4:
		default:
			return nil, fmt.Errorf("raw-length-size must be 1, 2, or 4, got %d", cfg.rawLengthSize)
		}
		if cfg.rawLengthOffset+cfg.rawLengthSize > cfg.rawHeaderSize {
			return nil, fmt.Errorf("raw-length-offset+raw-length-size must fit within raw-header-size")
		}
	}

	if cfg.hookStdioFormat != "" && cfg.hookStdioFormat != "json" && cfg.hookStdioFormat != "env" {
		return nil, fmt.Errorf("invalid hook-stdio-format %q, must be 'json' or 'env'", cfg.hookStdioFormat)
	}
	if cfg.hookConcurrency < 1 || cfg.hookConcurrency > 100 {
		return nil, fmt.Errorf("hook-concurrency must be between 1 and 100, got %d", cfg.hookConcurrency)
	}
	for _, script := range cfg.hookScripts {
		if err := validateHookAssignment("hook-script", script); err != nil {
			return nil, err
		}
	}
	for _, webhook := range cfg.hookWebhooks {
		if err := validateHookAssignment("hook-webhook", webhook); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// validateHookAssignment validates event_type=value format.
func validateHookAssignment(flagName, assignment string) error {
	parts := strings.SplitN(assignment, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid %s format %q, expected event_type=value", flagName, assignment)
	}
	eventType, value := parts[0], parts[1]
	if eventType == "" {
		return fmt.Errorf("invalid %s: event type cannot be empty", flagName)
	}
	if value == "" {
		return fmt.Errorf("invalid %s: value cannot be empty", flagName)
	}

	validEventTypes := map[string]bool{
		"connected":                 true,
		"disconnected":              true,
		"client_connection_request": true,
		"client_connected":          true,
		"client_disconnected":       true,
	}
	if !validEventTypes[eventType] {
		return fmt.Errorf("invalid %s: unknown event type %q", flagName, eventType)
	}
	return nil
}
