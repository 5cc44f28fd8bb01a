package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ToolSpec describes how to invoke one AI CLI tool. ResumeArgs are appended
// when re-entering an existing session so the tool reloads its conversation
// state; the session key is substituted for the "{session}" placeholder.
type ToolSpec struct {
	Binary     string
	Args       []string
	ResumeArgs []string
	WorkDir    string
}

// DefaultToolSpecs covers the tools the scheduler dispatches to out of the
// box. Entries can be overridden through configuration.
func DefaultToolSpecs() map[string]ToolSpec {
	return map[string]ToolSpec{
		"claude": {
			Binary:     "claude",
			Args:       []string{"--dangerously-skip-permissions", "--output-format", "stream-json", "--verbose"},
			ResumeArgs: []string{"--resume", "{session}"},
		},
		"codex": {
			Binary:     "codex",
			Args:       []string{"exec", "--full-auto"},
			ResumeArgs: []string{"resume", "{session}"},
		},
	}
}

// CLIManager runs tool sessions as subprocesses, one invocation per prompt.
// The session key carries conversation continuity between invocations via
// the tool's own resume mechanism.
type CLIManager struct {
	mu       sync.Mutex
	tools    map[string]ToolSpec
	sessions map[string]string // session key -> tool name
	used     map[string]bool   // session key -> has run at least once

	// WaitDelay bounds how long a cancelled subprocess gets between
	// SIGTERM and SIGKILL.
	WaitDelay time.Duration
}

// NewCLIManager creates a manager over the given tool specs. A nil map
// falls back to DefaultToolSpecs.
func NewCLIManager(tools map[string]ToolSpec) *CLIManager {
	if tools == nil {
		tools = DefaultToolSpecs()
	}
	return &CLIManager{
		tools:     tools,
		sessions:  make(map[string]string),
		used:      make(map[string]bool),
		WaitDelay: 10 * time.Second,
	}
}

// CreateSession registers a new session for the tool. The subprocess is not
// started here; it runs per Execute call with the session key threaded
// through the tool's resume flag.
func (m *CLIManager) CreateSession(ctx context.Context, tool string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tools[tool]; !ok {
		return "", fmt.Errorf("session: unknown tool %q", tool)
	}
	key, err := GenerateSessionKey()
	if err != nil {
		return "", err
	}
	m.sessions[key] = tool
	return key, nil
}

// Execute runs one prompt in the session's tool, blocking until exit.
func (m *CLIManager) Execute(ctx context.Context, sessionKey, prompt string) (*ExecResult, error) {
	m.mu.Lock()
	tool, ok := m.sessions[sessionKey]
	resume := m.used[sessionKey]
	var spec ToolSpec
	if ok {
		spec = m.tools[tool]
	}
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("session: unknown session %s", sessionKey)
	}

	args := append([]string{}, spec.Args...)
	if resume {
		for _, a := range spec.ResumeArgs {
			if a == "{session}" {
				a = sessionKey
			}
			args = append(args, a)
		}
	}
	args = append(args, "-p", prompt)

	cmd := exec.CommandContext(ctx, spec.Binary, args...)
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = m.WaitDelay

	runErr := cmd.Run()

	m.mu.Lock()
	m.used[sessionKey] = true
	m.mu.Unlock()

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return &ExecResult{
				Output:   stdout.String() + stderr.String(),
				ExitCode: exitErr.ExitCode(),
			}, nil
		}
		return nil, fmt.Errorf("session: run %s: %w", spec.Binary, runErr)
	}
	return &ExecResult{Output: stdout.String(), ExitCode: 0}, nil
}

// CloseSession forgets the session. The underlying tool keeps its own
// transcript; nothing to kill since invocations are per-prompt.
func (m *CLIManager) CloseSession(ctx context.Context, sessionKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionKey)
	delete(m.used, sessionKey)
	return nil
}
