// Package session manages CLI tool sessions and the pool that binds them
// to resume keys. A binding keeps one tool session warm per issue so later
// tasks of the same issue resume with the conversation context of the
// earlier ones.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// ExecResult is the outcome of one prompt execution in a session.
type ExecResult struct {
	Output   string
	ExitCode int
}

// Manager creates, drives and tears down tool sessions. Implementations
// wrap a concrete AI CLI; tests substitute a fake.
type Manager interface {
	// CreateSession starts a new session for the named tool and returns
	// its session key.
	CreateSession(ctx context.Context, tool string) (string, error)

	// Execute runs a prompt in an existing session and blocks until the
	// tool finishes. A non-zero ExitCode is reported in the result, not
	// as an error; errors mean the session itself failed.
	Execute(ctx context.Context, sessionKey, prompt string) (*ExecResult, error)

	// CloseSession tears the session down. Closing an unknown session is
	// a no-op.
	CloseSession(ctx context.Context, sessionKey string) error
}

// GenerateSessionKey creates a unique session key in sess-xxxxxxxx format
// (8-char hex).
func GenerateSessionKey() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: generate key: %w", err)
	}
	return "sess-" + hex.EncodeToString(b), nil
}
