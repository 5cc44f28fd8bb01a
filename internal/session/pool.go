package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskwright/taskwright/internal/types"
)

// Pool maintains resume-key affinity over a Manager: the first acquire for
// a resume key creates a session, later acquires for the same key reuse it.
// A binding in use is never evicted.
type Pool struct {
	mu       sync.Mutex
	manager  Manager
	bindings map[string]*types.SessionBinding
}

// NewPool creates a pool over the given manager.
func NewPool(manager Manager) *Pool {
	return &Pool{
		manager:  manager,
		bindings: make(map[string]*types.SessionBinding),
	}
}

// Acquire returns the session key bound to the resume key, creating a new
// session when no usable binding exists. A binding for a different tool is
// replaced; its old session is closed.
func (p *Pool) Acquire(ctx context.Context, resumeKey, tool string) (string, error) {
	if resumeKey == "" {
		return "", fmt.Errorf("session: resume key is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.bindings[resumeKey]; ok {
		if b.Tool == tool {
			if b.InUse {
				return "", fmt.Errorf("session: binding for %s is already in use", resumeKey)
			}
			b.InUse = true
			b.LastUsed = time.Now()
			return b.SessionKey, nil
		}
		// Tool changed; the old conversation is useless to the new tool.
		if err := p.manager.CloseSession(ctx, b.SessionKey); err != nil {
			return "", err
		}
		delete(p.bindings, resumeKey)
	}

	key, err := p.manager.CreateSession(ctx, tool)
	if err != nil {
		return "", err
	}
	now := time.Now()
	p.bindings[resumeKey] = &types.SessionBinding{
		ResumeKey:  resumeKey,
		SessionKey: key,
		Tool:       tool,
		InUse:      true,
		CreatedAt:  now,
		LastUsed:   now,
	}
	return key, nil
}

// Release returns a binding to the pool after an execution finishes. The
// session stays warm for the next task with the same resume key.
func (p *Pool) Release(resumeKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.bindings[resumeKey]; ok {
		b.InUse = false
		b.LastUsed = time.Now()
	}
}

// Drop removes a binding and closes its session regardless of timeouts.
// Used when a session errored and resuming it would not help.
func (p *Pool) Drop(ctx context.Context, resumeKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.bindings[resumeKey]
	if !ok {
		return nil
	}
	delete(p.bindings, resumeKey)
	return p.manager.CloseSession(ctx, b.SessionKey)
}

// EvictExpired closes bindings idle longer than idleTimeout, and bindings
// whose resume-key affinity has outlived bindingTimeout since creation.
// In-use bindings are skipped. Returns the number of evicted bindings.
func (p *Pool) EvictExpired(ctx context.Context, idleTimeout, bindingTimeout time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	evicted := 0
	for key, b := range p.bindings {
		if b.InUse {
			continue
		}
		if now.Sub(b.LastUsed) < idleTimeout && now.Sub(b.CreatedAt) < bindingTimeout {
			continue
		}
		// Best effort: a close failure should not keep a dead binding alive.
		_ = p.manager.CloseSession(ctx, b.SessionKey)
		delete(p.bindings, key)
		evicted++
	}
	return evicted
}

// Size returns the number of live bindings.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bindings)
}

// Snapshot returns a copy of the current bindings for state reporting.
func (p *Pool) Snapshot() []types.SessionBinding {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]types.SessionBinding, 0, len(p.bindings))
	for _, b := range p.bindings {
		out = append(out, *b)
	}
	return out
}
