package types

import (
	"fmt"
	"time"
)

// SchedulerStatus represents the state of the scheduler engine
type SchedulerStatus string

const (
	SchedulerIdle      SchedulerStatus = "idle"
	SchedulerRunning   SchedulerStatus = "running"
	SchedulerPaused    SchedulerStatus = "paused"
	SchedulerStopping  SchedulerStatus = "stopping"
	SchedulerCompleted SchedulerStatus = "completed"
	SchedulerFailed    SchedulerStatus = "failed"
)

// IsValid checks if the scheduler status value is valid
func (s SchedulerStatus) IsValid() bool {
	switch s {
	case SchedulerIdle, SchedulerRunning, SchedulerPaused, SchedulerStopping,
		SchedulerCompleted, SchedulerFailed:
		return true
	}
	return false
}

// ValidTransitions defines the scheduler status state machine.
//
//	idle → running (start)
//	running → paused (pause), stopping (stop), completed, failed
//	paused → running (resume), stopping (stop)
//	stopping → idle, completed, failed (once in-flight items drain)
//	completed/failed → running (new work), idle (reset)
func (s SchedulerStatus) ValidTransitions() []SchedulerStatus {
	switch s {
	case SchedulerIdle:
		return []SchedulerStatus{SchedulerRunning}
	case SchedulerRunning:
		return []SchedulerStatus{SchedulerPaused, SchedulerStopping, SchedulerCompleted, SchedulerFailed}
	case SchedulerPaused:
		return []SchedulerStatus{SchedulerRunning, SchedulerStopping}
	case SchedulerStopping:
		return []SchedulerStatus{SchedulerIdle, SchedulerCompleted, SchedulerFailed}
	case SchedulerCompleted, SchedulerFailed:
		return []SchedulerStatus{SchedulerRunning, SchedulerIdle}
	default:
		return nil
	}
}

// CanTransitionTo checks if a transition from this status to target is valid.
// Reset is the escape hatch and is allowed from any status.
func (s SchedulerStatus) CanTransitionTo(target SchedulerStatus) bool {
	if target == SchedulerIdle {
		return true
	}
	for _, valid := range s.ValidTransitions() {
		if valid == target {
			return true
		}
	}
	return false
}

// DefaultStuckThreshold is how long an item may stay executing before it is
// reported as a candidate for operator-forced retry.
const DefaultStuckThreshold = 30 * time.Minute

// SchedulerConfig holds the runtime-tunable scheduler settings. Changes are
// broadcast to observers as config-updated events.
type SchedulerConfig struct {
	MaxConcurrentSessions     int   `json:"maxConcurrentSessions" yaml:"max_concurrent_sessions"`
	SessionIdleTimeoutMs      int64 `json:"sessionIdleTimeoutMs" yaml:"session_idle_timeout_ms"`
	ResumeKeyBindingTimeoutMs int64 `json:"resumeKeySessionBindingTimeoutMs" yaml:"resume_key_binding_timeout_ms"`
	StuckThresholdMs          int64 `json:"stuckThresholdMs" yaml:"stuck_threshold_ms"`
	PollIntervalMs            int64 `json:"pollIntervalMs" yaml:"poll_interval_ms"`
	AutoStart                 bool  `json:"autoStart" yaml:"auto_start"`
}

// DefaultSchedulerConfig returns a config with sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrentSessions:     2,
		SessionIdleTimeoutMs:      int64((10 * time.Minute) / time.Millisecond),
		ResumeKeyBindingTimeoutMs: int64((2 * time.Hour) / time.Millisecond),
		StuckThresholdMs:          int64(DefaultStuckThreshold / time.Millisecond),
		PollIntervalMs:            int64((2 * time.Second) / time.Millisecond),
	}
}

// Validate checks if the config has valid field values
func (c SchedulerConfig) Validate() error {
	if c.MaxConcurrentSessions < 1 {
		return fmt.Errorf("maxConcurrentSessions must be at least 1 (got %d)", c.MaxConcurrentSessions)
	}
	if c.SessionIdleTimeoutMs <= 0 {
		return fmt.Errorf("sessionIdleTimeoutMs must be positive (got %d)", c.SessionIdleTimeoutMs)
	}
	if c.ResumeKeyBindingTimeoutMs <= 0 {
		return fmt.Errorf("resumeKeySessionBindingTimeoutMs must be positive (got %d)", c.ResumeKeyBindingTimeoutMs)
	}
	if c.StuckThresholdMs <= 0 {
		return fmt.Errorf("stuckThresholdMs must be positive (got %d)", c.StuckThresholdMs)
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("pollIntervalMs must be positive (got %d)", c.PollIntervalMs)
	}
	return nil
}

// SessionIdleTimeout returns the idle timeout as a duration.
func (c SchedulerConfig) SessionIdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleTimeoutMs) * time.Millisecond
}

// ResumeKeyBindingTimeout returns the binding affinity expiry as a duration.
func (c SchedulerConfig) ResumeKeyBindingTimeout() time.Duration {
	return time.Duration(c.ResumeKeyBindingTimeoutMs) * time.Millisecond
}

// StuckThreshold returns the stuck-task threshold as a duration.
func (c SchedulerConfig) StuckThreshold() time.Duration {
	return time.Duration(c.StuckThresholdMs) * time.Millisecond
}

// PollInterval returns the dispatch poll interval as a duration.
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// SessionBinding pairs a resume key with a live CLI session. Bindings are
// created on first dispatch for a resume key, refreshed on reuse, and
// evicted once idle or past the affinity expiry.
type SessionBinding struct {
	ResumeKey  string    `json:"resume_key"`
	SessionKey string    `json:"session_key"`
	Tool       string    `json:"tool"`
	InUse      bool      `json:"in_use"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsed   time.Time `json:"last_used"`
}

// SchedulerState is the externally visible snapshot of the engine. It is
// derived from the active queue, session pool and config, not separately
// owned.
type SchedulerState struct {
	Status             SchedulerStatus  `json:"status"`
	Items              []*QueueItem     `json:"items"`
	SessionPool        []SessionBinding `json:"sessionPool"`
	Config             SchedulerConfig  `json:"config"`
	CurrentConcurrency int              `json:"currentConcurrency"`
	LastActivityAt     time.Time        `json:"lastActivityAt"`
	Error              string           `json:"error,omitempty"`
}
