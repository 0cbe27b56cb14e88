package executor

import "time"

// EnvState represents the lifecycle state of a pooled environment.
type EnvState string

const (
	StateCreating    EnvState = "creating"
	StateWarm        EnvState = "warm"
	StateBusy        EnvState = "busy"
	StateResetting   EnvState = "resetting"
	StateTerminating EnvState = "terminating"
)

// Environment is one pre-warmed, reusable execution unit. It is owned
// exclusively by its Pool; all state transitions happen under the pool
// lock and never reference an environment from two in-flight executions.
type Environment struct {
	ID        string
	Language  string
	State     EnvState
	CreatedAt time.Time
	LastReset time.Time
	// TTLDeadline is fixed at creation. Resets do not extend it: TTL
	// measures total lifetime, not idle time.
	TTLDeadline time.Time
	// ExecutionID ties a BUSY environment to exactly one execution.
	ExecutionID string
}

// Expired reports whether the TTL deadline has passed.
func (e *Environment) Expired(now time.Time) bool {
	return now.After(e.TTLDeadline)
}

// IdleTooLong reports whether the environment sat unused past maxIdle.
func (e *Environment) IdleTooLong(now time.Time, maxIdle time.Duration) bool {
	if maxIdle <= 0 {
		return false
	}
	return now.Sub(e.LastReset) > maxIdle
}

// Age returns the total lifetime of the environment.
func (e *Environment) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}
