package model

import "time"

// ExecutionRequest represents the request structure for code execution.
// Immutable once accepted by the service.
type ExecutionRequest struct {
	Code        string            `json:"code" binding:"required"`
	Language    string            `json:"language" binding:"required"`
	Stdin       string            `json:"stdin,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	// Timeout in seconds; zero means the configured default.
	Timeout   int    `json:"timeout,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ExecutionResponse represents the response structure for executed code.
type ExecutionResponse struct {
	ExecutionID   string  `json:"execution_id,omitempty"`
	Success       bool    `json:"success"`
	Output        string  `json:"output"`
	Error         string  `json:"error,omitempty"`
	ExecutionTime float64 `json:"execution_time"`
	Language      string  `json:"language"`
	ServedBy      string  `json:"served_by_provider,omitempty"`
	SessionID     string  `json:"session_id,omitempty"`
}

// Asynchronous execution states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ExecutionStatus is the polling view of an asynchronous execution.
type ExecutionStatus struct {
	ExecutionID string             `json:"execution_id"`
	Status      string             `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Result      *ExecutionResponse `json:"result,omitempty"`
}

// ProviderHealth reports reachability of one execution provider.
type ProviderHealth struct {
	Provider string `json:"provider"`
	Healthy  bool   `json:"healthy"`
	Detail   string `json:"detail,omitempty"`
}

// PoolStatus is a point-in-time snapshot of one warm pool.
type PoolStatus struct {
	Language  string `json:"language"`
	Total     int    `json:"total"`
	Warm      int    `json:"warm"`
	Busy      int    `json:"busy"`
	Resetting int    `json:"resetting"`
	Target    int    `json:"target"`
}
