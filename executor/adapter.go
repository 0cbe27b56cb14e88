package executor

import (
	"context"
	"time"
)

// Provider identifies an execution backend. The set is closed; adding a
// backend means adding a constant and wiring an adapter for it.
type Provider string

const (
	ProviderLocalDocker    Provider = "local_docker"
	ProviderAWSLambda      Provider = "aws_lambda"
	ProviderGCPCloudRun    Provider = "gcp_cloud_run"
	ProviderAzureContainer Provider = "azure_container"
)

// Request is the execution contract handed to adapters. The service layer
// builds it from the wire request after validation.
type Request struct {
	ID          string
	Language    string
	Code        string
	Stdin       string
	Environment map[string]string
	Timeout     time.Duration
}

// Result is the normalized outcome of one execution attempt.
//
// Adapters return (Result, nil) for every execution-level outcome,
// including user code errors and timeouts; a non-nil error always means the
// provider itself could not run the request.
type Result struct {
	Success  bool
	Output   string
	Error    string
	TimedOut bool
	Duration time.Duration
	Provider Provider
}

// Adapter is the polymorphic capability implemented by every provider.
//
// Execute must honor the deadline on ctx: on expiry it cancels the
// underlying unit of work and returns promptly, either with a
// timeout-classified Result or with ctx.Err() for the registry to
// classify.
type Adapter interface {
	Name() Provider
	Execute(ctx context.Context, req Request) (Result, error)
	Ping(ctx context.Context) error
}
