package executor

import "context"

// ExecOutput is the captured outcome of one command run inside an
// environment. Stdout and stderr are combined into a single stream, the
// way results are reported to callers.
type ExecOutput struct {
	Output   string
	ExitCode int
}

// ContainerRuntime is the container backend consumed by pools and the
// local adapter. Implementations request the sandboxing guarantees
// (network isolation, resource caps) from the underlying runtime; the pool
// itself never configures them.
type ContainerRuntime interface {
	// Create provisions and primes an environment for a language and
	// returns its runtime handle.
	Create(ctx context.Context, language string) (string, error)

	// Exec writes the submitted code into the environment's scratch space
	// and runs it, honoring the ctx deadline. On expiry it kills the
	// workload and returns ctx.Err().
	Exec(ctx context.Context, id, language, code, stdin string, env map[string]string) (ExecOutput, error)

	// Reset wipes the environment's writable scratch state so it can be
	// reused. Process state never survives a reset boundary.
	Reset(ctx context.Context, id string) error

	// Probe checks liveness of the environment.
	Probe(ctx context.Context, id string) error

	// Destroy tears down the underlying resources. Idempotent.
	Destroy(ctx context.Context, id string) error
}
