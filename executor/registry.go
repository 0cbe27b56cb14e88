package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logrus "github.com/sirupsen/logrus"
)

// Registry holds the registered adapters and the fallback chain. The
// chain is consulted in order after the default provider; an execution
// tries providers one at a time, never speculatively in parallel.
type Registry struct {
	mu              sync.RWMutex
	adapters        map[Provider]Adapter
	defaultProvider Provider
	chain           []Provider

	logger  *logrus.Logger
	metrics *Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logrus.Logger, metrics *Metrics) *Registry {
	return &Registry{
		adapters: make(map[Provider]Adapter),
		logger:   logger,
		metrics:  metrics,
	}
}

// Register adds or replaces an adapter. The first registered adapter
// becomes the default until SetDefault overrides it.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.adapters) == 0 {
		r.defaultProvider = a.Name()
	}
	r.adapters[a.Name()] = a
}

// SetDefault selects the provider tried first.
func (r *Registry) SetDefault(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[p]; !ok {
		return fmt.Errorf("provider %s not registered", p)
	}
	r.defaultProvider = p
	return nil
}

// SetChain replaces the fallback chain atomically. Unregistered
// providers are rejected; the chain is deduplicated, preserving first
// occurrence order.
func (r *Registry) SetChain(chain []Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[Provider]bool, len(chain))
	deduped := make([]Provider, 0, len(chain))
	for _, p := range chain {
		if _, ok := r.adapters[p]; !ok {
			return fmt.Errorf("provider %s not registered", p)
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		deduped = append(deduped, p)
	}
	r.chain = deduped
	return nil
}

// Adapter returns the adapter registered for p.
func (r *Registry) Adapter(p Provider) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	return a, ok
}

// HealthCheck pings every registered adapter with a bounded deadline
// and reports per-provider reachability. A nil entry means healthy.
func (r *Registry) HealthCheck(ctx context.Context) map[Provider]error {
	r.mu.RLock()
	adapters := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	r.mu.RUnlock()

	out := make(map[Provider]error, len(adapters))
	for _, a := range adapters {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		out[a.Name()] = a.Ping(pingCtx)
		cancel()
	}
	return out
}

// order snapshots the provider sequence for one execution: the default
// first, then the chain minus the default. Chain updates that land after
// the snapshot do not affect an in-flight execution.
func (r *Registry) order() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seq := make([]Adapter, 0, len(r.chain)+1)
	if a, ok := r.adapters[r.defaultProvider]; ok {
		seq = append(seq, a)
	}
	for _, p := range r.chain {
		if p == r.defaultProvider {
			continue
		}
		if a, ok := r.adapters[p]; ok {
			seq = append(seq, a)
		}
	}
	return seq
}

// ExecuteWithFallback runs the request through the provider sequence.
// Provider failures advance to the next provider; any execution-level
// outcome, successful or not, is returned immediately and never retried
// elsewhere. When every provider fails the aggregate FallbackError
// carries each attempt's reason.
func (r *Registry) ExecuteWithFallback(ctx context.Context, req Request) (Result, error) {
	seq := r.order()
	if len(seq) == 0 {
		return Result{}, &FallbackError{}
	}

	var attempts []AttemptError
	for i, adapter := range seq {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if req.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		}
		start := time.Now()
		res, err := adapter.Execute(attemptCtx, req)
		if cancel != nil {
			cancel()
		}
		elapsed := time.Since(start)

		if err == nil {
			res.Provider = adapter.Name()
			r.metrics.ExecutionObserved(adapter.Name(), outcomeLabel(res), elapsed)
			return res, nil
		}

		if errors.Is(err, context.DeadlineExceeded) && !IsProviderFailure(err) && ctx.Err() == nil {
			// The attempt deadline fired while the caller is still
			// waiting: an execution timeout, never retried elsewhere. A
			// ProviderError wrapping a deadline (a backend's own client
			// timeout) stays a provider failure.
			res = Result{
				TimedOut: true,
				Error:    fmt.Sprintf("execution timed out after %s", req.Timeout),
				Duration: elapsed,
				Provider: adapter.Name(),
			}
			r.metrics.ExecutionObserved(adapter.Name(), "timeout", elapsed)
			return res, nil
		}

		if !IsProviderFailure(err) {
			// Caller cancellation or an internal invariant break. Not a
			// provider outage, so the chain does not advance.
			return Result{}, err
		}

		r.metrics.ExecutionObserved(adapter.Name(), "provider_failure", elapsed)
		attempts = append(attempts, AttemptError{Provider: adapter.Name(), Err: err})
		r.logger.WithFields(logrus.Fields{
			"execution": req.ID,
			"provider":  adapter.Name(),
			"error":     err,
			"remaining": len(seq) - i - 1,
		}).Warn("Provider failed, advancing fallback chain")
		if i < len(seq)-1 {
			r.metrics.FallbackAdvanced(adapter.Name())
		}
	}

	return Result{}, &FallbackError{Attempts: attempts}
}

func outcomeLabel(res Result) string {
	switch {
	case res.TimedOut:
		return "timeout"
	case res.Success:
		return "success"
	default:
		return "error"
	}
}
