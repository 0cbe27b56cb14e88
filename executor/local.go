package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	logrus "github.com/sirupsen/logrus"
)

// LocalAdapter runs executions on warm Docker pools. It is the only
// adapter backed by pools; remote providers provision per request on
// their own side.
type LocalAdapter struct {
	runtime ContainerRuntime
	pools   map[string]*Pool
	logger  *logrus.Logger
	metrics *Metrics
}

// NewLocalAdapter builds the adapter and one pool per configured
// language. Pools are not started; call Start.
func NewLocalAdapter(runtime ContainerRuntime, cfgs []PoolConfig, logger *logrus.Logger, metrics *Metrics) *LocalAdapter {
	pools := make(map[string]*Pool, len(cfgs))
	for _, cfg := range cfgs {
		pools[cfg.Language] = NewPool(runtime, cfg, logger, metrics)
	}
	return &LocalAdapter{
		runtime: runtime,
		pools:   pools,
		logger:  logger,
		metrics: metrics,
	}
}

// Start pre-warms every pool. A language whose pool cannot start at all
// fails startup; partial pools are tolerated and replenished later.
func (a *LocalAdapter) Start(ctx context.Context) error {
	for language, pool := range a.pools {
		if err := pool.Start(ctx); err != nil {
			return fmt.Errorf("pool %s: %w", language, err)
		}
	}
	return nil
}

// Shutdown drains all pools.
func (a *LocalAdapter) Shutdown() {
	for _, pool := range a.pools {
		pool.Shutdown()
	}
}

func (a *LocalAdapter) Name() Provider {
	return ProviderLocalDocker
}

// Ping reports whether the adapter can currently serve work.
func (a *LocalAdapter) Ping(ctx context.Context) error {
	for _, pool := range a.pools {
		if pool.Stats().Total > 0 {
			return nil
		}
	}
	return errors.New("no environments available in any pool")
}

// PoolStats snapshots every pool, keyed by language.
func (a *LocalAdapter) PoolStats() []PoolStats {
	stats := make([]PoolStats, 0, len(a.pools))
	for _, pool := range a.pools {
		stats = append(stats, pool.Stats())
	}
	return stats
}

// Execute acquires a warm environment, runs the code and releases the
// environment back through reset. Capacity exhaustion and pool errors
// surface as provider failures so the fallback chain can take over; user
// code failures come back as Results. The per-attempt deadline lives on
// ctx and its expiry propagates as ctx.Err() for the registry to
// classify.
func (a *LocalAdapter) Execute(ctx context.Context, req Request) (Result, error) {
	pool, ok := a.pools[req.Language]
	if !ok {
		return Result{}, &ProviderError{
			Provider: ProviderLocalDocker,
			Err:      fmt.Errorf("%w: %s", ErrUnsupportedLanguage, req.Language),
		}
	}

	env, err := pool.Acquire(ctx, req.ID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{}, err
		}
		return Result{}, &ProviderError{Provider: ProviderLocalDocker, Err: err}
	}
	defer pool.Release(env)

	a.logger.WithFields(logrus.Fields{
		"execution":   req.ID,
		"environment": shortID(env.ID),
		"language":    req.Language,
	}).Debug("Running code in warm environment")

	start := time.Now()
	out, err := a.runtime.Exec(ctx, env.ID, req.Language, req.Code, req.Stdin, req.Environment)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, &ProviderError{Provider: ProviderLocalDocker, Err: err}
	}

	res := Result{
		Success:  out.ExitCode == 0,
		Output:   out.Output,
		Duration: elapsed,
		Provider: ProviderLocalDocker,
	}
	if out.ExitCode != 0 {
		res.Error = fmt.Sprintf("exit status %d", out.ExitCode)
	}
	return res, nil
}
