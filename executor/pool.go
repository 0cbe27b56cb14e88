package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	logrus "github.com/sirupsen/logrus"
)

// PoolConfig carries the already-validated knobs for one warm pool.
type PoolConfig struct {
	Language string
	// TargetSize is the minimum warm count the replenisher drives toward.
	TargetSize int
	// TTL is the maximum total lifetime of an environment.
	TTL time.Duration
	// MaxIdle retires environments that sat unused too long. Zero disables
	// the idle check.
	MaxIdle time.Duration
	// AcquireWait bounds how long Acquire blocks for a warm environment
	// before returning ErrCapacityExceeded. Zero means fail fast.
	AcquireWait time.Duration
	// HealthInterval is the period of the health/replenish loop.
	HealthInterval time.Duration
}

// Pool owns a set of pre-warmed environments for one language. It hands
// them out exclusively, reclaims them through a mandatory reset, and keeps
// the warm count at target via its background loop.
//
// Acquisition policy: bounded wait up to AcquireWait, then
// ErrCapacityExceeded. The replenisher is the only creator after startup;
// there is no on-demand overflow above target.
type Pool struct {
	cfg     PoolConfig
	runtime ContainerRuntime
	logger  *logrus.Logger
	metrics *Metrics

	mu       sync.Mutex
	envs     map[string]*Environment
	creating int
	closed   bool

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// PoolStats is a point-in-time snapshot of pool occupancy.
type PoolStats struct {
	Language  string
	Total     int
	Warm      int
	Busy      int
	Resetting int
	Target    int
}

// NewPool constructs a pool. Start must be called before use.
func NewPool(runtime ContainerRuntime, cfg PoolConfig, logger *logrus.Logger, metrics *Metrics) *Pool {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	return &Pool{
		cfg:     cfg,
		runtime: runtime,
		logger:  logger,
		metrics: metrics,
		envs:    make(map[string]*Environment),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Start pre-warms the pool to target size and launches the
// health/replenish loop. Individual provisioning failures are logged and
// retried by the loop; Start fails only when not a single environment
// came up.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	p.creating = p.cfg.TargetSize
	p.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.TargetSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.createOne(ctx)
		}()
	}
	wg.Wait()

	p.mu.Lock()
	warm := len(p.envs)
	p.mu.Unlock()
	if warm == 0 {
		return fmt.Errorf("failed to initialize %s pool: no environments available", p.cfg.Language)
	}

	p.wg.Add(1)
	go p.run()

	p.logger.WithFields(logrus.Fields{
		"language": p.cfg.Language,
		"warm":     warm,
		"target":   p.cfg.TargetSize,
	}).Info("Warm pool started")
	return nil
}

// Acquire claims a warm environment for the given execution. The claim is
// atomic: at most one caller ever wins a given environment. Expired
// environments are never handed out.
func (p *Pool) Acquire(ctx context.Context, executionID string) (*Environment, error) {
	deadline := time.Now().Add(p.cfg.AcquireWait)

	for {
		env, err := p.tryAcquire(executionID)
		if err != nil {
			return nil, err
		}
		if env != nil {
			return env, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrCapacityExceeded
		}
		wait := remaining
		if wait > 100*time.Millisecond {
			wait = 100 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-p.stopCh:
			timer.Stop()
			return nil, ErrPoolClosed
		case <-p.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (p *Pool) tryAcquire(executionID string) (*Environment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	now := time.Now()
	for _, env := range p.envs {
		if env.State != StateWarm {
			continue
		}
		if env.Expired(now) {
			env.State = StateTerminating
			delete(p.envs, env.ID)
			go p.destroy(env)
			continue
		}
		env.State = StateBusy
		env.ExecutionID = executionID
		p.reportGaugesLocked()
		return env, nil
	}
	return nil, nil
}

// Release returns an environment after an execution, regardless of its
// outcome. The environment always passes through RESETTING; it rejoins
// the warm set only when the reset succeeds and its TTL has not lapsed.
// A second Release for the same environment is a logged no-op.
func (p *Pool) Release(env *Environment) {
	p.mu.Lock()
	if p.closed {
		// Shutdown owns the environment now and will destroy it.
		p.mu.Unlock()
		return
	}
	current, ok := p.envs[env.ID]
	if !ok || current.State != StateBusy {
		p.mu.Unlock()
		p.logger.WithFields(logrus.Fields{
			"environment": shortID(env.ID),
			"language":    p.cfg.Language,
		}).Warn("Release of environment not in busy state, ignoring")
		return
	}
	current.State = StateResetting
	current.ExecutionID = ""
	p.reportGaugesLocked()
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reset(current)
	}()
}

func (p *Pool) reset(env *Environment) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := p.runtime.Reset(ctx, env.ID)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	now := time.Now()
	if err != nil || env.Expired(now) {
		env.State = StateTerminating
		delete(p.envs, env.ID)
		p.reportGaugesLocked()
		p.mu.Unlock()
		if err != nil {
			p.logger.WithFields(logrus.Fields{
				"environment": shortID(env.ID),
				"language":    p.cfg.Language,
				"error":       err,
			}).Warn("Reset failed, terminating environment")
		}
		p.destroy(env)
		return
	}
	env.State = StateWarm
	env.LastReset = now
	p.reportGaugesLocked()
	p.mu.Unlock()
	p.signalWake()
}

// Shutdown drains every environment to TERMINATING and stops the
// background loop. Safe to call once; the pool is unusable afterwards.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()

	p.mu.Lock()
	doomed := make([]*Environment, 0, len(p.envs))
	for _, env := range p.envs {
		env.State = StateTerminating
		doomed = append(doomed, env)
	}
	p.envs = make(map[string]*Environment)
	p.reportGaugesLocked()
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, env := range doomed {
		wg.Add(1)
		go func(e *Environment) {
			defer wg.Done()
			p.destroy(e)
		}(env)
	}
	wg.Wait()
	p.logger.WithField("language", p.cfg.Language).Info("Warm pool shut down")
}

// Stats returns current pool occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := PoolStats{
		Language: p.cfg.Language,
		Total:    len(p.envs),
		Target:   p.cfg.TargetSize,
	}
	for _, env := range p.envs {
		switch env.State {
		case StateWarm:
			stats.Warm++
		case StateBusy:
			stats.Busy++
		case StateResetting:
			stats.Resetting++
		}
	}
	return stats
}

// Language returns the language this pool serves.
func (p *Pool) Language() string {
	return p.cfg.Language
}

// run is the health/replenish loop: evict expired, idle and unhealthy
// warm environments, then restore target size. Busy environments are
// never touched.
func (p *Pool) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.healthPass()
			p.replenish()
		}
	}
}

func (p *Pool) healthPass() {
	p.mu.Lock()
	now := time.Now()
	candidates := make([]*Environment, 0, len(p.envs))
	for _, env := range p.envs {
		if env.State == StateWarm {
			candidates = append(candidates, env)
		}
	}
	p.mu.Unlock()

	for _, env := range candidates {
		reason := ""
		switch {
		case env.Expired(now):
			reason = "ttl expired"
		case env.IdleTooLong(now, p.cfg.MaxIdle):
			reason = "idle too long"
		default:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := p.runtime.Probe(ctx, env.ID)
			cancel()
			if err != nil {
				reason = fmt.Sprintf("health probe failed: %v", err)
			}
		}
		if reason == "" {
			continue
		}
		p.evict(env, reason)
	}
}

// evict terminates a warm environment. The state is re-checked under the
// lock: an environment claimed busy since the snapshot is left alone.
func (p *Pool) evict(env *Environment, reason string) {
	p.mu.Lock()
	current, ok := p.envs[env.ID]
	if !ok || current.State != StateWarm {
		p.mu.Unlock()
		return
	}
	current.State = StateTerminating
	delete(p.envs, env.ID)
	p.reportGaugesLocked()
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"environment": shortID(env.ID),
		"language":    p.cfg.Language,
		"reason":      reason,
	}).Info("Evicting environment")
	if p.metrics != nil {
		p.metrics.EnvironmentEvicted(p.cfg.Language, reason)
	}
	p.destroy(env)
}

func (p *Pool) replenish() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	active := p.creating
	for _, env := range p.envs {
		switch env.State {
		case StateWarm, StateBusy, StateResetting:
			active++
		}
	}
	deficit := p.cfg.TargetSize - active
	if deficit <= 0 {
		p.mu.Unlock()
		return
	}
	p.creating += deficit
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"language": p.cfg.Language,
		"deficit":  deficit,
	}).Info("Replenishing warm pool")
	for i := 0; i < deficit; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			p.createOne(ctx)
		}()
	}
}

// createOne provisions a single environment and adds it to the warm set.
// Failures only decrement the in-flight counter; the next replenish pass
// retries.
func (p *Pool) createOne(ctx context.Context) {
	id, err := p.runtime.Create(ctx, p.cfg.Language)

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.mu.Unlock()
		provErr := &ProvisioningError{Language: p.cfg.Language, Err: err}
		p.logger.WithField("error", provErr).Error("Failed to provision environment")
		if p.metrics != nil {
			p.metrics.ProvisioningFailed(p.cfg.Language)
		}
		return
	}
	if p.closed {
		p.mu.Unlock()
		p.runtime.Destroy(context.Background(), id)
		return
	}
	now := time.Now()
	p.envs[id] = &Environment{
		ID:          id,
		Language:    p.cfg.Language,
		State:       StateWarm,
		CreatedAt:   now,
		LastReset:   now,
		TTLDeadline: now.Add(p.cfg.TTL),
	}
	p.reportGaugesLocked()
	p.mu.Unlock()
	p.signalWake()
}

func (p *Pool) destroy(env *Environment) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.runtime.Destroy(ctx, env.ID); err != nil {
		p.logger.WithFields(logrus.Fields{
			"environment": shortID(env.ID),
			"error":       err,
		}).Error("Failed to destroy environment")
	}
}

func (p *Pool) signalWake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// reportGaugesLocked pushes occupancy gauges. Caller holds p.mu.
func (p *Pool) reportGaugesLocked() {
	if p.metrics == nil {
		return
	}
	var warm, busy, resetting int
	for _, env := range p.envs {
		switch env.State {
		case StateWarm:
			warm++
		case StateBusy:
			busy++
		case StateResetting:
			resetting++
		}
	}
	p.metrics.SetPoolOccupancy(p.cfg.Language, warm, busy, resetting)
}
