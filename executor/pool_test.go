package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	logrus "github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// fakeRuntime is an in-memory ContainerRuntime with injectable failures.
type fakeRuntime struct {
	mu        sync.Mutex
	nextID    int
	destroyed map[string]bool
	resets    map[string]int

	createErr error
	resetErr  error
	probeErr  error

	execFn func(ctx context.Context, id string) (ExecOutput, error)
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		destroyed: make(map[string]bool),
		resets:    make(map[string]int),
	}
}

func (f *fakeRuntime) Create(ctx context.Context, language string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	return fmt.Sprintf("env-%d", f.nextID), nil
}

func (f *fakeRuntime) Exec(ctx context.Context, id, language, code, stdin string, env map[string]string) (ExecOutput, error) {
	f.mu.Lock()
	fn := f.execFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, id)
	}
	return ExecOutput{Output: "ok", ExitCode: 0}, nil
}

func (f *fakeRuntime) Reset(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[id]++
	return f.resetErr
}

func (f *fakeRuntime) Probe(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeErr
}

func (f *fakeRuntime) Destroy(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed[id] = true
	return nil
}

func (f *fakeRuntime) resetCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets[id]
}

func (f *fakeRuntime) wasDestroyed(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed[id]
}

func startPool(t *testing.T, rt ContainerRuntime, cfg PoolConfig) *Pool {
	t.Helper()
	if cfg.Language == "" {
		cfg.Language = "python"
	}
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = time.Hour
	}
	p := NewPool(rt, cfg, testLogger(), nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(p.Shutdown)
	return p
}

func TestAcquireIsExclusive(t *testing.T) {
	rt := newFakeRuntime()
	p := startPool(t, rt, PoolConfig{TargetSize: 1})

	env, err := p.Acquire(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if env.State != StateBusy || env.ExecutionID != "exec-1" {
		t.Fatalf("claimed env state=%s execution=%s", env.State, env.ExecutionID)
	}

	if _, err := p.Acquire(context.Background(), "exec-2"); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("second Acquire err = %v, want ErrCapacityExceeded", err)
	}
}

func TestAcquireWaitsForReleasedEnvironment(t *testing.T) {
	rt := newFakeRuntime()
	p := startPool(t, rt, PoolConfig{TargetSize: 1, AcquireWait: 2 * time.Second})

	env, err := p.Acquire(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		p.Release(env)
	}()

	again, err := p.Acquire(context.Background(), "exec-2")
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if again.ID != env.ID {
		t.Fatalf("got env %s, want reused %s", again.ID, env.ID)
	}
	if rt.resetCount(env.ID) != 1 {
		t.Fatalf("reset count = %d, want 1: environment must be reset before reuse", rt.resetCount(env.ID))
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	rt := newFakeRuntime()
	p := startPool(t, rt, PoolConfig{TargetSize: 1})

	env, err := p.Acquire(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(env)
	p.Release(env)

	waitFor(t, time.Second, func() bool { return p.Stats().Warm == 1 })
	if got := rt.resetCount(env.ID); got != 1 {
		t.Fatalf("reset count = %d, want 1", got)
	}
}

func TestExpiredEnvironmentNeverHandedOut(t *testing.T) {
	rt := newFakeRuntime()
	p := startPool(t, rt, PoolConfig{TargetSize: 1, TTL: 30 * time.Millisecond})

	time.Sleep(50 * time.Millisecond)
	if _, err := p.Acquire(context.Background(), "exec-1"); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("Acquire err = %v, want ErrCapacityExceeded", err)
	}
	waitFor(t, time.Second, func() bool { return rt.wasDestroyed("env-1") })
}

func TestResetFailureTerminatesEnvironment(t *testing.T) {
	rt := newFakeRuntime()
	rt.resetErr = errors.New("container wedged")
	p := startPool(t, rt, PoolConfig{TargetSize: 1})

	env, err := p.Acquire(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(env)

	waitFor(t, time.Second, func() bool { return rt.wasDestroyed(env.ID) })
	if stats := p.Stats(); stats.Total != 0 {
		t.Fatalf("total = %d, want 0 after failed reset", stats.Total)
	}
}

func TestHealthPassEvictsUnhealthy(t *testing.T) {
	rt := newFakeRuntime()
	p := startPool(t, rt, PoolConfig{TargetSize: 2})

	rt.mu.Lock()
	rt.probeErr = errors.New("not running")
	rt.mu.Unlock()

	p.healthPass()
	if stats := p.Stats(); stats.Warm != 0 {
		t.Fatalf("warm = %d, want 0 after failed probes", stats.Warm)
	}
}

func TestReplenishRestoresTarget(t *testing.T) {
	rt := newFakeRuntime()
	p := startPool(t, rt, PoolConfig{TargetSize: 2})

	rt.mu.Lock()
	rt.probeErr = errors.New("not running")
	rt.mu.Unlock()
	p.healthPass()
	rt.mu.Lock()
	rt.probeErr = nil
	rt.mu.Unlock()

	p.replenish()
	waitFor(t, time.Second, func() bool { return p.Stats().Warm == 2 })
}

func TestReplenishRetriesAfterProvisioningFailure(t *testing.T) {
	rt := newFakeRuntime()
	p := startPool(t, rt, PoolConfig{TargetSize: 1})

	env, err := p.Acquire(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.evict(&Environment{ID: env.ID}, "test")

	// Busy environments are never evicted, so the pool is still full.
	if stats := p.Stats(); stats.Busy != 1 {
		t.Fatalf("busy = %d, want 1", stats.Busy)
	}

	rt.mu.Lock()
	rt.resetErr = errors.New("wedged")
	rt.mu.Unlock()
	p.Release(env)
	waitFor(t, time.Second, func() bool { return p.Stats().Total == 0 })

	rt.mu.Lock()
	rt.createErr = errors.New("daemon down")
	rt.mu.Unlock()
	p.replenish()
	waitFor(t, time.Second, func() bool { return p.Stats().Total == 0 })

	rt.mu.Lock()
	rt.createErr = nil
	rt.mu.Unlock()
	p.replenish()
	waitFor(t, time.Second, func() bool { return p.Stats().Warm == 1 })
}

func TestShutdownDrainsPool(t *testing.T) {
	rt := newFakeRuntime()
	p := startPool(t, rt, PoolConfig{TargetSize: 2})

	p.Shutdown()
	if stats := p.Stats(); stats.Total != 0 {
		t.Fatalf("total = %d, want 0 after shutdown", stats.Total)
	}
	if _, err := p.Acquire(context.Background(), "exec-1"); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Acquire err = %v, want ErrPoolClosed", err)
	}
}

func TestStartFailsWithNoEnvironments(t *testing.T) {
	rt := newFakeRuntime()
	rt.createErr = errors.New("daemon down")
	p := NewPool(rt, PoolConfig{Language: "python", TargetSize: 2, TTL: time.Hour, HealthInterval: time.Hour}, testLogger(), nil)
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with zero environments")
	}
}
