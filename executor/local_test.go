package executor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newLocalAdapter(t *testing.T, rt ContainerRuntime) *LocalAdapter {
	t.Helper()
	a := NewLocalAdapter(rt, []PoolConfig{{
		Language:       "python",
		TargetSize:     1,
		TTL:            time.Hour,
		HealthInterval: time.Hour,
	}}, testLogger(), nil)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(a.Shutdown)
	return a
}

func TestLocalExecuteSuccess(t *testing.T) {
	rt := newFakeRuntime()
	rt.execFn = func(ctx context.Context, id string) (ExecOutput, error) {
		return ExecOutput{Output: "hello\n", ExitCode: 0}, nil
	}
	a := newLocalAdapter(t, rt)

	res, err := a.Execute(context.Background(), Request{ID: "x", Language: "python", Timeout: time.Second})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Output != "hello\n" || res.Provider != ProviderLocalDocker {
		t.Fatalf("result = %+v", res)
	}

	// Environment released through reset and warm again.
	waitFor(t, time.Second, func() bool {
		stats := a.PoolStats()
		return len(stats) == 1 && stats[0].Warm == 1
	})
}

func TestLocalExecuteUserCodeFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.execFn = func(ctx context.Context, id string) (ExecOutput, error) {
		return ExecOutput{Output: "Traceback...\n", ExitCode: 1}, nil
	}
	a := newLocalAdapter(t, rt)

	res, err := a.Execute(context.Background(), Request{ID: "x", Language: "python", Timeout: time.Second})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || res.Error != "exit status 1" {
		t.Fatalf("result = %+v, want user code failure", res)
	}
}

func TestLocalExecuteDeadlineReturnsContextError(t *testing.T) {
	rt := newFakeRuntime()
	rt.execFn = func(ctx context.Context, id string) (ExecOutput, error) {
		<-ctx.Done()
		return ExecOutput{}, ctx.Err()
	}
	a := newLocalAdapter(t, rt)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := a.Execute(ctx, Request{ID: "x", Language: "python", Timeout: time.Minute})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestLocalTimeoutClassifiedThroughFallbackChain(t *testing.T) {
	rt := newFakeRuntime()
	rt.execFn = func(ctx context.Context, id string) (ExecOutput, error) {
		<-ctx.Done()
		return ExecOutput{}, ctx.Err()
	}
	a := newLocalAdapter(t, rt)
	lambda := &fakeAdapter{name: ProviderAWSLambda, result: Result{Success: true}}

	r := NewRegistry(testLogger(), nil)
	r.Register(a)
	r.Register(lambda)
	if err := r.SetChain([]Provider{ProviderAWSLambda}); err != nil {
		t.Fatalf("SetChain: %v", err)
	}

	res, err := r.ExecuteWithFallback(context.Background(), Request{
		ID:       "x",
		Language: "python",
		Timeout:  30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("ExecuteWithFallback: %v", err)
	}
	if !res.TimedOut || res.Success {
		t.Fatalf("result = %+v, want timeout", res)
	}
	if res.Provider != ProviderLocalDocker {
		t.Fatalf("provider = %s, want local_docker", res.Provider)
	}
	if lambda.callCount() != 0 {
		t.Fatal("timeout was retried on the fallback provider")
	}
}

func TestLocalExecuteCapacityIsProviderFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.execFn = func(ctx context.Context, id string) (ExecOutput, error) {
		<-ctx.Done()
		return ExecOutput{}, ctx.Err()
	}
	a := newLocalAdapter(t, rt)

	blocked, cancel := context.WithCancel(context.Background())
	go a.Execute(blocked, Request{ID: "first", Language: "python", Timeout: time.Minute})
	defer cancel()
	waitFor(t, time.Second, func() bool {
		stats := a.PoolStats()
		return len(stats) == 1 && stats[0].Busy == 1
	})

	_, err := a.Execute(context.Background(), Request{ID: "second", Language: "python", Timeout: time.Second})
	if !IsProviderFailure(err) {
		t.Fatalf("err = %v, want provider failure for capacity", err)
	}
}

func TestLocalExecuteUnknownLanguage(t *testing.T) {
	a := newLocalAdapter(t, newFakeRuntime())
	_, err := a.Execute(context.Background(), Request{ID: "x", Language: "fortran"})
	if !IsProviderFailure(err) {
		t.Fatalf("err = %v, want provider failure", err)
	}
}
