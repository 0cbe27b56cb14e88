package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sandboxd/executor"
	"sandboxd/internal"
	"sandboxd/lang"
	"sandboxd/model"
)

var (
	// ErrQueueFull is returned by Submit when the async queue is at
	// capacity.
	ErrQueueFull = errors.New("execution queue is full")

	// ErrUnknownExecution is returned by Status for an ID that was never
	// submitted.
	ErrUnknownExecution = errors.New("unknown execution id")

	// ErrShutdown is returned once the service stops accepting work.
	ErrShutdown = errors.New("service is shutting down")
)

// Config tunes the coordinator.
type Config struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	MaxCodeLength  int
	Workers        int
	QueueSize      int
}

// Service coordinates executions: it validates submissions, assigns IDs,
// routes through the provider registry and tracks async handles.
type Service struct {
	registry *executor.Registry
	cfg      Config
	logger   *zap.Logger

	mu      sync.RWMutex
	handles map[string]*model.ExecutionStatus
	closed  bool

	jobs         chan executor.Request
	shutdownChan chan struct{}
	wg           sync.WaitGroup
}

// NewService builds the coordinator and starts its async workers.
func NewService(registry *executor.Registry, cfg Config, logger *zap.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 60 * time.Second
	}

	s := &Service{
		registry:     registry,
		cfg:          cfg,
		logger:       logger,
		handles:      make(map[string]*model.ExecutionStatus),
		jobs:         make(chan executor.Request, cfg.QueueSize),
		shutdownChan: make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	return s
}

// Execute runs a request synchronously and returns its outcome. User
// code failures and timeouts are successful calls with Success=false;
// the error return is reserved for rejected or undeliverable requests.
func (s *Service) Execute(ctx context.Context, req model.ExecutionRequest) (model.ExecutionResponse, error) {
	execReq, err := s.admit(req)
	if err != nil {
		return model.ExecutionResponse{}, err
	}
	return s.run(ctx, execReq, req.SessionID)
}

// Submit enqueues a request for asynchronous execution and returns its
// execution ID immediately. Progress is observable through Status.
func (s *Service) Submit(req model.ExecutionRequest) (string, error) {
	execReq, err := s.admit(req)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrShutdown
	}
	s.handles[execReq.ID] = &model.ExecutionStatus{
		ExecutionID: execReq.ID,
		Status:      model.StatusPending,
		CreatedAt:   time.Now(),
	}
	s.mu.Unlock()

	select {
	case s.jobs <- execReq:
		return execReq.ID, nil
	default:
		s.mu.Lock()
		delete(s.handles, execReq.ID)
		s.mu.Unlock()
		return "", ErrQueueFull
	}
}

// Status returns the tracked state of an async execution.
func (s *Service) Status(id string) (model.ExecutionStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	handle, ok := s.handles[id]
	if !ok {
		return model.ExecutionStatus{}, ErrUnknownExecution
	}
	return *handle, nil
}

// ExecuteBatch runs independent requests concurrently and returns
// responses in submission order. One item's failure never affects the
// others; rejected items carry the rejection in their Error field.
func (s *Service) ExecuteBatch(ctx context.Context, reqs []model.ExecutionRequest) []model.ExecutionResponse {
	responses := make([]model.ExecutionResponse, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req model.ExecutionRequest) {
			defer wg.Done()
			resp, err := s.Execute(ctx, req)
			if err != nil {
				resp = model.ExecutionResponse{
					Success:   false,
					Error:     err.Error(),
					Language:  req.Language,
					SessionID: req.SessionID,
				}
			}
			responses[i] = resp
		}(i, req)
	}
	wg.Wait()
	return responses
}

// PoolStatus reports warm pool occupancy when the local provider is
// registered.
func (s *Service) PoolStatus() []model.PoolStatus {
	adapter, ok := s.registry.Adapter(executor.ProviderLocalDocker)
	if !ok {
		return nil
	}
	local, ok := adapter.(*executor.LocalAdapter)
	if !ok {
		return nil
	}
	stats := local.PoolStats()
	out := make([]model.PoolStatus, len(stats))
	for i, st := range stats {
		out[i] = model.PoolStatus{
			Language:  st.Language,
			Total:     st.Total,
			Warm:      st.Warm,
			Busy:      st.Busy,
			Resetting: st.Resetting,
			Target:    st.Target,
		}
	}
	return out
}

// ProviderHealth pings every registered provider, sorted by name.
func (s *Service) ProviderHealth(ctx context.Context) []model.ProviderHealth {
	checks := s.registry.HealthCheck(ctx)
	out := make([]model.ProviderHealth, 0, len(checks))
	for provider, err := range checks {
		health := model.ProviderHealth{Provider: string(provider), Healthy: err == nil}
		if err != nil {
			health.Detail = err.Error()
		}
		out = append(out, health)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// Shutdown stops accepting work and waits for in-flight executions.
func (s *Service) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdownChan)
	s.wg.Wait()
	s.failQueued()
	s.logger.Info("execution service stopped")
}

// failQueued resolves jobs the workers never picked up so no handle is
// left pending after shutdown.
func (s *Service) failQueued() {
	for {
		select {
		case req := <-s.jobs:
			now := time.Now()
			s.updateHandle(req.ID, func(h *model.ExecutionStatus) {
				h.Status = model.StatusFailed
				h.CompletedAt = &now
				h.Result = &model.ExecutionResponse{
					ExecutionID: req.ID,
					Success:     false,
					Error:       ErrShutdown.Error(),
					Language:    req.Language,
				}
			})
		default:
			return
		}
	}
}

// admit validates a wire request and turns it into an internal one with
// a fresh execution ID and a clamped timeout.
func (s *Service) admit(req model.ExecutionRequest) (executor.Request, error) {
	if !lang.Supported(req.Language) {
		return executor.Request{}, fmt.Errorf("%w: %s", executor.ErrUnsupportedLanguage, req.Language)
	}
	if err := internal.SanitizeCode(req.Code, req.Language, s.cfg.MaxCodeLength); err != nil {
		return executor.Request{}, err
	}

	timeout := s.cfg.DefaultTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}
	if timeout > s.cfg.MaxTimeout {
		timeout = s.cfg.MaxTimeout
	}

	return executor.Request{
		ID:          uuid.New().String(),
		Language:    req.Language,
		Code:        req.Code,
		Stdin:       req.Stdin,
		Environment: req.Environment,
		Timeout:     timeout,
	}, nil
}

// run executes through the fallback chain and maps the outcome onto the
// wire response.
func (s *Service) run(ctx context.Context, req executor.Request, sessionID string) (model.ExecutionResponse, error) {
	s.logger.Info("executing request",
		zap.String("execution_id", req.ID),
		zap.String("language", req.Language),
		zap.Duration("timeout", req.Timeout))

	res, err := s.registry.ExecuteWithFallback(ctx, req)
	if err != nil {
		s.logger.Error("execution undeliverable",
			zap.String("execution_id", req.ID),
			zap.Error(err))
		return model.ExecutionResponse{}, err
	}

	resp := model.ExecutionResponse{
		ExecutionID:   req.ID,
		Success:       res.Success,
		Output:        res.Output,
		Error:         res.Error,
		ExecutionTime: res.Duration.Seconds(),
		Language:      req.Language,
		ServedBy:      string(res.Provider),
		SessionID:     sessionID,
	}
	s.logger.Info("execution finished",
		zap.String("execution_id", req.ID),
		zap.Bool("success", res.Success),
		zap.Bool("timed_out", res.TimedOut),
		zap.String("served_by", string(res.Provider)),
		zap.Float64("seconds", res.Duration.Seconds()))
	return resp, nil
}

func (s *Service) worker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.shutdownChan:
			return
		case req := <-s.jobs:
			s.process(req)
		}
	}
}

// process drives one async execution through its handle lifecycle. A
// user code failure still completes the execution; only undeliverable
// requests mark it failed.
func (s *Service) process(req executor.Request) {
	now := time.Now()
	s.updateHandle(req.ID, func(h *model.ExecutionStatus) {
		h.Status = model.StatusRunning
		h.StartedAt = &now
	})

	resp, err := s.run(context.Background(), req, "")
	done := time.Now()
	if err != nil {
		s.updateHandle(req.ID, func(h *model.ExecutionStatus) {
			h.Status = model.StatusFailed
			h.CompletedAt = &done
			h.Result = &model.ExecutionResponse{
				ExecutionID: req.ID,
				Success:     false,
				Error:       err.Error(),
				Language:    req.Language,
			}
		})
		return
	}

	s.updateHandle(req.ID, func(h *model.ExecutionStatus) {
		h.Status = model.StatusCompleted
		h.CompletedAt = &done
		h.Result = &resp
	})
}

func (s *Service) updateHandle(id string, fn func(*model.ExecutionStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if handle, ok := s.handles[id]; ok {
		fn(handle)
	}
}
