package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logrus "github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"sandboxd/config"
	"sandboxd/executor"
	"sandboxd/logger"
	"sandboxd/natshandler"
	"sandboxd/service"
)

func main() {
	cfg := config.LoadConfig()

	zlog, err := logger.InitLogger(cfg.Environment)
	if err != nil {
		panic(err)
	}
	defer zlog.Sync()

	plog := logrus.New()
	if cfg.Environment != "development" {
		plog.SetFormatter(&logrus.JSONFormatter{})
	}

	metrics := executor.NewMetrics(prometheus.DefaultRegisterer)

	runtime, err := executor.NewDockerRuntime(cfg.ContainerMemoryMB, cfg.ContainerCPUs, plog)
	if err != nil {
		zlog.Fatal("docker runtime unavailable", zap.Error(err))
	}

	poolCfgs := make([]executor.PoolConfig, 0, len(cfg.PoolLanguages))
	for _, language := range cfg.PoolLanguages {
		poolCfgs = append(poolCfgs, executor.PoolConfig{
			Language:       language,
			TargetSize:     cfg.PoolSize,
			TTL:            cfg.PoolTTL,
			MaxIdle:        cfg.PoolMaxIdle,
			AcquireWait:    cfg.PoolAcquireWait,
			HealthInterval: cfg.PoolHealthInterval,
		})
	}
	local := executor.NewLocalAdapter(runtime, poolCfgs, plog, metrics)

	startCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := local.Start(startCtx); err != nil {
		cancel()
		zlog.Fatal("failed to warm pools", zap.Error(err))
	}
	cancel()

	registry := executor.NewRegistry(plog, metrics)
	registry.Register(local)
	registerRemote(registry, executor.ProviderAWSLambda, cfg.AWSLambda, plog)
	registerRemote(registry, executor.ProviderGCPCloudRun, cfg.GCPCloudRun, plog)
	registerRemote(registry, executor.ProviderAzureContainer, cfg.AzureContainer, plog)

	if err := registry.SetDefault(executor.Provider(cfg.DefaultProvider)); err != nil {
		zlog.Fatal("invalid default provider", zap.String("provider", cfg.DefaultProvider), zap.Error(err))
	}
	chain := make([]executor.Provider, 0, len(cfg.FallbackChain))
	for _, name := range cfg.FallbackChain {
		p := executor.Provider(name)
		if _, ok := registry.Adapter(p); !ok {
			zlog.Warn("skipping unconfigured fallback provider", zap.String("provider", name))
			continue
		}
		chain = append(chain, p)
	}
	if err := registry.SetChain(chain); err != nil {
		zlog.Fatal("invalid fallback chain", zap.Error(err))
	}

	svc := service.NewService(registry, service.Config{
		DefaultTimeout: cfg.DefaultTimeout,
		MaxTimeout:     cfg.MaxTimeout,
		MaxCodeLength:  cfg.MaxCodeLength,
		Workers:        cfg.Workers,
		QueueSize:      cfg.QueueSize,
	}, zlog)

	nc, err := nats.Connect(cfg.NatsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		zlog.Fatal("failed to connect to NATS", zap.String("url", cfg.NatsURL), zap.Error(err))
	}
	handler := natshandler.NewHandler(svc, zlog)
	if err := handler.Subscribe(nc); err != nil {
		zlog.Fatal("failed to subscribe", zap.Error(err))
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error("metrics server stopped", zap.Error(err))
		}
	}()

	zlog.Info("sandboxd running",
		zap.String("nats", cfg.NatsURL),
		zap.Strings("languages", cfg.PoolLanguages),
		zap.String("default_provider", cfg.DefaultProvider))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	zlog.Info("shutting down")
	nc.Drain()
	svc.Shutdown()
	local.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	metricsSrv.Shutdown(shutdownCtx)
	cancel()
	zlog.Info("shutdown complete")
}

func registerRemote(registry *executor.Registry, name executor.Provider, rp config.RemoteProvider, plog *logrus.Logger) {
	if rp.Endpoint == "" {
		return
	}
	registry.Register(executor.NewRemoteAdapter(name, rp.Endpoint, rp.APIKey, plog))
}
