package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RemoteProvider holds the connection details for one serverless
// execution endpoint. An empty Endpoint means the provider is disabled.
type RemoteProvider struct {
	Endpoint string
	APIKey   string
}

type Config struct {
	Environment string
	NatsURL     string
	MetricsAddr string

	PoolLanguages      []string
	PoolSize           int
	PoolTTL            time.Duration
	PoolMaxIdle        time.Duration
	PoolHealthInterval time.Duration
	PoolAcquireWait    time.Duration

	ContainerMemoryMB int
	ContainerCPUs     float64

	MaxCodeLength  int
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	Workers        int
	QueueSize      int

	DefaultProvider string
	FallbackChain   []string
	AWSLambda       RemoteProvider
	GCPCloudRun     RemoteProvider
	AzureContainer  RemoteProvider
}

func LoadConfig() Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	return Config{
		Environment: getEnv("ENVIRONMENT", "production"),
		NatsURL:     getEnv("NATSURL", "nats://localhost:4222"),
		MetricsAddr: getEnv("METRICSADDR", ":9091"),

		PoolLanguages:      getEnvCSV("POOLLANGUAGES", []string{"python", "js", "go", "cpp"}),
		PoolSize:           getEnvInt("POOLSIZE", 3),
		PoolTTL:            getEnvDuration("POOLTTL", 30*time.Minute),
		PoolMaxIdle:        getEnvDuration("POOLMAXIDLE", 10*time.Minute),
		PoolHealthInterval: getEnvDuration("POOLHEALTHINTERVAL", 30*time.Second),
		PoolAcquireWait:    getEnvDuration("POOLACQUIREWAIT", 2*time.Second),

		ContainerMemoryMB: getEnvInt("CONTAINERMEMORYMB", 256),
		ContainerCPUs:     getEnvFloat("CONTAINERCPUS", 0.5),

		MaxCodeLength:  getEnvInt("MAXCODELENGTH", 65536),
		DefaultTimeout: getEnvDuration("DEFAULTTIMEOUT", 10*time.Second),
		MaxTimeout:     getEnvDuration("MAXTIMEOUT", 60*time.Second),
		Workers:        getEnvInt("WORKERS", 8),
		QueueSize:      getEnvInt("QUEUESIZE", 128),

		DefaultProvider: getEnv("DEFAULTPROVIDER", "local_docker"),
		FallbackChain:   getEnvCSV("FALLBACKCHAIN", nil),
		AWSLambda: RemoteProvider{
			Endpoint: getEnv("AWSLAMBDAENDPOINT", ""),
			APIKey:   getEnv("AWSLAMBDAAPIKEY", ""),
		},
		GCPCloudRun: RemoteProvider{
			Endpoint: getEnv("GCPCLOUDRUNENDPOINT", ""),
			APIKey:   getEnv("GCPCLOUDRUNAPIKEY", ""),
		},
		AzureContainer: RemoteProvider{
			Endpoint: getEnv("AZURECONTAINERENDPOINT", ""),
			APIKey:   getEnv("AZURECONTAINERAPIKEY", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvCSV(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
