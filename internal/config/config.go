package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

type Config struct {
	API         APIConfig
	Queue       QueueConfig
	Worker      WorkerConfig
	Storage     StorageConfig
	Destination DestinationConfig
	Renditions  RenditionsConfig
	Upload      UploadConfig
	Trigger     TriggerConfig
	Webhook     WebhookConfig
	Trace       TraceConfig
	Sentry      SentryConfig
	RateLimit   RateLimitConfig
	Log         LogConfig
}

type APIConfig struct {
	Addr string
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency       int
	MaxActiveRuns     int
	SourceConcurrency int
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	TaskTimeout       time.Duration
	MetricsAddr       string
}

type StorageConfig struct {
	Backend      string
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	SourceBucket string
	UseSSL       bool
	PathStyle    bool

	// EnsureBuckets creates the source and destination buckets at startup.
	EnsureBuckets bool
}

// DestinationConfig maps a source bucket to its destination bucket by
// replacing TokenFrom with TokenTo.
type DestinationConfig struct {
	TokenFrom string
	TokenTo   string
}

type RenditionsConfig struct {
	CatalogFile string
	Concurrency int
}

type UploadConfig struct {
	URLTTL          time.Duration
	ContentType     string
	DefaultFilename string
}

type TriggerConfig struct {
	Listen bool
	Prefix string
	Suffix string
}

type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

type TraceConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

type SentryConfig struct {
	DSN         string
	Environment string
}

// RateLimitConfig shapes the two API buckets. Upload counts presigned URLs;
// Events counts source records across notification batches.
type RateLimitConfig struct {
	Enabled     bool
	UploadRate  float64
	UploadBurst int
	EventsRate  float64
	EventsBurst int
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads an optional .env file (or the given paths) and then the
// environment. Variables already set in the environment win.
func Load(paths ...string) Config {
	if len(paths) == 0 {
		_ = godotenv.Load()
	} else {
		_ = godotenv.Load(paths...)
	}

	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr: env("RENDITION_API_ADDR", ":8080"),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:       envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveRuns:     envInt("WORKER_MAX_ACTIVE_RUNS", defaultWorkerSlots),
			SourceConcurrency: envInt("WORKER_SOURCE_CONCURRENCY", 2),
			MaxAttempts:       envInt("WORKER_MAX_ATTEMPTS", 5),
			RetryBaseDelay:    envDuration("WORKER_RETRY_BASE_DELAY", 10*time.Second),
			TaskTimeout:       envDuration("WORKER_TASK_TIMEOUT", 5*time.Minute),
			MetricsAddr:       env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Backend:      env("STORAGE_BACKEND", "minio"),
			Endpoint:     env("STORAGE_ENDPOINT", "localhost:9000"),
			Region:       env("STORAGE_REGION", "us-east-1"),
			AccessKey:    env("STORAGE_ACCESS_KEY", "minioadmin"),
			SecretKey:    env("STORAGE_SECRET_KEY", "minioadmin"),
			SourceBucket: env("STORAGE_SOURCE_BUCKET", "images-source"),
			UseSSL:       envBool("STORAGE_USE_SSL", false),
			PathStyle:    envBool("STORAGE_PATH_STYLE", true),

			EnsureBuckets: envBool("STORAGE_ENSURE_BUCKETS", true),
		},
		Destination: DestinationConfig{
			TokenFrom: env("DEST_TOKEN_FROM", "source"),
			TokenTo:   env("DEST_TOKEN_TO", "dest"),
		},
		Renditions: RenditionsConfig{
			CatalogFile: env("RENDITION_CATALOG_FILE", ""),
			Concurrency: envInt("RENDITION_CONCURRENCY", 0),
		},
		Upload: UploadConfig{
			URLTTL:          envDuration("UPLOAD_URL_TTL", 300*time.Second),
			ContentType:     env("UPLOAD_CONTENT_TYPE", "image/jpg"),
			DefaultFilename: env("UPLOAD_DEFAULT_FILENAME", "image.jpg"),
		},
		Trigger: TriggerConfig{
			Listen: envBool("TRIGGER_LISTEN", false),
			Prefix: env("TRIGGER_PREFIX", ""),
			Suffix: env("TRIGGER_SUFFIX", ""),
		},
		Webhook: WebhookConfig{
			URL:     env("WEBHOOK_URL", ""),
			Secret:  env("WEBHOOK_SECRET", ""),
			Timeout: envDuration("WEBHOOK_TIMEOUT", 5*time.Second),
		},
		Trace: TraceConfig{
			Exporter:     env("TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		},
		Sentry: SentryConfig{
			DSN:         env("SENTRY_DSN", ""),
			Environment: env("SENTRY_ENVIRONMENT", "development"),
		},
		RateLimit: RateLimitConfig{
			Enabled:     envBool("RATE_LIMIT_ENABLED", false),
			UploadRate:  envFloat("RATE_LIMIT_UPLOAD_RPS", 5),
			UploadBurst: envInt("RATE_LIMIT_UPLOAD_BURST", 10),
			EventsRate:  envFloat("RATE_LIMIT_EVENT_RECORDS_RPS", 50),
			EventsBurst: envInt("RATE_LIMIT_EVENT_RECORDS_BURST", 500),
		},
		Log: LogConfig{
			Level:  env("LOG_LEVEL", "info"),
			Format: env("LOG_FORMAT", "text"),
		},
	}
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Destination.TokenFrom) == "" {
		errs = append(errs, errors.New("DEST_TOKEN_FROM must not be empty"))
	} else if c.Destination.TokenFrom == c.Destination.TokenTo {
		errs = append(errs, fmt.Errorf("DEST_TOKEN_FROM and DEST_TOKEN_TO are both %q", c.Destination.TokenFrom))
	}
	if c.Upload.URLTTL <= 0 {
		errs = append(errs, errors.New("UPLOAD_URL_TTL must be positive"))
	}
	if c.Worker.MaxAttempts < 1 {
		errs = append(errs, errors.New("WORKER_MAX_ATTEMPTS must be at least 1"))
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.UploadRate <= 0 || c.RateLimit.UploadBurst <= 0 {
			errs = append(errs, errors.New("RATE_LIMIT_UPLOAD_RPS and RATE_LIMIT_UPLOAD_BURST must be positive"))
		}
		if c.RateLimit.EventsRate <= 0 || c.RateLimit.EventsBurst <= 0 {
			errs = append(errs, errors.New("RATE_LIMIT_EVENT_RECORDS_RPS and RATE_LIMIT_EVENT_RECORDS_BURST must be positive"))
		}
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "minio", "s3":
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Storage.Backend))
	}
	return errors.Join(errs...)
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envDuration accepts Go durations ("90s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
