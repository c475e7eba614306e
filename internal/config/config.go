package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the docrender server and worker.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Log      LogConfig
	Auth     AuthConfig
	Storage  StorageConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Render   RenderConfig
	Template TemplateConfig
	AI       AIConfig
	Quota    QuotaConfig
	Job      JobConfig
	Email    EmailConfig
}

type ServerConfig struct {
	Port        int
	MetricsPort int
	Env         string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL               string
	RequestsPerMinute int
}

type LogConfig struct {
	Level    string
	Format   string
	Sampling bool
}

type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

type StorageConfig struct {
	Bucket       string
	Endpoint     string
	SignedURLTTL time.Duration
}

// QueueSpec describes one logical queue.
type QueueSpec struct {
	Name        string
	Visibility  time.Duration
	MaxReceives int
}

type QueueConfig struct {
	Render       QueueSpec
	AI           QueueSpec
	PollInterval time.Duration
}

type WorkerConfig struct {
	Concurrency   int
	Queues        []string
	RenderTimeout time.Duration
	PurgeInterval time.Duration
	NotifyTimeout time.Duration
}

type RenderConfig struct {
	PoolSize   int
	ChromePath string
	Headless   bool
}

type TemplateConfig struct {
	CacheTTL time.Duration
}

type AIConfig struct {
	Backend         string
	APIKey          string
	Project         string
	Location        string
	Model           string
	MaxOutputTokens int
	Timeout         time.Duration
	MaxConcurrent   int
	RatePerSecond   float64
}

type QuotaConfig struct {
	PlansFile string
}

type JobConfig struct {
	RenderTTL          time.Duration
	AITTL              time.Duration
	MaxItemsPerRequest int
}

// EmailConfig configures completion emails. An empty SMTPHost disables them.
type EmailConfig struct {
	SMTPHost           string
	SMTPPort           int
	Username           string
	Password           string
	From               string
	MaxAttachmentBytes int64
}

// Enabled reports whether an SMTP relay is configured.
func (e EmailConfig) Enabled() bool { return e.SMTPHost != "" }

var validBackends = map[string]bool{
	"gemini": true,
	"vertex": true,
	"mock":   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        envInt("DOCRENDER_PORT", 8080),
			MetricsPort: envInt("DOCRENDER_METRICS_PORT", 9090),
			Env:         envString("DOCRENDER_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL:               os.Getenv("REDIS_URL"),
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Log: LogConfig{
			Level:    envString("LOG_LEVEL", "info"),
			Format:   envString("LOG_FORMAT", "json"),
			Sampling: envBool("LOG_SAMPLING", false),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("AUTH_JWT_SECRET"),
			JWTIssuer: os.Getenv("AUTH_JWT_ISSUER"),
		},
		Storage: StorageConfig{
			Bucket:       os.Getenv("STORAGE_BUCKET"),
			Endpoint:     os.Getenv("STORAGE_ENDPOINT"),
			SignedURLTTL: envDuration("STORAGE_SIGNED_URL_TTL", 5*24*time.Hour),
		},
		Queue: QueueConfig{
			Render: QueueSpec{
				Name:        envString("QUEUE_RENDER_NAME", "render"),
				Visibility:  envDurationSecs("QUEUE_RENDER_VISIBILITY_SECS", 360*time.Second),
				MaxReceives: envInt("QUEUE_RENDER_MAX_RECEIVES", 3),
			},
			AI: QueueSpec{
				Name:        envString("QUEUE_AI_NAME", "ai"),
				Visibility:  envDurationSecs("QUEUE_AI_VISIBILITY_SECS", 600*time.Second),
				MaxReceives: envInt("QUEUE_AI_MAX_RECEIVES", 2),
			},
			PollInterval: envDuration("QUEUE_POLL_INTERVAL", time.Second),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", 4),
			Queues:        envList("WORKER_QUEUES", []string{"render", "ai"}),
			RenderTimeout: envDurationSecs("WORKER_RENDER_TIMEOUT_SECS", 300*time.Second),
			PurgeInterval: envDuration("WORKER_PURGE_INTERVAL", time.Hour),
			NotifyTimeout: envDuration("WORKER_NOTIFY_TIMEOUT", 10*time.Second),
		},
		Render: RenderConfig{
			PoolSize:   envInt("RENDER_POOL_SIZE", 1),
			ChromePath: os.Getenv("RENDER_CHROME_PATH"),
			Headless:   envBool("RENDER_HEADLESS", true),
		},
		Template: TemplateConfig{
			CacheTTL: envDuration("TEMPLATE_CACHE_TTL", 5*time.Minute),
		},
		AI: AIConfig{
			Backend:         envString("AI_BACKEND", "gemini"),
			APIKey:          os.Getenv("AI_API_KEY"),
			Project:         os.Getenv("AI_PROJECT"),
			Location:        envString("AI_LOCATION", "us-central1"),
			Model:           envString("AI_MODEL", "gemini-2.5-pro"),
			MaxOutputTokens: envInt("AI_MAX_OUTPUT_TOKENS", 8192),
			Timeout:         envDurationSecs("AI_TIMEOUT_SECS", 120*time.Second),
			MaxConcurrent:   envInt("AI_MAX_CONCURRENT", 5),
			RatePerSecond:   envFloat("AI_RATE_PER_SECOND", 2),
		},
		Quota: QuotaConfig{
			PlansFile: os.Getenv("QUOTA_PLANS_FILE"),
		},
		Job: JobConfig{
			RenderTTL:          envDuration("JOB_RENDER_TTL", 5*24*time.Hour),
			AITTL:              envDuration("JOB_AI_TTL", 7*24*time.Hour),
			MaxItemsPerRequest: envInt("JOB_MAX_ITEMS_PER_REQUEST", 50),
		},
		Email: EmailConfig{
			SMTPHost:           os.Getenv("EMAIL_SMTP_HOST"),
			SMTPPort:           envInt("EMAIL_SMTP_PORT", 587),
			Username:           os.Getenv("EMAIL_SMTP_USERNAME"),
			Password:           os.Getenv("EMAIL_SMTP_PASSWORD"),
			From:               os.Getenv("EMAIL_FROM"),
			MaxAttachmentBytes: int64(envInt("EMAIL_MAX_ATTACHMENT_BYTES", 5*1024*1024)),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validBackends[c.AI.Backend] {
		return fmt.Errorf("AI_BACKEND must be one of gemini, vertex, mock; got %q", c.AI.Backend)
	}
	if c.AI.Backend == "gemini" && c.AI.APIKey == "" {
		return fmt.Errorf("AI_API_KEY is required when AI_BACKEND is gemini")
	}
	if c.AI.Backend == "vertex" && c.AI.Project == "" {
		return fmt.Errorf("AI_PROJECT is required when AI_BACKEND is vertex")
	}

	// A hung call must be detected before the queue redelivers its message.
	if c.AI.Timeout >= c.Queue.AI.Visibility {
		return fmt.Errorf("AI_TIMEOUT_SECS (%s) must be shorter than QUEUE_AI_VISIBILITY_SECS (%s)",
			c.AI.Timeout, c.Queue.AI.Visibility)
	}
	if c.Worker.RenderTimeout >= c.Queue.Render.Visibility {
		return fmt.Errorf("WORKER_RENDER_TIMEOUT_SECS (%s) must be shorter than QUEUE_RENDER_VISIBILITY_SECS (%s)",
			c.Worker.RenderTimeout, c.Queue.Render.Visibility)
	}

	if c.Queue.Render.MaxReceives < 1 || c.Queue.AI.MaxReceives < 1 {
		return fmt.Errorf("queue max receives must be at least 1")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Render.PoolSize < 1 {
		return fmt.Errorf("RENDER_POOL_SIZE must be at least 1, got %d", c.Render.PoolSize)
	}
	if c.Job.MaxItemsPerRequest < 1 {
		return fmt.Errorf("JOB_MAX_ITEMS_PER_REQUEST must be at least 1, got %d", c.Job.MaxItemsPerRequest)
	}

	if c.Email.Enabled() && c.Email.From == "" {
		return fmt.Errorf("EMAIL_FROM is required when EMAIL_SMTP_HOST is set")
	}

	if c.Storage.Endpoint != "" && !strings.HasPrefix(c.Storage.Endpoint, "http://") && !strings.HasPrefix(c.Storage.Endpoint, "https://") {
		return fmt.Errorf("STORAGE_ENDPOINT must start with http:// or https://, got %q", c.Storage.Endpoint)
	}

	return nil
}

// QueueSpecFor returns the queue serving a job kind.
func (c *Config) QueueSpecFor(ai bool) QueueSpec {
	if ai {
		return c.Queue.AI
	}
	return c.Queue.Render
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
