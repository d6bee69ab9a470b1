package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ProfileSimulation = "simulation"
	ProfileProduction = "production"

	StorageMock     = "mock"
	StorageS3       = "s3"
	StorageSupabase = "supabase"

	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"

	PaymentSimulator = "simulator"
	PaymentChaos     = "chaos"

	mb = 1024 * 1024
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Profile    string
	Server     ServerConfig
	Upload     UploadConfig
	Polling    PollingConfig
	Redis      RedisConfig
	Database   DatabaseConfig
	Store      StoreConfig
	Queue      QueueConfig
	Storage    StorageConfig
	RunPod     RunPodConfig
	Simulation SimulationConfig
	Payment    PaymentConfig
	JWT        JWTConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	PublicURL string
}

type UploadConfig struct {
	MaxFiles      int
	MaxFileSize   int64
	AcceptedTypes []string
}

type PollingConfig struct {
	Interval    time.Duration
	MaxNotFound int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	URL     string
	Migrate bool
}

type StoreConfig struct {
	Driver string
}

type QueueConfig struct {
	Enabled     bool
	Concurrency int
}

type StorageConfig struct {
	Provider        string
	Bucket          string
	Region          string
	Endpoint        string
	PublicURL       string
	AccessKeyID     string
	SecretAccessKey string
	SupabaseURL     string
	SupabaseKey     string
}

type RunPodConfig struct {
	APIKey        string
	EndpointID    string
	BaseURL       string
	WebhookSecret string
	CallbackURL   string
	Timeout       time.Duration
}

type SimulationConfig struct {
	GenerationDelay time.Duration
}

type PaymentConfig struct {
	Provider        string
	DeclineRate     float64
	NetworkDelay    time.Duration
	SettlementDelay time.Duration
}

type JWTConfig struct {
	Secret   string
	Required bool
}

type RateLimitConfig struct {
	DesignsPerHour  int
	PaymentsPerHour int
}

// IsProduction reports whether the production profile is active
func (c *Config) IsProduction() bool {
	return c.Profile == ProfileProduction
}

// WebhookURL is the callback the generation backend reports to
func (c *Config) WebhookURL() string {
	if c.RunPod.CallbackURL != "" {
		return c.RunPod.CallbackURL
	}
	return strings.TrimRight(c.Server.PublicURL, "/") + "/api/webhooks/runpod"
}

func Load() (*Config, error) {
	// Optional .env for local development
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("DATABASE_URL")
	readSecret("JWT_SECRET")
	readSecret("RUNPOD_API_KEY")
	readSecret("RUNPOD_WEBHOOK_SECRET")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")
	readSecret("SUPABASE_SERVICE_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("profile", "APP_PROFILE")
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.public_url", "PUBLIC_URL")
	_ = v.BindEnv("upload.max_files", "UPLOAD_MAX_FILES")
	_ = v.BindEnv("upload.max_file_size", "UPLOAD_MAX_FILE_SIZE")
	_ = v.BindEnv("upload.accepted_types", "UPLOAD_ACCEPTED_TYPES")
	_ = v.BindEnv("polling.interval", "POLL_INTERVAL")
	_ = v.BindEnv("polling.max_not_found", "POLL_MAX_NOT_FOUND")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("database.migrate", "DATABASE_MIGRATE")
	_ = v.BindEnv("store.driver", "STORE_DRIVER")
	_ = v.BindEnv("queue.enabled", "QUEUE_ENABLED")
	_ = v.BindEnv("queue.concurrency", "QUEUE_CONCURRENCY")
	_ = v.BindEnv("storage.provider", "STORAGE_PROVIDER")
	_ = v.BindEnv("storage.bucket", "STORAGE_BUCKET")
	_ = v.BindEnv("storage.region", "STORAGE_REGION")
	_ = v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = v.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	_ = v.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = v.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = v.BindEnv("storage.supabase_url", "SUPABASE_URL")
	_ = v.BindEnv("storage.supabase_key", "SUPABASE_SERVICE_KEY")
	_ = v.BindEnv("runpod.api_key", "RUNPOD_API_KEY")
	_ = v.BindEnv("runpod.endpoint_id", "RUNPOD_ENDPOINT_ID")
	_ = v.BindEnv("runpod.base_url", "RUNPOD_BASE_URL")
	_ = v.BindEnv("runpod.webhook_secret", "RUNPOD_WEBHOOK_SECRET")
	_ = v.BindEnv("runpod.callback_url", "RUNPOD_CALLBACK_URL")
	_ = v.BindEnv("runpod.timeout", "RUNPOD_TIMEOUT")
	_ = v.BindEnv("simulation.generation_delay", "SIMULATION_GENERATION_DELAY")
	_ = v.BindEnv("payment.provider", "PAYMENT_PROVIDER")
	_ = v.BindEnv("payment.decline_rate", "PAYMENT_DECLINE_RATE")
	_ = v.BindEnv("payment.network_delay", "PAYMENT_NETWORK_DELAY")
	_ = v.BindEnv("payment.settlement_delay", "PAYMENT_SETTLEMENT_DELAY")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("jwt.required", "JWT_REQUIRED")
	_ = v.BindEnv("ratelimit.designs_per_hour", "RATELIMIT_DESIGNS_PER_HOUR")
	_ = v.BindEnv("ratelimit.payments_per_hour", "RATELIMIT_PAYMENTS_PER_HOUR")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.public_url", "http://localhost:8000")
	v.SetDefault("upload.max_files", 5)
	v.SetDefault("upload.accepted_types", []string{"image/jpeg", "image/png", "image/webp"})
	v.SetDefault("polling.max_not_found", 3)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.migrate", true)
	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.bucket", "pet-designs")
	v.SetDefault("runpod.base_url", "https://api.runpod.ai")
	v.SetDefault("runpod.timeout", "30s")
	v.SetDefault("simulation.generation_delay", "3s")
	v.SetDefault("payment.provider", PaymentChaos)
	v.SetDefault("payment.decline_rate", 0.05)
	v.SetDefault("payment.network_delay", "2s")
	v.SetDefault("payment.settlement_delay", "2s")
	v.SetDefault("jwt.required", false)
	v.SetDefault("ratelimit.designs_per_hour", 20)
	v.SetDefault("ratelimit.payments_per_hour", 30)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Profile: strings.ToLower(v.GetString("profile")),
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			PublicURL: v.GetString("server.public_url"),
		},
		Upload: UploadConfig{
			MaxFiles:      v.GetInt("upload.max_files"),
			MaxFileSize:   v.GetInt64("upload.max_file_size"),
			AcceptedTypes: v.GetStringSlice("upload.accepted_types"),
		},
		Polling: PollingConfig{
			Interval:    v.GetDuration("polling.interval"),
			MaxNotFound: v.GetInt("polling.max_not_found"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Database: DatabaseConfig{
			URL:     v.GetString("database.url"),
			Migrate: v.GetBool("database.migrate"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(v.GetString("store.driver")),
		},
		Queue: QueueConfig{
			Enabled:     v.GetBool("queue.enabled"),
			Concurrency: v.GetInt("queue.concurrency"),
		},
		Storage: StorageConfig{
			Provider:        strings.ToLower(v.GetString("storage.provider")),
			Bucket:          v.GetString("storage.bucket"),
			Region:          v.GetString("storage.region"),
			Endpoint:        v.GetString("storage.endpoint"),
			PublicURL:       v.GetString("storage.public_url"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			SupabaseURL:     v.GetString("storage.supabase_url"),
			SupabaseKey:     v.GetString("storage.supabase_key"),
		},
		RunPod: RunPodConfig{
			APIKey:        v.GetString("runpod.api_key"),
			EndpointID:    v.GetString("runpod.endpoint_id"),
			BaseURL:       v.GetString("runpod.base_url"),
			WebhookSecret: v.GetString("runpod.webhook_secret"),
			CallbackURL:   v.GetString("runpod.callback_url"),
			Timeout:       v.GetDuration("runpod.timeout"),
		},
		Simulation: SimulationConfig{
			GenerationDelay: v.GetDuration("simulation.generation_delay"),
		},
		Payment: PaymentConfig{
			Provider:        strings.ToLower(v.GetString("payment.provider")),
			DeclineRate:     v.GetFloat64("payment.decline_rate"),
			NetworkDelay:    v.GetDuration("payment.network_delay"),
			SettlementDelay: v.GetDuration("payment.settlement_delay"),
		},
		JWT: JWTConfig{
			Secret:   v.GetString("jwt.secret"),
			Required: v.GetBool("jwt.required"),
		},
		RateLimit: RateLimitConfig{
			DesignsPerHour:  v.GetInt("ratelimit.designs_per_hour"),
			PaymentsPerHour: v.GetInt("ratelimit.payments_per_hour"),
		},
	}

	cfg.applyProfile()
	return cfg, nil
}

// hasProductionBackends reports whether every external collaborator is configured
func (c *Config) hasProductionBackends() bool {
	return c.RunPod.APIKey != "" && c.RunPod.EndpointID != "" && c.storageConfigured()
}

func (c *Config) storageConfigured() bool {
	switch c.Storage.Provider {
	case StorageS3:
		return c.Storage.AccessKeyID != "" && c.Storage.SecretAccessKey != ""
	case StorageSupabase:
		return c.Storage.SupabaseURL != "" && c.Storage.SupabaseKey != ""
	case "":
		return c.Storage.SupabaseURL != "" && c.Storage.SupabaseKey != "" ||
			c.Storage.AccessKeyID != "" && c.Storage.SecretAccessKey != ""
	}
	return false
}

// applyProfile resolves the profile and fills profile-dependent defaults
func (c *Config) applyProfile() {
	if c.Profile != ProfileSimulation && c.Profile != ProfileProduction {
		c.Profile = ProfileSimulation
		if c.Server.Env == "production" && c.hasProductionBackends() {
			c.Profile = ProfileProduction
		}
	}

	if c.Upload.MaxFileSize <= 0 {
		c.Upload.MaxFileSize = 5 * mb
		if c.IsProduction() {
			c.Upload.MaxFileSize = 10 * mb
		}
	}
	if c.Polling.Interval <= 0 {
		c.Polling.Interval = 2 * time.Second
		if c.IsProduction() {
			c.Polling.Interval = 3 * time.Second
		}
	}

	if c.Storage.Provider == "" {
		switch {
		case !c.IsProduction():
			c.Storage.Provider = StorageMock
		case c.Storage.SupabaseURL != "" && c.Storage.SupabaseKey != "":
			c.Storage.Provider = StorageSupabase
		default:
			c.Storage.Provider = StorageS3
		}
	}

	if c.Store.Driver == "" {
		switch {
		case c.Database.URL != "":
			c.Store.Driver = StorePostgres
		case c.IsProduction():
			c.Store.Driver = StoreRedis
		default:
			c.Store.Driver = StoreMemory
		}
	}
}

// UsesRedis reports whether any component needs a Redis connection
func (c *Config) UsesRedis() bool {
	return c.Store.Driver == StoreRedis || c.Queue.Enabled || c.IsProduction()
}

// Validate reports configuration the active profile cannot run without
func (c *Config) Validate() error {
	var errs []error

	if c.Upload.MaxFiles < 1 {
		errs = append(errs, errors.New("upload.max_files must be at least 1"))
	}

	switch c.Store.Driver {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	switch c.Payment.Provider {
	case PaymentSimulator, PaymentChaos:
	default:
		errs = append(errs, fmt.Errorf("unknown payment provider %q", c.Payment.Provider))
	}
	if c.Payment.DeclineRate < 0 || c.Payment.DeclineRate > 1 {
		errs = append(errs, errors.New("payment.decline_rate must be between 0 and 1"))
	}

	if c.JWT.Required && c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required when JWT_REQUIRED is set"))
	}

	if c.IsProduction() {
		if c.RunPod.APIKey == "" {
			errs = append(errs, errors.New("RUNPOD_API_KEY is required in production"))
		}
		if c.RunPod.EndpointID == "" {
			errs = append(errs, errors.New("RUNPOD_ENDPOINT_ID is required in production"))
		}
		if c.Storage.Provider == StorageMock {
			errs = append(errs, errors.New("a real storage provider is required in production"))
		} else if !c.storageConfigured() {
			errs = append(errs, fmt.Errorf("storage provider %q is missing credentials", c.Storage.Provider))
		}
		if c.Store.Driver == StoreMemory {
			errs = append(errs, errors.New("the memory store cannot be used in production"))
		}
	}

	return errors.Join(errs...)
}
