package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Worker     WorkerConfig
	Task       TaskConfig
	Backend    BackendConfig
	Enrichment EnrichmentConfig
	Metrics    MetricsConfig
	Auth       AuthConfig
	LogLevel   string
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RateLimitRPS int
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// WorkerConfig governs the orchestrator's view of the fleet: auth tokens per
// api_type plus the heartbeat contract.
type WorkerConfig struct {
	HeartbeatInterval time.Duration
	Timeout           time.Duration // idle-worker heartbeat timeout
	TokensCrunchbase  []string
	TokensTracxn      []string
	TokensSocial      []string
	ReadIdleTimeout   time.Duration // dead-connection backstop on the session
}

type TaskConfig struct {
	Timeout     time.Duration // expected maximum task duration
	RetryLimit  int
	TerminalTTL time.Duration // retention of completed/failed/cancelled tasks
}

// BackendConfig points at the control plane.
type BackendConfig struct {
	URL         string // base URL for enrichment coordination
	StatusURL   string // status relay target
	CallTimeout time.Duration
}

type EnrichmentConfig struct {
	Enabled       bool
	TickInterval  time.Duration
	APIType       string
	Priority      int
	DaysThreshold int
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   []string
}

// Tokens returns the configured token set for an api_type, nil for an unknown
// type. No fallback, no anonymous workers.
func (w *WorkerConfig) Tokens(apiType string) []string {
	switch apiType {
	case "crunchbase":
		return w.TokensCrunchbase
	case "tracxn":
		return w.TokensTracxn
	case "social":
		return w.TokensSocial
	default:
		return nil
	}
}

// APITypes returns the closed set of api_types this orchestrator serves.
func (w *WorkerConfig) APITypes() []string {
	return []string{"crunchbase", "tracxn", "social"}
}

// WorkingTimeout is the heartbeat threshold for workers executing a task.
// Three times the idle threshold so a worker blocked in a long system call
// does not lose a multi-hour scrape.
func (w *WorkerConfig) WorkingTimeout() time.Duration {
	return 3 * w.Timeout
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/orchestrator")

	setDefaults()

	viper.SetEnvPrefix("ORCHESTRATOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8010)
	viper.SetDefault("server.readtimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.idletimeout", 120*time.Second)
	viper.SetDefault("server.ratelimitrps", 100)

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolsize", 100)
	viper.SetDefault("redis.minidleconns", 10)
	viper.SetDefault("redis.maxretries", 3)
	viper.SetDefault("redis.dialtimeout", 5*time.Second)
	viper.SetDefault("redis.readtimeout", 3*time.Second)
	viper.SetDefault("redis.writetimeout", 3*time.Second)

	// Worker fleet defaults
	viper.SetDefault("worker.heartbeatinterval", 10*time.Second)
	viper.SetDefault("worker.timeout", 60*time.Second)
	viper.SetDefault("worker.tokenscrunchbase", []string{})
	viper.SetDefault("worker.tokenstracxn", []string{})
	viper.SetDefault("worker.tokenssocial", []string{})
	viper.SetDefault("worker.readidletimeout", 10*time.Minute)

	// Task defaults
	viper.SetDefault("task.timeout", 2*time.Hour)
	viper.SetDefault("task.retrylimit", 3)
	viper.SetDefault("task.terminalttl", 1*time.Hour)

	// Control-plane defaults
	viper.SetDefault("backend.url", "http://localhost:8000")
	viper.SetDefault("backend.statusurl", "http://localhost:8000/reports/status-update/")
	viper.SetDefault("backend.calltimeout", 5*time.Second)

	// Enrichment defaults
	viper.SetDefault("enrichment.enabled", true)
	viper.SetDefault("enrichment.tickinterval", 30*time.Second)
	viper.SetDefault("enrichment.apitype", "crunchbase")
	viper.SetDefault("enrichment.priority", -10)
	viper.SetDefault("enrichment.daysthreshold", 30)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Auth defaults
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.apikeys", []string{})

	// Logging defaults
	viper.SetDefault("loglevel", "info")
}
