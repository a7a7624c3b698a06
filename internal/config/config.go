package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Job handler types
const (
	HandlerTypeLocal  = "local"
	HandlerTypeRemote = "remote"
)

// Feed backends
const (
	FeedBackendMemory = "memory"
	FeedBackendRedis  = "redis"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Feed     FeedConfig     `yaml:"feed"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// IterateInterval is how often each connection drives its session
	IterateInterval time.Duration `yaml:"iterate_interval"`
}

// SessionConfig configures every worker session served by the process
type SessionConfig struct {
	NodeID             string                      `yaml:"node_id"`
	DefaultFeedName    string                      `yaml:"default_feed_name"`
	WatchPollBudget    time.Duration               `yaml:"watch_poll_budget"`
	ComputeResourceURI string                      `yaml:"compute_resource_uri"`
	JobHandlers        map[string]JobHandlerConfig `yaml:"job_handlers"`
}

// JobHandlerConfig describes one named execution lane
type JobHandlerConfig struct {
	Type      string `yaml:"type"`
	Capacity  int    `yaml:"capacity"`
	QueueSize int    `yaml:"queue_size"`
}

// HandlerNames returns the configured job handler names in sorted order
func (s SessionConfig) HandlerNames() []string {
	names := make([]string, 0, len(s.JobHandlers))
	for name := range s.JobHandlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasRemoteHandlers reports whether any lane dispatches to the worker service
func (s SessionConfig) HasRemoteHandlers() bool {
	for _, h := range s.JobHandlers {
		if h.Type == HandlerTypeRemote {
			return true
		}
	}
	return false
}

// FeedConfig selects the feed/store backend
type FeedConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings. Empty fields fall back to
// REDIS_* environment variables.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`

	ConnectAttempts      int           `yaml:"connect_attempts"`
	ConnectRetryInterval time.Duration `yaml:"connect_retry_interval"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID                string        `yaml:"id"`
	Concurrency       int           `yaml:"concurrency"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// StatusTimeout bounds one remote job status query from a session
	StatusTimeout time.Duration `yaml:"status_timeout"`
	// DispatchTimeout bounds one remote job submission, publish retries included
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Session.DefaultFeedName == "" {
		c.Session.DefaultFeedName = "labbox-default"
	}
	if c.Session.WatchPollBudget <= 0 {
		c.Session.WatchPollBudget = 100 * time.Millisecond
	}
	if c.Server.IterateInterval <= 0 {
		c.Server.IterateInterval = 50 * time.Millisecond
	}
	if c.Feed.Backend == "" {
		c.Feed.Backend = FeedBackendMemory
	}
	if c.Worker.DispatchTimeout <= 0 {
		c.Worker.DispatchTimeout = 2 * time.Second
	}
	for name, h := range c.Session.JobHandlers {
		if h.Type == HandlerTypeLocal && h.Capacity <= 0 {
			h.Capacity = 4
			c.Session.JobHandlers[name] = h
		}
	}
}

// ValidateAPIConfig checks the settings the labbox API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.IterateInterval <= 0 {
		return fmt.Errorf("server iterate_interval must be greater than 0")
	}

	if c.Session.DefaultFeedName == "" {
		return fmt.Errorf("session default_feed_name is required")
	}

	if len(c.Session.JobHandlers) == 0 {
		return fmt.Errorf("session job_handlers must define at least one handler")
	}

	for _, name := range c.Session.HandlerNames() {
		h := c.Session.JobHandlers[name]
		switch h.Type {
		case HandlerTypeLocal:
			if h.Capacity <= 0 {
				return fmt.Errorf("job handler %q capacity must be greater than 0", name)
			}
		case HandlerTypeRemote:
		case "":
			return fmt.Errorf("job handler %q type is required", name)
		}
		if h.QueueSize < 0 {
			return fmt.Errorf("job handler %q queue_size must not be negative", name)
		}
	}

	switch c.Feed.Backend {
	case FeedBackendMemory, FeedBackendRedis:
	default:
		return fmt.Errorf("unsupported feed backend: %q", c.Feed.Backend)
	}

	if c.Session.HasRemoteHandlers() {
		if err := c.validateDatabase(); err != nil {
			return err
		}
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	}

	return nil
}

// ValidateWorkerConfig checks the settings the remote worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}
