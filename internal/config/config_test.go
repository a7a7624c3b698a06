package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, "labbox-api", cfg.App.Name)
			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, 50*time.Millisecond, cfg.Server.IterateInterval)
			assert.Equal(t, "node-local", cfg.Session.NodeID)
			assert.Equal(t, 100*time.Millisecond, cfg.Session.WatchPollBudget)
			assert.Equal(t, []string{"cluster", "default", "partition1", "partition2", "partition3", "timeseries"}, cfg.Session.HandlerNames())
			assert.Equal(t, JobHandlerConfig{Type: HandlerTypeLocal, Capacity: 4}, cfg.Session.JobHandlers["default"])
			assert.Equal(t, HandlerTypeRemote, cfg.Session.JobHandlers["cluster"].Type)
			assert.Equal(t, FeedBackendRedis, cfg.Feed.Backend)
			assert.Equal(t, "localhost:6379", cfg.Feed.Redis.Addr)
			assert.Equal(t, "labbox:", cfg.Feed.Redis.KeyPrefix)
			assert.Equal(t, "labbox", cfg.Database.Database)
			assert.Equal(t, "labbox_jobs", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, 4, cfg.RabbitMQ.Consumer.PrefetchCount)
			assert.Equal(t, 50*time.Millisecond, cfg.Worker.StatusTimeout)
			assert.Equal(t, 3*time.Second, cfg.Worker.DispatchTimeout)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/minimal.yaml")
	require.NoError(t, err)

	assert.Equal(t, "labbox-default", cfg.Session.DefaultFeedName)
	assert.Equal(t, 100*time.Millisecond, cfg.Session.WatchPollBudget)
	assert.Equal(t, 50*time.Millisecond, cfg.Server.IterateInterval)
	assert.Equal(t, FeedBackendMemory, cfg.Feed.Backend)
	assert.Equal(t, 2*time.Second, cfg.Worker.DispatchTimeout)
	assert.Equal(t, 4, cfg.Session.JobHandlers["default"].Capacity)
	assert.False(t, cfg.Session.HasRemoteHandlers())

	require.NoError(t, cfg.ValidateAPIConfig())
}

func validAPIConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, IterateInterval: 50 * time.Millisecond},
		Session: SessionConfig{
			DefaultFeedName: "labbox-default",
			JobHandlers: map[string]JobHandlerConfig{
				"default": {Type: HandlerTypeLocal, Capacity: 4},
			},
		},
		Feed: FeedConfig{Backend: FeedBackendMemory},
	}
}

func withBrokers(c *Config) *Config {
	c.Database = DatabaseConfig{Host: "localhost", Port: 5432, Database: "labbox"}
	c.RabbitMQ = RabbitMQConfig{
		Host:     "localhost",
		Port:     5672,
		Exchange: ExchangeConfig{Name: "labbox_jobs"},
		Queue:    QueueConfig{Name: "labbox_jobs_queue"},
	}
	return c
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "zero iterate interval",
			mutate:    func(c *Config) { c.Server.IterateInterval = 0 },
			errString: "iterate_interval",
		},
		{
			name:      "no default feed",
			mutate:    func(c *Config) { c.Session.DefaultFeedName = "" },
			errString: "default_feed_name is required",
		},
		{
			name:      "no job handlers",
			mutate:    func(c *Config) { c.Session.JobHandlers = nil },
			errString: "at least one handler",
		},
		{
			name: "local handler without capacity",
			mutate: func(c *Config) {
				c.Session.JobHandlers["default"] = JobHandlerConfig{Type: HandlerTypeLocal}
			},
			errString: `job handler "default" capacity`,
		},
		{
			name: "handler without type",
			mutate: func(c *Config) {
				c.Session.JobHandlers["x"] = JobHandlerConfig{Capacity: 1}
			},
			errString: `job handler "x" type is required`,
		},
		{
			name: "unknown handler type is resolved at runtime",
			mutate: func(c *Config) {
				c.Session.JobHandlers["slurm"] = JobHandlerConfig{Type: "slurm"}
			},
		},
		{
			name:      "unknown feed backend",
			mutate:    func(c *Config) { c.Feed.Backend = "s3" },
			errString: "unsupported feed backend",
		},
		{
			name: "remote handler without database",
			mutate: func(c *Config) {
				c.Session.JobHandlers["cluster"] = JobHandlerConfig{Type: HandlerTypeRemote}
			},
			errString: "database host is required",
		},
		{
			name: "remote handler with brokers",
			mutate: func(c *Config) {
				withBrokers(c)
				c.Session.JobHandlers["cluster"] = JobHandlerConfig{Type: HandlerTypeRemote}
			},
		},
		{
			name: "remote handler with empty queue name",
			mutate: func(c *Config) {
				withBrokers(c)
				c.RabbitMQ.Queue.Name = ""
				c.Session.JobHandlers["cluster"] = JobHandlerConfig{Type: HandlerTypeRemote}
			},
			errString: "rabbitmq queue name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAPIConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	valid := func() *Config {
		c := withBrokers(&Config{})
		c.Worker = WorkerConfig{
			Concurrency:       4,
			JobTimeout:        time.Minute,
			HeartbeatInterval: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		}
		return c
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{"valid config", func(c *Config) {}, ""},
		{"empty database host", func(c *Config) { c.Database.Host = "" }, "database host is required"},
		{"invalid database port", func(c *Config) { c.Database.Port = 0 }, "invalid database port"},
		{"empty database name", func(c *Config) { c.Database.Database = "" }, "database name is required"},
		{"empty rabbitmq host", func(c *Config) { c.RabbitMQ.Host = "" }, "rabbitmq host is required"},
		{"empty exchange name", func(c *Config) { c.RabbitMQ.Exchange.Name = "" }, "rabbitmq exchange name is required"},
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "worker concurrency"},
		{"zero job timeout", func(c *Config) { c.Worker.JobTimeout = 0 }, "worker job_timeout"},
		{"zero heartbeat", func(c *Config) { c.Worker.HeartbeatInterval = 0 }, "worker heartbeat_interval"},
		{"zero shutdown timeout", func(c *Config) { c.Worker.ShutdownTimeout = 0 }, "worker shutdown_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}
