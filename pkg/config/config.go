// Package config loads Contour's configuration from layered sources:
// built-in defaults, an optional YAML file, then environment variables.
package config

import "time"

// Config is the root configuration structure for both the scheduler and
// worker processes.
type Config struct {
	App      AppConfig        `koanf:"app"`
	Log      LogConfig        `koanf:"log"`
	Metrics  MetricsConfig    `koanf:"metrics"`
	HTTP     HTTPConfig       `koanf:"http"`
	Broker   BrokerConfig     `koanf:"broker"`
	Postgres PostgresConfig   `koanf:"postgres"`
	Scenario ScenarioConfig   `koanf:"scenario"`
	Timeouts TimeoutsConfig   `koanf:"timeouts"`
	EventLog EventLogConfig   `koanf:"eventlog"`
	Worker   WorkerPoolConfig `koanf:"worker"`
}

// AppConfig holds process-wide identification.
type AppConfig struct {
	Name        string `koanf:"name"`
	Environment string `koanf:"environment"`
}

// LogConfig controls the zerolog sink.
type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Port    int    `koanf:"port"`
	Path    string `koanf:"path"`
}

// HTTPConfig controls the task-intake HTTP server.
type HTTPConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
}

// BrokerConfig configures the broker adapter.
type BrokerConfig struct {
	URL               string        `koanf:"url"`
	Exchange          string        `koanf:"exchange"`
	CmdExchange       string        `koanf:"cmd_exchange"`
	CmdRoutingKey     string        `koanf:"cmd_routing_key"`
	PrefetchCount     int           `koanf:"prefetch_count"`
	ReconnectDelay    time.Duration `koanf:"reconnect_delay"`
	BreakerMaxFails   uint32        `koanf:"breaker_max_fails"`
	BreakerOpenPeriod time.Duration `koanf:"breaker_open_period"`
}

// PostgresConfig configures the edit-history database. The event log is
// kept separately in the embedded store configured by EventLogConfig.
type PostgresConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxConns        int32         `koanf:"max_conns"`
	MinConns        int32         `koanf:"min_conns"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `koanf:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// ScenarioConfig locates and watches the scenario database document.
type ScenarioConfig struct {
	DBPath     string `koanf:"db_path"`
	HotReload  bool   `koanf:"hot_reload"`
	RunTaskURL string `koanf:"run_task_url"`
}

// TimeoutsConfig holds the scheduler-wide timeout knobs named in the RPC
// and cancellation protocols.
type TimeoutsConfig struct {
	Start     time.Duration `koanf:"start"`
	Close     time.Duration `koanf:"close"`
	Terminate time.Duration `koanf:"terminate"`
	Heartbeat time.Duration `koanf:"heartbeat"`
}

// EventLogConfig locates the embedded durable event store.
type EventLogConfig struct {
	DBPath string `koanf:"db_path"`
}

// WorkerPoolConfig controls the Worker Pool Supervisor's process
// management, independent of the broker's own reconnect behavior.
type WorkerPoolConfig struct {
	RestartDelay time.Duration `koanf:"restart_delay"`
	SocketDir    string        `koanf:"socket_dir"`
}
