// Package am loads and persists reqsync configuration ("I am").
package am

import "os"

// Config represents the reqsync configuration
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Server       ServerConfig       `mapstructure:"server"`
	Coordination CoordinationConfig `mapstructure:"coordination"`
	Log          LogConfig          `mapstructure:"log"`
}

// DatabaseConfig selects and tunes the durable store
type DatabaseConfig struct {
	Driver                 string `mapstructure:"driver"` // sqlite (default) or postgres
	Path                   string `mapstructure:"path"`   // SQLite file path
	DSN                    string `mapstructure:"dsn"`    // Postgres connection string
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `mapstructure:"conn_max_lifetime_seconds"`
}

// ServerConfig configures the HTTP/websocket server
type ServerConfig struct {
	Port              int      `mapstructure:"port"`
	BindAddress       string   `mapstructure:"bind_address"`
	AllowedOrigins    []string `mapstructure:"allowed_origins"`
	MaxClients        int      `mapstructure:"max_clients"`
	ClientQueueSize   int      `mapstructure:"client_queue_size"`
	MessagesPerSecond float64  `mapstructure:"messages_per_second"` // per connection / per remote address
	Burst             int      `mapstructure:"burst"`
}

// CoordinationConfig tunes the record coordinator
type CoordinationConfig struct {
	PersistTimeoutMS int `mapstructure:"persist_timeout_ms"` // deadline for one storage write
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`  // events queued per subscriber before it is dropped
}

// LogConfig configures logging output
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// Defaults
const (
	DefaultServerPort       = 8787
	DefaultDatabasePath     = "reqsync.db"
	DefaultMaxClients       = 100
	DefaultClientQueueSize  = 256
	DefaultPersistTimeoutMS = 5000
	DefaultSubscriberBuffer = 256

	// ConfigFileName is looked up in /etc/reqsync, ~/.reqsync and the project tree
	ConfigFileName = "reqsync.toml"
	// EnvPrefix prefixes every environment override (REQSYNC_SERVER_PORT)
	EnvPrefix = "REQSYNC"

	DefaultDirPermissions  os.FileMode = 0750
	DefaultFilePermissions os.FileMode = 0644
)
