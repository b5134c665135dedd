package am

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options.
// Every key needs a default so env overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime_seconds", 300)

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.bind_address", "")
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})
	v.SetDefault("server.max_clients", DefaultMaxClients)
	v.SetDefault("server.client_queue_size", DefaultClientQueueSize)
	v.SetDefault("server.messages_per_second", 20.0)
	v.SetDefault("server.burst", 40)

	v.SetDefault("coordination.persist_timeout_ms", DefaultPersistTimeoutMS)
	v.SetDefault("coordination.subscriber_buffer", DefaultSubscriberBuffer)

	v.SetDefault("log.json", false)
}

// BindSensitiveEnvVars binds secrets that should not live in config files
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.dsn", EnvPrefix+"_DATABASE_DSN", "DATABASE_URL")
}
