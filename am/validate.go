package am

import (
	"github.com/teranos/reqsync/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "", "sqlite", "sqlite3":
	case "postgres", "postgresql", "pgx":
		if c.Database.DSN == "" {
			return errors.New("database.dsn cannot be empty when database.driver is postgres")
		}
	default:
		return errors.Newf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxClients <= 0 {
		return errors.Newf("server.max_clients must be > 0, got %d", c.Server.MaxClients)
	}
	if c.Server.ClientQueueSize <= 0 {
		return errors.Newf("server.client_queue_size must be > 0, got %d", c.Server.ClientQueueSize)
	}
	// 0 disables rate limiting; negative is invalid
	if c.Server.MessagesPerSecond < 0 {
		return errors.Newf("server.messages_per_second must be >= 0, got %f", c.Server.MessagesPerSecond)
	}
	if c.Server.MessagesPerSecond > 0 && c.Server.Burst <= 0 {
		return errors.Newf("server.burst must be > 0 when rate limiting is enabled, got %d", c.Server.Burst)
	}

	if c.Coordination.PersistTimeoutMS <= 0 {
		return errors.Newf("coordination.persist_timeout_ms must be > 0, got %d", c.Coordination.PersistTimeoutMS)
	}
	if c.Coordination.SubscriberBuffer <= 0 {
		return errors.Newf("coordination.subscriber_buffer must be > 0, got %d", c.Coordination.SubscriberBuffer)
	}

	return nil
}
