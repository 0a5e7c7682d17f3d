package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultConnectTimeout    = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultBufferSize        = 256
	DefaultSendRate          = 20.0
	DefaultSendBurst         = 40
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultReconnectBase     = 5 * time.Second
	DefaultReconnectMax      = 30 * time.Second
	DefaultMaxAttempts       = 5
	DefaultPollInterval      = 15 * time.Second
	DefaultAPITimeout        = 10 * time.Second
	DefaultMaxRetries        = 3
	DefaultRetryBackoff      = 1 * time.Second
)

func (c *Config) applyDefaults() {
	// Connection defaults
	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.BufferSize == 0 {
		c.Connection.BufferSize = DefaultBufferSize
	}
	// A negative send_rate is an explicit opt-out of rate limiting;
	// it normalizes to 0 so the supervisor skips the limiter entirely.
	switch {
	case c.Connection.SendRate == 0:
		c.Connection.SendRate = DefaultSendRate
	case c.Connection.SendRate < 0:
		c.Connection.SendRate = 0
	}
	if c.Connection.SendBurst == 0 {
		c.Connection.SendBurst = DefaultSendBurst
	}

	// Heartbeat defaults. MaxMissedPongs keeps its zero value: liveness
	// stays the transport's problem unless explicitly enabled.
	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = DefaultHeartbeatInterval
	}

	// Reconnect defaults
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = DefaultReconnectBase
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultReconnectMax
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultMaxAttempts
	}

	// Polling defaults
	if c.Polling.Interval == 0 {
		c.Polling.Interval = DefaultPollInterval
	}

	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}
}
