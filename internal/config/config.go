package config

import "time"

// Config is the root configuration for a poslink terminal agent.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Identity   IdentityConfig   `yaml:"identity"`
	Connection ConnectionConfig `yaml:"connection"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Polling    PollingConfig    `yaml:"polling"`
	API        APIConfig        `yaml:"api"`
}

// ServerConfig holds backend endpoints.
type ServerConfig struct {
	WSURL  string `yaml:"ws_url"`  // WebSocket endpoint, e.g. wss://pos.example.com
	APIURL string `yaml:"api_url"` // REST base URL for the polling fallback
}

// IdentityConfig identifies this terminal. Token is typically supplied via
// ${VAR} expansion so it never lives in the file.
type IdentityConfig struct {
	UserID       string `yaml:"user_id"`
	RestaurantID string `yaml:"restaurant_id"`
	Token        string `yaml:"token"`
}

// ConnectionConfig holds socket-level settings.
type ConnectionConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	BufferSize     int           `yaml:"buffer_size"`
	SendRate       float64       `yaml:"send_rate"`  // Outbound messages per second, negative disables limiting
	SendBurst      int           `yaml:"send_burst"` // Outbound burst size when limiting
}

// HeartbeatConfig holds keep-alive settings.
type HeartbeatConfig struct {
	Interval       time.Duration `yaml:"interval"`
	MaxMissedPongs int           `yaml:"max_missed_pongs"` // 0 leaves liveness to the transport
}

// ReconnectConfig holds retry backoff settings.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// PollingConfig holds fallback transport settings.
type PollingConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// APIConfig holds REST client settings.
type APIConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}
