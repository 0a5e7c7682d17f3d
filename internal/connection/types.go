package connection

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrAlreadyClosed      = errors.New("already closed")
	ErrAlreadyConnected   = errors.New("connection already active")
	ErrSendRateLimited    = errors.New("send rate limit exceeded")
	ErrStaleConnection    = errors.New("connection stale (missed pongs)")
	ErrMaxRetriesExceeded = errors.New("max reconnect attempts exceeded")
	ErrSupervisorClosed   = errors.New("supervisor closed")
)

// State is the supervisor's connection state. Transitions are performed only
// by the supervisor's run loop.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateReconnecting
	StateAuthFailed
	StatePollingFallback
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateAuthFailed:
		return "auth_failed"
	case StatePollingFallback:
		return "polling_fallback"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Message wraps raw inbound bytes with a receive timestamp.
type Message struct {
	Data       []byte    // Raw message bytes from the socket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// CloseInfo describes how a socket ended. Code and Reason come from the
// peer's close frame when one was received; otherwise Code is the abnormal
// closure code and Err carries the read error.
type CloseInfo struct {
	Code   int
	Reason string
	Err    error
}

// HandshakeError is returned by Client.Connect when the server rejected the
// upgrade. Status is the HTTP status of the rejection, 0 when the dial never
// produced a response.
type HandshakeError struct {
	Status int
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("websocket handshake rejected (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("websocket dial failed: %v", e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// ClientConfig configures a single WebSocket client.
type ClientConfig struct {
	URL              string        // Fully built dial URL
	Subprotocols     []string      // Handshake subprotocols (carries the encoded credential)
	HandshakeTimeout time.Duration // Ceiling on the upgrade itself
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Inbound message channel buffer size
	SendRate         float64       // Outbound messages per second, 0 disables limiting
	SendBurst        int           // Outbound burst size when limiting
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
		SendRate:         20,
		SendBurst:        40,
	}
}

// SupervisorConfig configures the Connection Supervisor.
type SupervisorConfig struct {
	Endpoint   string // WebSocket endpoint, e.g. wss://pos.example.com
	APIBaseURL string // REST base URL for the polling fallback

	ConnectTimeout    time.Duration // Abort a connect attempt after this long
	HeartbeatInterval time.Duration // Ping cadence while connected
	MaxMissedPongs    int           // Unanswered pings before forcing a close, 0 disables

	ReconnectBase        time.Duration // First retry delay
	ReconnectCap         time.Duration // Retry delay ceiling
	MaxReconnectAttempts int           // Retry budget before polling fallback

	PollInterval time.Duration // Polling fallback cadence

	APITimeout      time.Duration // REST request timeout for the fallback client
	APIMaxRetries   int           // REST retry budget for 5xx/429
	APIRetryBackoff time.Duration // First REST retry delay

	WriteTimeout time.Duration // Socket write deadline
	SendRate     float64       // Outbound messages per second, 0 disables limiting
	SendBurst    int           // Outbound burst size when limiting
	BufferSize   int           // Inbound message channel buffer size
}

// DefaultSupervisorConfig returns sensible defaults.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		ConnectTimeout:       10 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		MaxMissedPongs:       0,
		ReconnectBase:        5 * time.Second,
		ReconnectCap:         30 * time.Second,
		MaxReconnectAttempts: 5,
		PollInterval:         15 * time.Second,
		APITimeout:           10 * time.Second,
		APIMaxRetries:        3,
		APIRetryBackoff:      time.Second,
		WriteTimeout:         5 * time.Second,
		SendRate:             20,
		SendBurst:            40,
		BufferSize:           256,
	}
}

// Status is a point-in-time snapshot of the supervisor, for connectivity
// banners and diagnostics.
type Status struct {
	State            State
	Attempt          int       // Attempt count within the current reconnection episode
	ConnectedAt      time.Time // Zero when not connected
	LastError        string    // Most recent connectivity error, "" if none
	MessagesReceived int64
	ParseErrors      int64
	Reconnects       int64 // Times the socket was re-established after a drop
}
