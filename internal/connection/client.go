package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Client represents a single WebSocket connection to the order backend.
// A client is single-use: once its socket closes it cannot be reconnected,
// the supervisor creates a fresh client per attempt.
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close sends a normal-closure frame and closes the connection.
	Close() error

	// Send writes raw bytes to the connection as one text message.
	Send(data []byte) error

	// Messages returns a channel of raw inbound messages.
	Messages() <-chan Message

	// Closed delivers at most one CloseInfo when the socket ends for any
	// reason other than a local Close call.
	Closed() <-chan CloseInfo

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	messages chan Message
	closedCh chan CloseInfo
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex
	limiter *rate.Limiter

	// State
	mu        sync.RWMutex
	connected bool
	closed    bool
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.SendRate > 0 {
		burst := cfg.SendBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), burst)
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		limiter:  limiter,
		messages: make(chan Message, cfg.BufferSize),
		closedCh: make(chan CloseInfo, 1),
		done:     make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection. The credential travels in
// the handshake subprotocol list; a rejected upgrade is returned as a
// HandshakeError carrying the HTTP status.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		Subprotocols:     c.cfg.Subprotocols,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return &HandshakeError{Status: status, Err: err}
	}

	c.mu.Lock()
	if c.closed {
		// Close() raced the dial; discard the socket.
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL, "subprotocol", conn.Subprotocol())

	return nil
}

// Close gracefully closes the connection. The Closed channel does not fire
// for a local close.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	// Signal goroutines to stop
	close(c.done)

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}

	return nil
}

// Send writes raw bytes to the connection.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	if c.limiter != nil && !c.limiter.Allow() {
		return ErrSendRateLimited
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Messages returns the messages channel.
func (c *client) Messages() <-chan Message {
	return c.messages
}

// Closed returns the close notification channel.
func (c *client) Closed() <-chan CloseInfo {
	return c.closedCh
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// readLoop reads messages from the WebSocket and sends them to the messages
// channel until the socket ends.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Suppress the notification after a local Close()
			select {
			case <-c.done:
				return
			default:
			}

			info := CloseInfo{Code: websocket.CloseAbnormalClosure, Err: err}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				info.Code = ce.Code
				// Text is a peer reason only when a close frame
				// actually arrived; for 1006 the library fills in
				// its own description of the read error.
				if ce.Code != websocket.CloseAbnormalClosure {
					info.Reason = ce.Text
				}
			}

			select {
			case c.closedCh <- info:
			default:
			}
			return
		}

		msg := Message{
			Data:       data,
			ReceivedAt: receivedAt,
		}

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		default:
			c.logger.Warn("message buffer full, dropping message")
		}
	}
}
