package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/tablekit/poslink/internal/api"
	"github.com/tablekit/poslink/internal/auth"
	"github.com/tablekit/poslink/internal/envelope"
	"github.com/tablekit/poslink/internal/events"
	"github.com/tablekit/poslink/internal/polling"
)

// Error codes carried on locally emitted error events.
const (
	errCodeAuthFailed = "auth_failed"
	errCodeMaxRetries = "max_retries_exceeded"
)

// Supervisor owns the terminal's connection to the order backend: the
// socket, its heartbeat, reconnection, the polling fallback, and dispatch
// of inbound events onto the bus.
//
// All state transitions run on one internal goroutine, so transitions and
// their timer side effects never interleave. Bus handlers run on that same
// goroutine and must not call Connect, Disconnect, or Close; hand off to
// another goroutine instead. Send, State, and Status are safe anywhere.
type Supervisor interface {
	// Connect fetches the current credential and starts a connection
	// attempt. It returns once the attempt is underway; progress is
	// reported through the event bus and State.
	Connect(ctx context.Context) error

	// Disconnect cancels every timer, closes any open socket, and parks
	// in StateClosed. Automatic reconnection stays disabled until Connect
	// is called again.
	Disconnect() error

	// Send transmits an envelope if the socket is connected. Sends while
	// not connected are dropped with a warning, never an error.
	Send(env envelope.Envelope)

	// RefreshCredentials signals that the external token manager has a
	// new credential. A supervisor parked on an auth failure (or stuck
	// mid-retry) abandons its current attempt and reconnects with the
	// fresh credential. Ignored while the connection is healthy.
	RefreshCredentials()

	// State returns the current connection state.
	State() State

	// Status returns a point-in-time snapshot for diagnostics.
	Status() Status

	// Close tears the supervisor down permanently.
	Close(ctx context.Context) error
}

type cmdKind int

const (
	cmdConnect cmdKind = iota
	cmdDisconnect
	cmdRefresh
)

type command struct {
	kind  cmdKind
	cred  auth.Credential
	reply chan error
}

type dialResult struct {
	gen    int
	client Client
	err    error
}

type credResult struct {
	gen  int
	cred auth.Credential
	err  error
}

// supervisor is the internal implementation.
type supervisor struct {
	cfg    SupervisorConfig
	tokens auth.TokenSource
	bus    *events.Bus
	rest   *api.Client
	logger *slog.Logger

	cmds  chan command
	dials chan dialResult
	creds chan credResult

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// Snapshot written by the run loop, read by Send/State/Status.
	mu               sync.RWMutex
	state            State
	client           Client
	attempt          int
	connectedAt      time.Time
	lastError        string
	messagesReceived int64
	parseErrors      int64
	reconnects       int64
}

// loop is the run goroutine's private state. All timers live here; every
// exit from the state that armed a timer cancels it.
type loop struct {
	state State
	cred  auth.Credential

	// gen invalidates in-flight dial and credential fetches after a
	// disconnect or refresh preempts them.
	gen        int
	client     Client
	dialCancel context.CancelFunc
	openedAt   time.Time

	backoff    *Backoff
	retryTimer *time.Timer
	retryC     <-chan time.Time

	hb *Heartbeat

	fallback     *polling.Fallback
	fallbackAuth <-chan error
}

// NewSupervisor creates a supervisor and starts its run loop. The loop is
// idle until Connect.
func NewSupervisor(cfg SupervisorConfig, tokens auth.TokenSource, bus *events.Bus, logger *slog.Logger) Supervisor {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultSupervisorConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = def.APITimeout
	}
	if cfg.APIMaxRetries <= 0 {
		cfg.APIMaxRetries = def.APIMaxRetries
	}
	if cfg.APIRetryBackoff <= 0 {
		cfg.APIRetryBackoff = def.APIRetryBackoff
	}

	s := &supervisor{
		cfg:    cfg,
		tokens: tokens,
		bus:    bus,
		rest: api.NewClient(cfg.APIBaseURL, tokens,
			api.WithLogger(logger),
			api.WithTimeout(cfg.APITimeout),
			api.WithRetries(cfg.APIMaxRetries, cfg.APIRetryBackoff),
		),
		logger: logger,
		cmds:   make(chan command, 16),
		dials:  make(chan dialResult),
		creds:  make(chan credResult),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		state:  StateDisconnected,
	}

	s.wg.Add(1)
	go s.run()

	return s
}

// Connect fetches the current credential and starts a connection attempt.
func (s *supervisor) Connect(ctx context.Context) error {
	cred, err := s.tokens.Credential(ctx)
	if err != nil {
		return fmt.Errorf("fetch credential: %w", err)
	}
	if err := cred.Validate(); err != nil {
		return err
	}

	reply := make(chan error, 1)
	select {
	case s.cmds <- command{kind: cmdConnect, cred: cred, reply: reply}:
	case <-s.done:
		return ErrSupervisorClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrSupervisorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect cancels all timers, closes the socket, and parks in StateClosed.
func (s *supervisor) Disconnect() error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{kind: cmdDisconnect, reply: reply}:
	case <-s.done:
		return ErrSupervisorClosed
	}

	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrSupervisorClosed
	}
}

// RefreshCredentials signals that a new credential is available.
func (s *supervisor) RefreshCredentials() {
	select {
	case s.cmds <- command{kind: cmdRefresh}:
	case <-s.done:
	}
}

// Send transmits an envelope on the connected socket.
func (s *supervisor) Send(env envelope.Envelope) {
	s.mu.RLock()
	st, cl := s.state, s.client
	s.mu.RUnlock()

	if st != StateConnected || cl == nil {
		s.logger.Warn("dropping send, socket not connected",
			"type", env.Type,
			"state", st.String(),
		)
		return
	}

	data, err := env.Encode()
	if err != nil {
		s.logger.Warn("dropping send, encode failed", "type", env.Type, "error", err)
		return
	}
	if err := cl.Send(data); err != nil {
		s.logger.Warn("send failed", "type", env.Type, "error", err)
	}
}

// State returns the current connection state.
func (s *supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns a snapshot of the supervisor.
func (s *supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		State:            s.state,
		Attempt:          s.attempt,
		ConnectedAt:      s.connectedAt,
		LastError:        s.lastError,
		MessagesReceived: s.messagesReceived,
		ParseErrors:      s.parseErrors,
		Reconnects:       s.reconnects,
	}
}

// Close tears the supervisor down permanently.
func (s *supervisor) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.quit)
	})

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the supervisor's single thread of control.
func (s *supervisor) run() {
	defer s.wg.Done()
	defer close(s.done)

	ls := &loop{
		state:   StateDisconnected,
		backoff: NewBackoff(s.cfg.ReconnectBase, s.cfg.ReconnectCap, s.cfg.MaxReconnectAttempts),
	}

	for {
		// Channels for absent collaborators stay nil so their cases
		// never fire.
		var msgs <-chan Message
		var closedC <-chan CloseInfo
		if ls.client != nil {
			msgs = ls.client.Messages()
			closedC = ls.client.Closed()
		}
		var stale <-chan struct{}
		if ls.hb != nil {
			stale = ls.hb.Stale()
		}

		select {
		case <-s.quit:
			s.shutdown(ls)
			return

		case cmd := <-s.cmds:
			s.handleCommand(ls, cmd)

		case res := <-s.dials:
			s.handleDialResult(ls, res)

		case res := <-s.creds:
			s.handleCredResult(ls, res)

		case msg := <-msgs:
			s.handleMessage(ls, msg)

		case info := <-closedC:
			s.handleClose(ls, info)

		case <-ls.retryC:
			ls.retryTimer = nil
			ls.retryC = nil
			s.logger.Info("reconnect timer fired", "attempt", ls.backoff.Attempt())
			s.beginDial(ls)

		case <-stale:
			s.handleStale(ls)

		case err := <-ls.fallbackAuth:
			s.handleFallbackAuthFailure(ls, err)
		}
	}
}

func (s *supervisor) handleCommand(ls *loop, cmd command) {
	switch cmd.kind {
	case cmdConnect:
		err := s.startConnect(ls, cmd.cred)
		if cmd.reply != nil {
			cmd.reply <- err
		}

	case cmdDisconnect:
		hadSocket := ls.client != nil
		s.teardownTransports(ls, "client requested disconnect")
		s.setState(ls, StateClosed)
		if hadSocket {
			s.emit(ls, envelope.EventDisconnected, envelope.DisconnectData{
				Code:   websocket.CloseNormalClosure,
				Reason: "client disconnect",
			})
		}
		if cmd.reply != nil {
			cmd.reply <- nil
		}

	case cmdRefresh:
		s.handleRefresh(ls)
	}
}

func (s *supervisor) startConnect(ls *loop, cred auth.Credential) error {
	switch ls.state {
	case StateConnecting, StateAuthenticating, StateConnected:
		return ErrAlreadyConnected
	}

	// A socket attempt and the polling fallback never run together.
	s.stopFallback(ls)
	s.cancelRetry(ls)

	ls.cred = cred
	s.beginDial(ls)
	return nil
}

// beginDial starts one asynchronous connection attempt.
func (s *supervisor) beginDial(ls *loop) {
	ls.gen++
	gen := ls.gen

	neg := auth.NewNegotiator(ls.cred)
	cl := NewClient(ClientConfig{
		URL:              buildSocketURL(s.cfg.Endpoint, ls.cred.RestaurantID, ls.cred.UserID),
		Subprotocols:     neg.Subprotocols(),
		HandshakeTimeout: s.cfg.ConnectTimeout,
		WriteTimeout:     s.cfg.WriteTimeout,
		BufferSize:       s.cfg.BufferSize,
		SendRate:         s.cfg.SendRate,
		SendBurst:        s.cfg.SendBurst,
	}, s.logger)
	ls.client = cl

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	ls.dialCancel = cancel

	s.setState(ls, StateConnecting)
	s.logger.Info("connecting",
		"restaurant_id", ls.cred.RestaurantID,
		"attempt", ls.backoff.Attempt(),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := cl.Connect(ctx)
		select {
		case s.dials <- dialResult{gen: gen, client: cl, err: err}:
		case <-s.quit:
			if err == nil {
				cl.Close()
			}
		}
	}()
}

func (s *supervisor) handleDialResult(ls *loop, res dialResult) {
	if res.gen != ls.gen {
		// A preempted attempt; discard its socket if it opened anyway.
		if res.err == nil {
			res.client.Close()
		}
		return
	}

	if ls.dialCancel != nil {
		ls.dialCancel()
		ls.dialCancel = nil
	}

	if res.err != nil {
		status := 0
		var he *HandshakeError
		if errors.As(res.err, &he) {
			status = he.Status
		}
		kind := auth.ClassifyDialError(res.err, status)

		s.logger.Warn("connect attempt failed",
			"error", res.err,
			"status", status,
			"classified", kind.String(),
		)
		s.recordError(res.err)
		ls.client = nil

		if kind == auth.FailureAuth {
			s.enterAuthFailed(ls, res.err.Error())
		} else {
			s.scheduleRetry(ls)
		}
		return
	}

	// Socket open. The handshake already carried the credential; the
	// in-band authenticate is redundant insurance, not a gate.
	ls.openedAt = time.Now()
	s.setState(ls, StateAuthenticating)

	neg := auth.NewNegotiator(ls.cred)
	if data, err := neg.AuthenticateEnvelope(time.Now()).Encode(); err == nil {
		if err := ls.client.Send(data); err != nil {
			s.logger.Debug("failed to send in-band authenticate", "error", err)
		}
	}

	s.enterConnected(ls)
}

func (s *supervisor) enterConnected(ls *loop) {
	resumed := ls.backoff.Attempt() > 0
	ls.backoff.Reset()
	s.setState(ls, StateConnected)

	s.mu.Lock()
	s.client = ls.client
	s.attempt = 0
	s.connectedAt = time.Now()
	s.lastError = ""
	if resumed {
		s.reconnects++
	}
	s.mu.Unlock()

	// Heartbeat runs only while connected.
	ls.hb = NewHeartbeat(s.cfg.HeartbeatInterval, s.cfg.MaxMissedPongs, ls.client.Send, s.logger)

	// Subscriptions outlive sockets; re-announce the set on every open.
	if data, err := envelope.NewSubscribe(envelope.BusinessEvents(), time.Now()).Encode(); err == nil {
		if err := ls.client.Send(data); err != nil {
			s.logger.Warn("failed to send subscribe", "error", err)
		}
	}

	s.logger.Info("connected",
		"restaurant_id", ls.cred.RestaurantID,
		"resumed", resumed,
	)
	s.emit(ls, envelope.EventConnected, nil)
}

func (s *supervisor) handleClose(ls *loop, info CloseInfo) {
	sinceOpen := time.Since(ls.openedAt)
	s.stopHeartbeat(ls)
	s.closeSocket(ls)

	kind := auth.Classify(info.Code, info.Reason, sinceOpen)
	s.logger.Warn("socket closed",
		"code", info.Code,
		"reason", info.Reason,
		"error", info.Err,
		"since_open", sinceOpen,
		"classified", kind.String(),
	)
	if info.Err != nil {
		s.recordError(info.Err)
	}

	s.emit(ls, envelope.EventDisconnected, envelope.DisconnectData{
		Code:   info.Code,
		Reason: info.Reason,
	})

	if kind == auth.FailureAuth {
		s.enterAuthFailed(ls, closeDetail(info))
	} else {
		s.scheduleRetry(ls)
	}
}

// enterAuthFailed parks the supervisor. No timer runs while parked; retrying
// with the same credential cannot succeed, so recovery waits for the
// external refresh signal.
func (s *supervisor) enterAuthFailed(ls *loop, detail string) {
	s.cancelRetry(ls)
	s.stopHeartbeat(ls)
	s.closeSocket(ls)

	s.setState(ls, StateAuthFailed)
	s.logger.Warn("authentication rejected, waiting for credential refresh", "detail", detail)
	s.emit(ls, envelope.EventError, envelope.ErrorData{
		Code:    errCodeAuthFailed,
		Message: detail,
	})
}

func (s *supervisor) scheduleRetry(ls *loop) {
	delay, ok := ls.backoff.Next()
	if !ok {
		s.enterFallback(ls)
		return
	}
	attempt := ls.backoff.Attempt()

	s.setState(ls, StateReconnecting)
	s.mu.Lock()
	s.attempt = attempt
	s.mu.Unlock()

	s.logger.Info("scheduling reconnect",
		"attempt", attempt,
		"max_attempts", s.cfg.MaxReconnectAttempts,
		"delay", delay,
	)
	s.emit(ls, envelope.EventReconnecting, envelope.ReconnectData{
		Attempt: attempt,
		DelayMs: delay.Milliseconds(),
	})

	ls.retryTimer = time.NewTimer(delay)
	ls.retryC = ls.retryTimer.C
}

func (s *supervisor) enterFallback(ls *loop) {
	s.setState(ls, StatePollingFallback)
	s.recordError(ErrMaxRetriesExceeded)
	s.logger.Warn("reconnect budget exhausted, degrading to polling",
		"attempts", ls.backoff.Attempt(),
	)
	s.emit(ls, envelope.EventError, envelope.ErrorData{
		Code:    errCodeMaxRetries,
		Message: ErrMaxRetriesExceeded.Error(),
	})

	fb := polling.NewFallback(polling.Config{
		Interval:     s.cfg.PollInterval,
		RestaurantID: ls.cred.RestaurantID,
	}, s.rest, s.bus, s.logger)

	ls.fallback = fb
	ls.fallbackAuth = fb.AuthFailures()
	fb.Start(context.Background())
}

func (s *supervisor) handleFallbackAuthFailure(ls *loop, err error) {
	s.logger.Warn("poll rejected, treating as authentication failure", "error", err)
	s.stopFallback(ls)
	s.recordError(err)
	s.enterAuthFailed(ls, err.Error())
}

// handleStale fires when the missed-pong ceiling is enabled and hit. The
// socket is presumed dead even though the transport has not noticed.
func (s *supervisor) handleStale(ls *loop) {
	s.stopHeartbeat(ls)
	s.closeSocket(ls)
	s.recordError(ErrStaleConnection)

	s.logger.Warn("closing stale connection, pongs stopped arriving")
	s.emit(ls, envelope.EventDisconnected, envelope.DisconnectData{
		Code:   websocket.CloseAbnormalClosure,
		Reason: "heartbeat timeout",
	})

	s.scheduleRetry(ls)
}

// handleRefresh restarts the connection with a freshly fetched credential.
// A healthy socket is left alone; an explicitly closed supervisor stays
// closed.
func (s *supervisor) handleRefresh(ls *loop) {
	switch ls.state {
	case StateConnected:
		s.logger.Debug("credential refresh ignored, connection healthy")
		return
	case StateClosed, StateDisconnected:
		s.logger.Debug("credential refresh noted, no connection to restart",
			"state", ls.state.String(),
		)
		return
	}

	s.logger.Info("credential refresh received, restarting connection",
		"state", ls.state.String(),
	)

	s.cancelRetry(ls)
	s.stopHeartbeat(ls)
	s.stopFallback(ls)
	s.closeSocket(ls)
	if ls.dialCancel != nil {
		ls.dialCancel()
		ls.dialCancel = nil
	}

	ls.gen++
	gen := ls.gen
	s.setState(ls, StateConnecting)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
		defer cancel()

		cred, err := s.tokens.Credential(ctx)
		if err == nil {
			err = cred.Validate()
		}
		select {
		case s.creds <- credResult{gen: gen, cred: cred, err: err}:
		case <-s.quit:
		}
	}()
}

func (s *supervisor) handleCredResult(ls *loop, res credResult) {
	if res.gen != ls.gen {
		return
	}
	if res.err != nil {
		s.recordError(res.err)
		s.enterAuthFailed(ls, fmt.Sprintf("credential refresh failed: %v", res.err))
		return
	}
	ls.cred = res.cred
	s.beginDial(ls)
}

func (s *supervisor) handleMessage(ls *loop, msg Message) {
	env, err := envelope.Parse(msg.Data)
	if err != nil {
		// Malformed inbound payloads are dropped; the connection stays
		// open.
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		s.logger.Warn("dropping malformed message", "error", err, "bytes", len(msg.Data))
		return
	}

	s.mu.Lock()
	s.messagesReceived++
	s.mu.Unlock()

	switch env.Type {
	case envelope.TypePong:
		if ls.hb != nil {
			ls.hb.Pong()
		}

	case envelope.TypeConnectionEstablished:
		s.logger.Debug("backend confirmed connection")

	case envelope.TypeSubscriptionConfirmed:
		s.logger.Debug("backend confirmed subscription")

	case envelope.TypeError:
		var ed envelope.ErrorData
		if err := env.DecodeData(&ed); err == nil {
			s.logger.Warn("backend reported error", "code", ed.Code, "message", ed.Message)
		} else {
			s.logger.Warn("backend reported error")
		}
		s.bus.Emit(envelope.EventError, env)

	default:
		if envelope.IsBusinessEvent(env.Type) {
			s.bus.Emit(env.Type, env)
			return
		}
		s.logger.Debug("skipping message type", "type", env.Type)
	}
}

// setState records a transition in both the loop and the shared snapshot.
func (s *supervisor) setState(ls *loop, st State) {
	if ls.state == st {
		return
	}
	s.logger.Debug("state transition", "from", ls.state.String(), "to", st.String())
	ls.state = st

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// emit publishes a lifecycle event on the bus.
func (s *supervisor) emit(ls *loop, eventType string, data any) {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	s.bus.Emit(eventType, envelope.Envelope{
		Type:         eventType,
		Data:         raw,
		Timestamp:    time.Now().UnixMilli(),
		RestaurantID: ls.cred.RestaurantID,
	})
}

func (s *supervisor) recordError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

func (s *supervisor) cancelRetry(ls *loop) {
	if ls.retryTimer != nil {
		ls.retryTimer.Stop()
		ls.retryTimer = nil
		ls.retryC = nil
	}
}

func (s *supervisor) stopHeartbeat(ls *loop) {
	if ls.hb != nil {
		ls.hb.Stop()
		ls.hb = nil
	}
}

func (s *supervisor) stopFallback(ls *loop) {
	if ls.fallback == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ls.fallback.Stop(ctx); err != nil {
		s.logger.Warn("polling fallback stop timed out", "error", err)
	}
	ls.fallback = nil
	ls.fallbackAuth = nil
}

func (s *supervisor) closeSocket(ls *loop) {
	if ls.client != nil {
		ls.client.Close()
		ls.client = nil
	}
	s.mu.Lock()
	s.client = nil
	s.connectedAt = time.Time{}
	s.mu.Unlock()
}

// teardownTransports cancels every timer and transport without changing
// state; callers decide the state that follows.
func (s *supervisor) teardownTransports(ls *loop, reason string) {
	s.cancelRetry(ls)
	s.stopHeartbeat(ls)
	s.stopFallback(ls)
	if ls.dialCancel != nil {
		ls.dialCancel()
		ls.dialCancel = nil
	}
	ls.gen++
	s.closeSocket(ls)
	s.logger.Info("transports torn down", "reason", reason)
}

func (s *supervisor) shutdown(ls *loop) {
	s.teardownTransports(ls, "supervisor closing")
	s.setState(ls, StateClosed)
}

// buildSocketURL forms {endpoint}/ws/pos/{tenant}?user_id={user}. The query
// parameter is best-effort on some runtimes; the credential travels in the
// handshake subprotocol.
func buildSocketURL(endpoint, restaurantID, userID string) string {
	base := strings.TrimRight(endpoint, "/")
	u := fmt.Sprintf("%s/ws/pos/%s", base, url.PathEscape(restaurantID))
	if userID != "" {
		u += "?user_id=" + url.QueryEscape(userID)
	}
	return u
}

func closeDetail(info CloseInfo) string {
	if info.Reason != "" {
		return fmt.Sprintf("close %d: %s", info.Code, info.Reason)
	}
	if info.Err != nil {
		return fmt.Sprintf("close %d: %v", info.Code, info.Err)
	}
	return fmt.Sprintf("close %d", info.Code)
}
