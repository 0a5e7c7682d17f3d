// possim is a local development backend for the poslink SDK. It serves the
// WebSocket endpoint with subprotocol credential validation, the REST
// active-orders endpoint, and fabricates a stream of demo business events,
// so the SDK can be exercised end to end without the production backend.
//
// Misbehavior toggles exist to drive the SDK's failure paths by hand:
// -reject-auth refuses every credential, -drop-after cuts each socket
// abnormally after the given duration.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/tablekit/poslink/internal/auth"
	"github.com/tablekit/poslink/internal/envelope"
	"github.com/tablekit/poslink/internal/version"
)

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	token := flag.String("token", "dev-token", "bearer token accepted by the simulator")
	eventInterval := flag.Duration("event-interval", 5*time.Second, "demo business event cadence")
	rejectAuth := flag.Bool("reject-auth", false, "refuse every credential")
	dropAfter := flag.Duration("drop-after", 0, "cut each socket abnormally after this duration, 0 disables")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	sim := &simulator{
		token:         *token,
		eventInterval: *eventInterval,
		rejectAuth:    *rejectAuth,
		dropAfter:     *dropAfter,
		store:         newOrderStore(),
		logger:        logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/orders/active", sim.handleActiveOrders).Methods(http.MethodGet)
	r.HandleFunc("/ws/pos/{tenant}", sim.handleSocket)

	logger.Info("possim listening",
		"version", version.Version,
		"addr", *addr,
		"reject_auth", *rejectAuth,
		"drop_after", *dropAfter,
	)

	if err := http.ListenAndServe(*addr, r); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

type simulator struct {
	token         string
	eventInterval time.Duration
	rejectAuth    bool
	dropAfter     time.Duration
	store         *orderStore
	logger        *slog.Logger
	upgrader      websocket.Upgrader
}

// handleActiveOrders serves the polling fallback endpoint.
func (s *simulator) handleActiveOrders(w http.ResponseWriter, r *http.Request) {
	if !s.checkBearer(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	restaurantID := r.URL.Query().Get("restaurant_id")
	if restaurantID == "" {
		http.Error(w, "restaurant_id is required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"orders": s.store.active(restaurantID),
	})
}

func (s *simulator) checkBearer(r *http.Request) bool {
	if s.rejectAuth {
		return false
	}
	return r.Header.Get("Authorization") == "Bearer "+s.token
}

// handleSocket upgrades the connection after validating the credential
// carried in the handshake subprotocol.
func (s *simulator) handleSocket(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	userID := r.URL.Query().Get("user_id")

	protocols := websocket.Subprotocols(r)
	if len(protocols) == 0 {
		s.logger.Warn("rejecting socket, no subprotocol credential", "tenant", tenant)
		http.Error(w, "missing credential", http.StatusUnauthorized)
		return
	}

	decoded, err := auth.DecodeToken(protocols[0])
	if err != nil || decoded != s.token || s.rejectAuth {
		s.logger.Warn("rejecting socket, credential refused",
			"tenant", tenant,
			"decode_error", err,
		)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	// Echo the negotiated subprotocol back so the client handshake
	// completes cleanly.
	conn, err := s.upgrader.Upgrade(w, r, http.Header{
		"Sec-WebSocket-Protocol": {protocols[0]},
	})
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}

	s.logger.Info("terminal connected", "tenant", tenant, "user_id", userID)
	sess := &session{
		sim:    s,
		conn:   conn,
		tenant: tenant,
		logger: s.logger.With("tenant", tenant),
	}
	sess.run()
}

// session is one connected terminal.
type session struct {
	sim    *simulator
	conn   *websocket.Conn
	tenant string
	logger *slog.Logger
}

func (ss *session) run() {
	defer ss.conn.Close()

	ss.send(envelope.Envelope{
		Type:         envelope.TypeConnectionEstablished,
		Timestamp:    time.Now().UnixMilli(),
		RestaurantID: ss.tenant,
	})

	inbound := make(chan envelope.Envelope)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := ss.conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			env, err := envelope.Parse(data)
			if err != nil {
				ss.logger.Debug("ignoring malformed message", "error", err)
				continue
			}
			inbound <- env
		}
	}()

	ticker := time.NewTicker(ss.sim.eventInterval)
	defer ticker.Stop()

	var dropC <-chan time.Time
	if ss.sim.dropAfter > 0 {
		dropTimer := time.NewTimer(ss.sim.dropAfter)
		defer dropTimer.Stop()
		dropC = dropTimer.C
	}

	for {
		select {
		case env := <-inbound:
			ss.handle(env)

		case err := <-readErr:
			ss.logger.Info("terminal disconnected", "error", err)
			return

		case <-ticker.C:
			eventType, order := ss.sim.store.mutate(ss.tenant)
			data, _ := json.Marshal(order)
			ss.send(envelope.Envelope{
				Type:         eventType,
				Data:         data,
				Timestamp:    time.Now().UnixMilli(),
				RestaurantID: ss.tenant,
			})

		case <-dropC:
			// Abnormal cut: no close frame, the client sees code 1006.
			ss.logger.Info("dropping terminal per -drop-after")
			ss.conn.UnderlyingConn().Close()
			return
		}
	}
}

func (ss *session) handle(env envelope.Envelope) {
	switch env.Type {
	case envelope.TypePing:
		ss.send(envelope.Envelope{
			Type:      envelope.TypePong,
			Timestamp: time.Now().UnixMilli(),
		})

	case envelope.TypeSubscribe:
		var sub envelope.SubscribeData
		if err := env.DecodeData(&sub); err != nil {
			ss.logger.Debug("bad subscribe payload", "error", err)
			return
		}
		ss.logger.Info("subscription confirmed", "events", len(sub.Events))
		data, _ := json.Marshal(sub)
		ss.send(envelope.Envelope{
			Type:         envelope.TypeSubscriptionConfirmed,
			Data:         data,
			Timestamp:    time.Now().UnixMilli(),
			RestaurantID: ss.tenant,
		})

	case envelope.TypeAuthenticate:
		// The handshake already validated the credential; ack anyway.
		ss.send(envelope.Envelope{
			Type:         envelope.TypeConnectionEstablished,
			Timestamp:    time.Now().UnixMilli(),
			RestaurantID: ss.tenant,
		})

	default:
		ss.logger.Debug("ignoring message", "type", env.Type)
	}
}

func (ss *session) send(env envelope.Envelope) {
	data, err := env.Encode()
	if err != nil {
		return
	}
	ss.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := ss.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		ss.logger.Debug("write failed", "error", err)
	}
}
