// Package server exposes the realtime core over a websocket endpoint.
// Each connection gets one read loop goroutine; inbound messages from a
// single connection are handled strictly in arrival order, while different
// connections proceed concurrently through the shared registry and router.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"transit-fleet/internal/general/logger"
	"transit-fleet/internal/realtime/codec"
	"transit-fleet/internal/realtime/domain"
	"transit-fleet/internal/realtime/hub"
	"transit-fleet/internal/realtime/ingest"
)

const welcomeMessage = "Connected to transit management system"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Options tune per-connection transport behavior.
type Options struct {
	WriteTimeout time.Duration
	ReadLimit    int64
}

func (o *Options) defaults() {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20 // 1 MiB
	}
}

// Server handles websocket connections on /ws.
type Server struct {
	logger   *logger.Logger
	registry *hub.Registry
	router   *hub.Router
	pipeline *ingest.Pipeline
	verifier domain.IdentityVerifier
	opts     Options
}

func New(
	log *logger.Logger,
	registry *hub.Registry,
	router *hub.Router,
	pipeline *ingest.Pipeline,
	verifier domain.IdentityVerifier,
	opts Options,
) *Server {
	opts.defaults()
	return &Server{
		logger:   log,
		registry: registry,
		router:   router,
		pipeline: pipeline,
		verifier: verifier,
		opts:     opts,
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.HandleWS)
}

// HandleWS upgrades the request and runs the connection's read loop until
// the peer goes away or the liveness supervisor removes it.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error(r.Context(), "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return
	}

	conn.SetReadLimit(s.opts.ReadLimit)

	stream := &wsStream{conn: conn, writeTimeout: s.opts.WriteTimeout}
	id := s.registry.Register(stream)
	defer s.registry.Remove(id)

	ctx := s.logger.WithConnectionID(r.Context(), string(id))

	// Pongs feed the liveness supervisor's bookkeeping.
	conn.SetPongHandler(func(string) error {
		s.registry.Touch(id)
		return nil
	})

	if err := s.registry.Send(id, codec.EncodeWelcome(welcomeMessage)); err != nil {
		return
	}

	// Per-connection throttle marker, owned by this read loop.
	var lastReportAt time.Time

	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info(ctx, "ws_unexpected_close", "Connection closed unexpectedly",
					map[string]any{"error": err.Error()})
			} else {
				s.logger.Info(ctx, "ws_connection_closed", "Connection closed", nil)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue // binary frames are not part of the protocol
		}

		s.handleFrame(ctx, id, frame, &lastReportAt)
	}
}

// handleFrame decodes and dispatches one inbound frame. Exactly one handler
// runs per message type.
func (s *Server) handleFrame(ctx context.Context, id hub.ConnID, frame []byte, lastReportAt *time.Time) {
	msg, err := codec.Decode(frame)
	if err != nil {
		switch {
		case errors.Is(err, codec.ErrUnknownType):
			// forward-compatible: unknown kinds are not errors
			s.logger.Debug(ctx, "ws_unknown_type", "Ignoring unknown envelope type",
				map[string]any{"error": err.Error()})
		case errors.Is(err, codec.ErrMissingFields):
			_ = s.registry.Send(id, codec.EncodeError("missing mandatory fields"))
		default:
			// malformed frame: logged, swallowed, connection stays open
			s.logger.Debug(ctx, "ws_malformed_frame", "Dropping undecodable frame",
				map[string]any{"error": err.Error()})
		}
		return
	}

	switch m := msg.(type) {
	case codec.Auth:
		s.handleAuth(ctx, id, m)
	case codec.Subscribe:
		s.registry.Subscribe(id, m.Channel)
	case codec.Unsubscribe:
		s.registry.Unsubscribe(id, m.Channel)
	case codec.LocationReport:
		_ = s.pipeline.Ingest(ctx, id, m, lastReportAt)
	}
}

func (s *Server) handleAuth(ctx context.Context, id hub.ConnID, msg codec.Auth) {
	identity, err := s.verifier.Verify(ctx, domain.AuthAssertion{
		UserID: msg.UserID,
		Role:   msg.Role,
		Token:  msg.Token,
	})
	if err != nil {
		s.logger.Debug(ctx, "ws_auth_rejected", "Auth envelope rejected",
			map[string]any{"user_id": msg.UserID, "error": err.Error()})
		_ = s.registry.Send(id, codec.EncodeError("authentication failed"))
		return
	}
	s.registry.Authenticate(id, identity)
	s.logger.Info(ctx, "ws_authenticated", "Connection authenticated",
		map[string]any{"user_id": identity.UserID, "role": identity.Role.String()})
}
