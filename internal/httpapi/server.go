package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/drivethru/internal/audio"
	"github.com/ent0n29/drivethru/internal/config"
	"github.com/ent0n29/drivethru/internal/kiosk"
	"github.com/ent0n29/drivethru/internal/live"
	"github.com/ent0n29/drivethru/internal/observability"
	"github.com/ent0n29/drivethru/internal/protocol"
	"github.com/ent0n29/drivethru/internal/session"
	"github.com/ent0n29/drivethru/internal/voice"
)

const (
	volumeInterval = 100 * time.Millisecond
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
)

// Controller drives the single kiosk session.
type Controller interface {
	Connect(ctx context.Context) (*session.Session, error)
	Disconnect()
	Toggle(ctx context.Context) (*session.Session, error)
	DismissIngredient(id string) bool
	State() voice.State
	Level() float64
}

// Feed publishes board snapshots to renderers.
type Feed interface {
	Subscribe() (<-chan kiosk.Snapshot, func())
}

type Server struct {
	cfg        config.Config
	sessions   *session.Manager
	controller Controller
	feed       Feed
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader
	static     http.Handler

	// pingInterval keeps idle renderers inside the read deadline.
	pingInterval time.Duration
}

func New(cfg config.Config, sessions *session.Manager, controller Controller, feed Feed, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:        cfg,
		sessions:   sessions,
		controller: controller,
		feed:       feed,
		metrics:    metrics,
		static:     newStaticHandler(),

		pingInterval: wsPingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive the kiosk microphone.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/kiosk/state", s.handleState)
	r.Post("/v1/kiosk/session", s.handleStartSession)
	r.Post("/v1/kiosk/session/end", s.handleEndSession)
	r.Post("/v1/kiosk/session/toggle", s.handleToggleSession)
	r.Post("/v1/kiosk/ingredients/{id}/done", s.handleIngredientDone)
	r.Get("/v1/kiosk/ws", s.handleKioskWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"session_active": s.sessions.Active(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.controller == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "kiosk controller not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"provider": s.cfg.LiveProvider,
	})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	if s.controller == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "kiosk controller not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "kiosk controller not configured")
		return
	}
	wasActive := s.sessions.Active()
	sess, err := s.controller.Connect(r.Context())
	if err != nil {
		status, code, _ := connectFailure(err)
		respondError(w, status, code, err.Error())
		return
	}
	status := http.StatusCreated
	if wasActive {
		status = http.StatusOK
	}
	respondJSON(w, status, session.NewStartResponse(sess, s.cfg.SessionInactivityTimeout))
}

func (s *Server) handleEndSession(w http.ResponseWriter, _ *http.Request) {
	if s.controller == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "kiosk controller not configured")
		return
	}
	if !s.sessions.Active() {
		respondError(w, http.StatusNotFound, "session_not_found", session.ErrNotFound.Error())
		return
	}
	s.controller.Disconnect()
	sess, _ := s.sessions.Current()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleToggleSession(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "kiosk controller not configured")
		return
	}
	sess, err := s.controller.Toggle(r.Context())
	if err != nil {
		status, code, _ := connectFailure(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleIngredientDone(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "kiosk controller not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if !s.controller.DismissIngredient(id) {
		respondError(w, http.StatusNotFound, "ingredient_not_found", "no animating ingredient "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKioskWS(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil || s.feed == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "kiosk controller not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	snapshots, unsubscribe := s.feed.Subscribe()
	defer unsubscribe()
	outbound := make(chan any, 64)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, cancel, conn, snapshots, outbound)
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.enqueue(outbound, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Source: "gateway",
				Detail: err.Error(),
			})
			continue
		}
		control := parsed.(protocol.ClientControl)
		s.metrics.WSMessages.WithLabelValues("inbound", string(control.Type)).Inc()
		if reply := s.applyControl(ctx, control); reply != nil {
			s.enqueue(outbound, reply)
		}
	}

	cancel()
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// writeLoop owns every write on conn.
func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, snapshots <-chan kiosk.Snapshot, outbound <-chan any) {
	write := func(msg any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			s.metrics.SessionEvents.WithLabelValues("ws_write_error").Inc()
			cancel()
			return false
		}
		if t, ok := messageTypeOf(msg); ok {
			s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
		}
		return true
	}

	st := s.controller.State()
	if !write(protocol.KioskState{Type: protocol.TypeKioskState, Kiosk: st.Kiosk, Session: st.Session}) {
		return
	}

	ticker := time.NewTicker(volumeInterval)
	defer ticker.Stop()
	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()
	lastLevel := -1.0
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			msg := protocol.KioskState{Type: protocol.TypeKioskState, Kiosk: snap}
			if cur, ok := s.sessions.Current(); ok {
				msg.Session = cur
			}
			if !write(msg) {
				return
			}
		case msg := <-outbound:
			if !write(msg) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				s.metrics.SessionEvents.WithLabelValues("ws_write_error").Inc()
				cancel()
				return
			}
		case <-ticker.C:
			level := s.controller.Level()
			if level == lastLevel {
				continue
			}
			lastLevel = level
			if !write(protocol.ModelVolume{Type: protocol.TypeModelVolume, Level: level}) {
				return
			}
		}
	}
}

func (s *Server) applyControl(ctx context.Context, msg protocol.ClientControl) any {
	var err error
	switch msg.Action {
	case protocol.ActionStart:
		_, err = s.controller.Connect(ctx)
	case protocol.ActionStop:
		s.controller.Disconnect()
	case protocol.ActionToggle:
		_, err = s.controller.Toggle(ctx)
	case protocol.ActionIngredientDone:
		if !s.controller.DismissIngredient(msg.IngredientID) {
			return protocol.SystemEvent{
				Type:   protocol.TypeSystemEvent,
				Code:   "ingredient_not_found",
				Detail: msg.IngredientID,
			}
		}
	}
	if err != nil {
		_, code, retryable := connectFailure(err)
		return protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			Code:      code,
			Source:    "session",
			Retryable: retryable,
			Detail:    err.Error(),
		}
	}
	return nil
}

func (s *Server) enqueue(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
		// Keep websocket writes single-threaded; drop if the writer is saturated.
		s.metrics.WSMessages.WithLabelValues("outbound", "drop_full").Inc()
	}
}

// connectFailure maps a session start error to an HTTP status, an error code
// and whether retrying can help.
func connectFailure(err error) (int, string, bool) {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied", false
	case errors.Is(err, live.ErrTransport):
		return http.StatusBadGateway, "transport_error", true
	default:
		return http.StatusInternalServerError, "connect_failed", false
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientControl:
		return m.Type, true
	case protocol.KioskState:
		return m.Type, true
	case protocol.ModelVolume:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
