package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	appNotification "github.com/execution-hub/moldwatch/internal/application/notification"
	"github.com/execution-hub/moldwatch/internal/application/query"
	"github.com/execution-hub/moldwatch/internal/application/session"
	"github.com/execution-hub/moldwatch/internal/domain/connection"
	"github.com/execution-hub/moldwatch/internal/domain/controller"
	"github.com/execution-hub/moldwatch/internal/domain/notification"
	"github.com/execution-hub/moldwatch/internal/infrastructure/credential"
	"github.com/execution-hub/moldwatch/internal/infrastructure/sse"
)

// SessionView exposes the session indicators shown on the status endpoint.
type SessionView interface {
	Status() session.Status
	Phase() session.Phase
	ConnectionState() connection.State
	AccessLevel() int
}

// PasswordSetter persists the organization password.
type PasswordSetter interface {
	SetPassword(password string) error
}

// Terminator force-closes the server connection so the next attempt logs in again.
type Terminator interface {
	Terminate() error
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	session SessionView
	store   controller.Store
	creds   PasswordSetter
	link    Terminator
	sseHub  *sse.Hub
	metrics http.Handler
	logger  zerolog.Logger
}

func NewServer(
	sessionView SessionView,
	store controller.Store,
	creds PasswordSetter,
	link Terminator,
	sseHub *sse.Hub,
	metrics http.Handler,
	logger zerolog.Logger,
) *Server {
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	return &Server{
		session: sessionView,
		store:   store,
		creds:   creds,
		link:    link,
		sseHub:  sseHub,
		metrics: metrics,
		logger:  logger.With().Str("service", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/healthz", s.healthz)
		r.Method(http.MethodGet, "/metrics", s.metrics)
	})

	r.Route("/v1", func(r chi.Router) {
		// streams stay open past the request timeout
		r.Get("/controllers/stream", s.streamEndpoint)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/status", s.getStatus)
			r.Get("/controllers", s.listControllers)
			r.Get("/controllers/{controllerId}", s.getController)
			r.Post("/settings/password", s.setPassword)
		})
	})

	return r
}

type statusResponse struct {
	Status      session.Status `json:"status"`
	Connection  string         `json:"connection"`
	Phase       string         `json:"phase"`
	AccessLevel int            `json:"accessLevel"`
	Controllers int            `json:"controllers"`
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, statusResponse{
		Status:      s.session.Status(),
		Connection:  s.session.ConnectionState().String(),
		Phase:       s.session.Phase().String(),
		AccessLevel: s.session.AccessLevel(),
		Controllers: s.store.Len(),
	})
}

func (s *Server) listControllers(w http.ResponseWriter, r *http.Request) {
	states, err := query.Filter(r.URL.Query().Get("where"), s.store.Snapshot())
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"controllers": states,
		"count":       len(states),
	})
}

func (s *Server) getController(w http.ResponseWriter, r *http.Request) {
	id, err := parseIntParam(r, "controllerId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "controllerId must be an integer")
		return
	}
	st, ok := s.store.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "controller not found")
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) setPassword(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if err := s.creds.SetPassword(req.Password); err != nil {
		if errors.Is(err, credential.ErrEmptyPassword) {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "password required")
			return
		}
		s.logger.Error().Err(err).Msg("failed to store password")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to store password")
		return
	}
	// the new password only takes effect on the next Join
	if err := s.link.Terminate(); err != nil && !errors.Is(err, connection.ErrNotInitialized) {
		s.logger.Warn().Err(err).Msg("failed to terminate connection after password change")
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "reconnecting"})
}

func (s *Server) streamEndpoint(w http.ResponseWriter, r *http.Request) {
	events := splitCSV(r.URL.Query().Get("events"))
	if err := notification.ValidateEvents(events); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}
	client := notification.NewSSEClient(r.URL.Query().Get("client_id"), events)
	s.sseHub.Register(client)
	defer s.sseHub.Unregister(client)
	s.sendInitial(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	// Send an initial comment to flush headers and keep the connection alive.
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg := <-client.MessageChan:
			if msg == nil {
				return
			}
			payload, _ := json.Marshal(msg)
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// sendInitial queues the current status and controller list for a new client.
func (s *Server) sendInitial(client *notification.SSEClient) {
	initial := []struct {
		event string
		data  any
	}{
		{notification.EventStatus, appNotification.StatusEvent{Status: s.session.Status()}},
		{notification.EventControllers, s.store.Snapshot()},
	}
	for _, m := range initial {
		if !client.Wants(m.event) {
			continue
		}
		msg, err := notification.EncodeSSEMessage(m.event, m.data)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to encode initial message")
			continue
		}
		if err := s.sseHub.SendToClient(client.ClientID, msg); err != nil {
			s.logger.Warn().Err(err).Str("client_id", client.ClientID).Msg("failed to queue initial message")
		}
	}
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func parseIntParam(r *http.Request, key string) (int, error) {
	return strconv.Atoi(chi.URLParam(r, key))
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func splitCSV(val string) []string {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
