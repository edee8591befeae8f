package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voicechatllm/voicechat/internal/config"
	"github.com/voicechatllm/voicechat/internal/convo"
	"github.com/voicechatllm/voicechat/internal/observability"
	"github.com/voicechatllm/voicechat/internal/session"
	"github.com/voicechatllm/voicechat/internal/transcript"
)

// LoopParams carries the per-connection pieces a loop factory cannot know in
// advance: the session, the websocket-fed capturer and player, and the
// presentation hooks.
type LoopParams struct {
	Session  *session.Session
	Capturer convo.Capturer
	Player   convo.Player
	Hooks    convo.Hooks
}

// LoopFactory builds one conversation loop per websocket connection.
type LoopFactory func(p LoopParams) *convo.Loop

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	newLoop  LoopFactory
	store    transcript.Store
	metrics  *observability.Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, newLoop LoopFactory, store transcript.Store, metrics *observability.Metrics, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		newLoop:  newLoop,
		store:    store,
		metrics:  metrics,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin, so another site cannot drive the user's session
				// if the service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
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

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/chat/session", s.handleCreateSession)
	r.Post("/v1/chat/session/{id}/end", s.handleEndSession)
	r.Get("/v1/chat/session/{id}/transcript", s.handleTranscript)
	r.Get("/v1/chat/session/ws", s.handleSessionWS)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Language) == "" {
		req.Language = s.cfg.Language
	}
	if strings.TrimSpace(req.Voice) == "" {
		req.Voice = s.cfg.TTSVoice
	}

	sess := s.sessions.Create(req.Language, req.Voice)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		Status:          sess.Status,
		Language:        sess.Language,
		Voice:           sess.Voice,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	lines, err := s.store.SessionLines(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "transcript_unavailable", err.Error())
		return
	}
	if lines == nil {
		lines = []transcript.Line{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"lines":      lines,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
