// Package server exposes the coaching pipeline over a websocket endpoint and
// a small REST read surface. The websocket speaks JSON envelopes; a dropped
// connection finalizes its sessions exactly as if the client had ended them.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/cadenza-coach/cadenza/internal/analysis"
	"github.com/cadenza-coach/cadenza/internal/coach"
	"github.com/cadenza-coach/cadenza/internal/health"
	"github.com/cadenza-coach/cadenza/internal/observe"
	"github.com/cadenza-coach/cadenza/internal/session"
	"github.com/cadenza-coach/cadenza/internal/store"
)

// Compile-time check: the server is the manager's event sink.
var _ session.Emitter = (*Server)(nil)

// historyPageSize caps the REST session-history response.
const historyPageSize = 10

// shutdownGrace bounds how long Run waits for in-flight requests on shutdown.
const shutdownGrace = 10 * time.Second

// Server routes websocket traffic into the session manager and serves the
// REST read endpoints, health probes and the Prometheus scrape endpoint.
type Server struct {
	manager *session.Manager
	store   store.Store
	health  *health.Handler
	metrics *observe.Metrics
	logger  *slog.Logger
	addr    string
	tlsCert string
	tlsKey  string

	// mu guards conns, the sessionID to connection routing table.
	mu    sync.Mutex
	conns map[string]*wsConn
}

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithListenAddr sets the listen address for Run.
func WithListenAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithHealth attaches the health probe handler.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics attaches the observability instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithServerLogger overrides the default logger.
func WithServerLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTLS serves HTTPS using the given certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.tlsCert = certFile
		s.tlsKey = keyFile
	}
}

// New creates a server over the given session manager and store.
func New(manager *session.Manager, st store.Store, opts ...Option) *Server {
	s := &Server{
		manager: manager,
		store:   st,
		logger:  slog.Default(),
		addr:    ":8080",
		conns:   make(map[string]*wsConn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the full HTTP handler: websocket endpoint, REST reads,
// health probes and metrics scrape, wrapped in the observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/users/{id}/sessions", s.handleUserSessions)
	mux.HandleFunc("GET /api/users/{id}/progress", s.handleUserProgress)
	mux.HandleFunc("POST /api/practice/prompt", s.handlePracticePrompt)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.health != nil {
		s.health.Register(mux)
	}

	var handler http.Handler = mux
	if s.metrics != nil {
		handler = observe.Middleware(s.metrics)(handler)
	}
	return handler
}

// Run serves until ctx is cancelled, then drains connections and shuts the
// listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server listening", "addr", s.addr, "tls", s.tlsCert != "")
		var err error
		if s.tlsCert != "" {
			err = srv.ListenAndServeTLS(s.tlsCert, s.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ── websocket ───────────────────────────────────────────────────────────────

// handleWS upgrades the connection and runs its read loop. Any read error,
// including a clean close, finalizes every session the connection owns.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	conn := newWSConn(r.Context(), ws, s.logger)
	go conn.writeLoop()

	if s.metrics != nil {
		s.metrics.ConnectedClients.Add(r.Context(), 1)
		defer s.metrics.ConnectedClients.Add(context.WithoutCancel(r.Context()), -1)
	}

	defer s.cleanup(conn)
	s.readLoop(conn)
}

// readLoop processes inbound frames until the connection dies.
func (s *Server) readLoop(conn *wsConn) {
	for {
		_, data, err := conn.ws.Read(conn.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && conn.ctx.Err() == nil {
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		env, err := DecodeEnvelope(data)
		if err != nil {
			conn.sendError("", CodeInvalidMessage, "malformed message")
			continue
		}
		s.dispatch(conn, env)
	}
}

// dispatch handles one client envelope. Handler errors become error envelopes
// on the same connection; they never tear the connection down.
func (s *Server) dispatch(conn *wsConn, env *Envelope) {
	switch env.Type {
	case TypeStartSession:
		s.handleStartSession(conn, env)
	case TypeTranscriptFragment:
		s.handleFragment(conn, env)
	case TypeEndSession:
		s.handleEndSession(conn, env)
	default:
		conn.sendError(env.SessionID, CodeInvalidMessage, fmt.Sprintf("unknown message type %q", env.Type))
	}
}

func (s *Server) handleStartSession(conn *wsConn, env *Envelope) {
	var payload StartSessionPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.UserID == "" {
		conn.sendError("", CodeInvalidMessage, "start_session requires a userId")
		return
	}

	id, err := s.manager.Start(conn.ctx, payload.UserID)
	if err != nil {
		conn.sendError("", errorCode(err), "could not start session")
		return
	}

	s.route(id, conn)
	conn.own(id)

	reply, err := encodeEnvelope(TypeSessionStarted, id, SessionStartedPayload{SessionID: id})
	if err != nil {
		s.logger.Error("encode session_started", "error", err)
		return
	}
	conn.send(reply)
}

func (s *Server) handleFragment(conn *wsConn, env *Envelope) {
	if env.SessionID == "" {
		conn.sendError("", CodeInvalidMessage, "transcript_fragment requires a sessionId")
		return
	}
	var payload FragmentPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		conn.sendError(env.SessionID, CodeInvalidMessage, "malformed transcript_fragment payload")
		return
	}

	// Metrics come back through the emitter; only failures need a reply here.
	if _, err := s.manager.AppendFragment(conn.ctx, env.SessionID, payload.Text, payload.Audio); err != nil {
		conn.sendError(env.SessionID, errorCode(err), err.Error())
	}
}

func (s *Server) handleEndSession(conn *wsConn, env *Envelope) {
	if env.SessionID == "" {
		conn.sendError("", CodeInvalidMessage, "end_session requires a sessionId")
		return
	}
	// The report reaches the client through the emitter.
	if _, err := s.manager.End(conn.ctx, env.SessionID); err != nil {
		conn.sendError(env.SessionID, errorCode(err), err.Error())
	}
	conn.disown(env.SessionID)
}

// cleanup finalizes every session the dropped connection owned and tears the
// routing entries down.
func (s *Server) cleanup(conn *wsConn) {
	ctx := context.WithoutCancel(conn.ctx)
	for _, id := range conn.owned() {
		if err := s.manager.Disconnect(ctx, id); err != nil {
			s.logger.Warn("disconnect finalization failed", "session_id", id, "error", err)
		}
	}
	s.mu.Lock()
	for id, c := range s.conns {
		if c == conn {
			delete(s.conns, id)
		}
	}
	s.mu.Unlock()
	conn.close(websocket.StatusNormalClosure, "bye")
}

// route points sessionID's events at conn.
func (s *Server) route(sessionID string, conn *wsConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[sessionID] = conn
}

func (s *Server) connFor(sessionID string) (*wsConn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[sessionID]
	return c, ok
}

// ── session.Emitter ─────────────────────────────────────────────────────────

// MetricsUpdate implements session.Emitter.
func (s *Server) MetricsUpdate(sessionID string, m analysis.Metrics) {
	s.emit(TypeMetricsUpdate, sessionID, m)
}

// FeedbackItems implements session.Emitter.
func (s *Server) FeedbackItems(sessionID string, items []coach.FeedbackItem) {
	s.emit(TypeFeedback, sessionID, FeedbackPayload{Items: items})
}

// SessionReport implements session.Emitter. The routing entry is dropped
// afterwards; the report is the session's last event.
func (s *Server) SessionReport(sessionID string, r *session.Report) {
	s.emit(TypeSessionReport, sessionID, r)
	s.mu.Lock()
	delete(s.conns, sessionID)
	s.mu.Unlock()
}

// Error implements session.Emitter.
func (s *Server) Error(sessionID, kind string) {
	conn, ok := s.connFor(sessionID)
	if !ok {
		return
	}
	conn.sendError(sessionID, kind, "session degraded")
}

func (s *Server) emit(msgType, sessionID string, payload any) {
	conn, ok := s.connFor(sessionID)
	if !ok {
		return
	}
	env, err := encodeEnvelope(msgType, sessionID, payload)
	if err != nil {
		s.logger.Error("encode outbound envelope", "type", msgType, "error", err)
		return
	}
	conn.send(env)
}

// ── REST reads ──────────────────────────────────────────────────────────────

// sessionSummary is the REST projection of a stored session.
type sessionSummary struct {
	ID              string                     `json:"id"`
	StartedAt       time.Time                  `json:"startedAt"`
	DurationSeconds int                        `json:"durationSeconds"`
	Metrics         analysis.Metrics           `json:"metrics"`
	Personality     *coach.PersonalityAnalysis `json:"personality,omitempty"`
	Ended           bool                       `json:"ended"`
}

// progressView is the REST projection of a user's progress record.
type progressView struct {
	UserID            string         `json:"userId"`
	TotalSpeakingTime int            `json:"totalSpeakingTime"`
	StreakDays        int            `json:"streakDays"`
	TrackedIssues     map[string]int `json:"trackedIssues"`
	PersonalityTraits map[string]int `json:"personalityTraits"`
	ImprovementAreas  []string       `json:"improvementAreas"`
	LastSessionAt     time.Time      `json:"lastSessionAt"`
}

func (s *Server) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	recs, err := s.store.SessionsForUser(r.Context(), userID, historyPageSize)
	if err != nil {
		http.Error(w, "could not load sessions", http.StatusInternalServerError)
		return
	}
	out := make([]sessionSummary, len(recs))
	for i, rec := range recs {
		out[i] = sessionSummary{
			ID:              rec.ID,
			StartedAt:       rec.StartedAt,
			DurationSeconds: rec.DurationSeconds,
			Metrics:         rec.Metrics,
			Personality:     rec.Personality,
			Ended:           rec.Ended,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUserProgress(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	p, err := s.store.GetProgress(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "no progress recorded", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "could not load progress", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, progressView{
		UserID:            p.UserID,
		TotalSpeakingTime: p.TotalSpeakingTime,
		StreakDays:        p.StreakDays,
		TrackedIssues:     p.TrackedIssues,
		PersonalityTraits: p.PersonalityTraits,
		ImprovementAreas:  p.ImprovementAreas,
		LastSessionAt:     p.LastSessionAt,
	})
}

// practicePromptRequest selects and parameterises a practice mode.
type practicePromptRequest struct {
	Mode string `json:"mode"`

	// conversation
	Topic string `json:"topic,omitempty"`
	Level string `json:"level,omitempty"`

	// interview
	Subject           string   `json:"subject,omitempty"`
	Difficulty        string   `json:"difficulty,omitempty"`
	PreviousQuestions []string `json:"previousQuestions,omitempty"`

	// seminar
	Presentation string `json:"presentation,omitempty"`
}

type practicePromptResponse struct {
	Prompt string `json:"prompt"`
}

// handlePracticePrompt serves an opening prompt for a practice round. Always
// answers 200 with a usable prompt; generator trouble degrades to the fixed
// defaults inside the manager.
func (s *Server) handlePracticePrompt(w http.ResponseWriter, r *http.Request) {
	var req practicePromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	var prompt string
	switch req.Mode {
	case "conversation":
		prompt = s.manager.ConversationStarter(r.Context(), req.Topic, req.Level)
	case "interview":
		prompt = s.manager.InterviewQuestion(r.Context(), req.Subject, req.Difficulty, req.PreviousQuestions)
	case "seminar":
		prompt = s.manager.SeminarQuestion(r.Context(), req.Presentation)
	default:
		http.Error(w, "mode must be conversation, interview or seminar", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, practicePromptResponse{Prompt: prompt})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
