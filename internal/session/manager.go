package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadenza-coach/cadenza/internal/analysis"
	"github.com/cadenza-coach/cadenza/internal/coach"
	"github.com/cadenza-coach/cadenza/internal/config"
	"github.com/cadenza-coach/cadenza/internal/observe"
	"github.com/cadenza-coach/cadenza/internal/progress"
	"github.com/cadenza-coach/cadenza/internal/resilience"
	"github.com/cadenza-coach/cadenza/internal/store"
)

// persistAttempts bounds the save attempts at session end: one try plus one
// retry after a short delay.
const (
	persistAttempts   = 2
	persistRetryDelay = 200 * time.Millisecond
)

// liveSession is the in-memory state of one running session.
type liveSession struct {
	id        string
	userID    string
	startedAt time.Time

	// mu guards the mutable fields below.
	mu         sync.Mutex
	state      State
	transcript strings.Builder
	metrics    analysis.Metrics
	audio      *analysis.AudioStats
	report     *Report

	// finalizeMu serialises finalization so a concurrent End and Disconnect
	// produce exactly one report.
	finalizeMu sync.Mutex

	// cancel stops the session-scoped context handed to in-flight generator
	// calls once the session ends.
	cancel context.CancelFunc
	ctx    context.Context
}

func (s *liveSession) ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateEnded
}

// Manager coordinates live sessions: it owns the session registry, drives the
// analysis pipeline on every fragment, calls the feedback generator off the
// hot path, and finalizes sessions into reports and progress updates.
type Manager struct {
	store    store.Store
	gen      coach.Generator
	agg      *progress.Aggregator
	emitter  Emitter
	engine   *analysis.Engine
	detector *analysis.Detector
	metrics  *observe.Metrics
	breaker  *resilience.CircuitBreaker
	logger   *slog.Logger

	genTimeout       time.Duration
	historyLimit     int
	maxFragmentBytes int
	now              func() time.Time

	// mu guards the registries below. Reports of ended sessions are retained
	// so End stays idempotent after the live state is released.
	mu       sync.Mutex
	sessions map[string]*liveSession
	byUser   map[string]string
	reports  map[string]*Report

	// userMu serialises progress folding per user so two sessions ending
	// concurrently cannot lose increments.
	userMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// ManagerOption is a functional option for configuring a [Manager].
type ManagerOption func(*Manager)

// WithGenerator attaches the feedback generator. Without one the manager
// serves the deterministic fallbacks only.
func WithGenerator(g coach.Generator) ManagerOption {
	return func(m *Manager) { m.gen = g }
}

// WithEmitter attaches the event sink that forwards session events to the
// client transport.
func WithEmitter(e Emitter) ManagerOption {
	return func(m *Manager) {
		if e != nil {
			m.emitter = e
		}
	}
}

// WithMetrics attaches the observability instruments.
func WithMetrics(mx *observe.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mx }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithGeneratorTimeout bounds each generator call.
func WithGeneratorTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.genTimeout = d
		}
	}
}

// WithHistoryLimit caps the conversation tail (in runes) sent with each
// feedback request.
func WithHistoryLimit(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.historyLimit = n
		}
	}
}

// WithMaxFragmentBytes caps the size of a single transcript fragment.
func WithMaxFragmentBytes(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxFragmentBytes = n
		}
	}
}

// WithFillerWords overrides the filler vocabulary for both the metrics engine
// and the pattern detector.
func WithFillerWords(words []string) ManagerOption {
	return func(m *Manager) {
		if len(words) > 0 {
			m.engine = analysis.NewEngine(analysis.WithFillerWords(words))
			m.detector = analysis.NewDetector(analysis.WithDetectorFillerWords(words))
		}
	}
}

// WithBreaker overrides the generator circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) ManagerOption {
	return func(m *Manager) {
		if cb != nil {
			m.breaker = cb
		}
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// SetEmitter wires the event sink after construction. The transport needs a
// manager to exist before it can register as its sink. Call before Start.
func (m *Manager) SetEmitter(e Emitter) {
	if e != nil {
		m.emitter = e
	}
}

// SetGenerator swaps the feedback generator. Used by config hot reload when
// the coach model changes; in-flight calls finish on the old generator.
func (m *Manager) SetGenerator(g coach.Generator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen = g
}

// UpdateFillerWords swaps the analysis vocabulary. Takes effect from the next
// fragment; already computed metrics are not revised.
func (m *Manager) UpdateFillerWords(words []string) {
	if len(words) == 0 {
		return
	}
	engine := analysis.NewEngine(analysis.WithFillerWords(words))
	detector := analysis.NewDetector(analysis.WithDetectorFillerWords(words))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engine = engine
	m.detector = detector
}

// analyzers returns the current engine and detector pair.
func (m *Manager) analyzers() (*analysis.Engine, *analysis.Detector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine, m.detector
}

// generator returns the current feedback generator, which may be nil.
func (m *Manager) generator() coach.Generator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// NewManager creates a session manager backed by st.
func NewManager(st store.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:            st,
		emitter:          noopEmitter{},
		engine:           analysis.NewEngine(),
		detector:         analysis.NewDetector(),
		logger:           slog.Default(),
		genTimeout:       config.DefaultCoachTimeout.Std(),
		historyLimit:     config.DefaultHistoryLimit,
		maxFragmentBytes: config.DefaultMaxFragmentBytes,
		now:              time.Now,
		sessions:         make(map[string]*liveSession),
		byUser:           make(map[string]string),
		reports:          make(map[string]*Report),
		locks:            make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.agg == nil {
		m.agg = progress.NewAggregator(st)
	}
	if m.breaker == nil {
		m.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "coach-generator"})
	}
	return m
}

// Start begins a new session for userID and returns its ID. If the user
// already has an active session it is finalized first, exactly as if the
// client had ended it, so at most one session per user is ever live.
func (m *Manager) Start(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("session: start: empty user id")
	}

	m.mu.Lock()
	prevID, hasPrev := m.byUser[userID]
	m.mu.Unlock()
	if hasPrev {
		m.logger.Info("superseding active session", "user_id", userID, "session_id", prevID)
		if _, err := m.finalize(ctx, prevID, "superseded"); err != nil && !errors.Is(err, ErrSessionNotFound) {
			m.logger.Warn("superseded session finalization failed", "session_id", prevID, "error", err)
		}
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &liveSession{
		id:        uuid.NewString(),
		userID:    userID,
		startedAt: m.now().UTC(),
		state:     StateActive,
		ctx:       sctx,
		cancel:    cancel,
	}

	if err := m.store.SaveSession(ctx, &store.SessionRecord{
		ID:        s.id,
		UserID:    s.userID,
		StartedAt: s.startedAt,
	}); err != nil {
		cancel()
		return "", fmt.Errorf("session: start: %w", err)
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.byUser[userID] = s.id
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, 1)
	}
	m.logger.Info("session started", "session_id", s.id, "user_id", userID)
	return s.id, nil
}

// AppendFragment ingests one transcript fragment, recomputes the metrics over
// the whole transcript so far and returns the fresh snapshot. audio, when
// non-nil, replaces the session's audio measurements for this and later
// snapshots. Feedback generation runs asynchronously; its results arrive via
// the emitter.
func (m *Manager) AppendFragment(ctx context.Context, sessionID, text string, audio *analysis.AudioStats) (analysis.Metrics, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		m.recordFragment(ctx, "rejected")
		if _, ok := m.endedReport(sessionID); ok {
			return analysis.Metrics{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotActive)
		}
		return analysis.Metrics{}, err
	}

	if strings.TrimSpace(text) == "" {
		m.recordFragment(ctx, "rejected")
		return analysis.Metrics{}, fmt.Errorf("%w: empty fragment", ErrInvalidFragment)
	}
	if len(text) > m.maxFragmentBytes {
		m.recordFragment(ctx, "rejected")
		return analysis.Metrics{}, fmt.Errorf("%w: fragment exceeds %d bytes", ErrInvalidFragment, m.maxFragmentBytes)
	}

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		m.recordFragment(ctx, "rejected")
		return analysis.Metrics{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotActive)
	}
	if s.transcript.Len() > 0 {
		s.transcript.WriteByte(' ')
	}
	s.transcript.WriteString(text)
	if audio != nil {
		s.audio = audio
	}
	transcript := s.transcript.String()
	snapshotAudio := s.audio
	elapsed := m.now().UTC().Sub(s.startedAt)
	s.mu.Unlock()

	engine, _ := m.analyzers()
	started := time.Now()
	metrics := engine.Analyze(transcript, elapsed, snapshotAudio)
	if m.metrics != nil {
		m.metrics.AnalysisDuration.Record(ctx, time.Since(started).Seconds())
	}

	s.mu.Lock()
	s.metrics = metrics
	s.mu.Unlock()

	m.recordFragment(ctx, "ok")
	m.emitter.MetricsUpdate(sessionID, metrics)

	go m.generateFeedback(s, text, transcript, metrics)

	return metrics, nil
}

// generateFeedback calls the generator off the fragment hot path. Results
// that arrive after the session has ended are discarded.
func (m *Manager) generateFeedback(s *liveSession, fragment, conversation string, metrics analysis.Metrics) {
	if m.generator() == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, m.genTimeout)
	defer cancel()

	items, err := m.callFeedback(ctx, fragment, m.conversationTail(conversation), metrics)
	if err != nil {
		m.logger.Warn("feedback generation degraded to defaults",
			"session_id", s.id, "error", err)
		if m.metrics != nil {
			m.metrics.RecordGeneratorFallback(ctx, "feedback")
		}
		items = coach.DefaultFeedback()
	}
	if len(items) == 0 {
		return
	}

	// The session may have ended while the generator was busy. finalizeMu
	// closes the race with a concurrent finalization: either the session is
	// already Ended here and the items are discarded, or they land while it
	// is still Active.
	s.finalizeMu.Lock()
	defer s.finalizeMu.Unlock()
	if s.ended() {
		m.logger.Debug("discarding feedback for ended session", "session_id", s.id)
		return
	}

	pctx := context.WithoutCancel(ctx)
	now := m.now().UTC()
	for i := range items {
		rec := &store.FeedbackItem{
			ID:        uuid.NewString(),
			SessionID: s.id,
			Type:      items[i].Type,
			Category:  items[i].Category,
			Message:   items[i].Message,
			Timestamp: now,
		}
		if err := m.store.AppendFeedback(pctx, rec); err != nil {
			m.logger.Warn("feedback persistence failed", "session_id", s.id, "error", err)
		}
	}
	m.emitter.FeedbackItems(s.id, items)
}

// callFeedback runs one generator call through the circuit breaker.
func (m *Manager) callFeedback(ctx context.Context, fragment, conversation string, metrics analysis.Metrics) ([]coach.FeedbackItem, error) {
	gen := m.generator()
	if gen == nil {
		return nil, coach.ErrUnavailable
	}
	var items []coach.FeedbackItem
	started := time.Now()
	err := m.breaker.Execute(func() error {
		var genErr error
		items, genErr = gen.GenerateFeedback(ctx, fragment, conversation, metrics)
		return genErr
	})
	if m.metrics != nil {
		m.metrics.GeneratorDuration.Record(ctx, time.Since(started).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.metrics.RecordGeneratorRequest(ctx, "feedback", status)
	}
	return items, err
}

// conversationTail returns at most historyLimit trailing runes of the
// transcript, cut on a rune boundary.
func (m *Manager) conversationTail(transcript string) string {
	runes := []rune(transcript)
	if len(runes) <= m.historyLimit {
		return transcript
	}
	return string(runes[len(runes)-m.historyLimit:])
}

// End finalizes the session and returns its report. Ending an already ended
// session returns the stored report with a nil error. A persistence failure
// after the bounded retry surfaces as a wrapped [ErrPersistence], but the
// session is still ended and the returned report is valid.
func (m *Manager) End(ctx context.Context, sessionID string) (*Report, error) {
	report, err := m.finalize(ctx, sessionID, "client")
	if errors.Is(err, ErrSessionNotFound) {
		if r, ok := m.endedReport(sessionID); ok {
			return r, nil
		}
	}
	return report, err
}

func (m *Manager) endedReport(sessionID string) (*Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[sessionID]
	return r, ok
}

// Disconnect finalizes the session exactly like End. An unknown session ID is
// a no-op: the client may disconnect after its session was already reaped.
func (m *Manager) Disconnect(ctx context.Context, sessionID string) error {
	_, err := m.finalize(ctx, sessionID, "disconnect")
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

// finalize runs the full end-of-session pipeline: final metrics over the
// whole transcript and elapsed time, pattern detection, pace rating,
// personality analysis with fallback, persistence with one retry, and
// progress folding.
func (m *Manager) finalize(ctx context.Context, sessionID, reason string) (*Report, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.finalizeMu.Lock()
	defer s.finalizeMu.Unlock()

	s.mu.Lock()
	if s.state == StateEnded {
		report := s.report
		s.mu.Unlock()
		return report, nil
	}
	transcript := s.transcript.String()
	audio := s.audio
	s.mu.Unlock()

	endedAt := m.now().UTC()
	duration := int(endedAt.Sub(s.startedAt).Seconds())

	// The final metrics cover the whole session, not the instant of the last
	// fragment: the engine runs once more with the full elapsed time.
	engine, detector := m.analyzers()
	metrics := engine.Analyze(transcript, endedAt.Sub(s.startedAt), audio)
	patterns := detector.Detect(transcript)
	pace, paceSuggestion := analysis.RatePace(metrics.WordsPerMinute)
	personality := m.analyzePersonality(ctx, s, transcript)

	report := &Report{
		SessionID:       s.id,
		UserID:          s.userID,
		DurationSeconds: duration,
		Metrics:         metrics,
		Patterns:        patterns,
		Pace:            pace,
		PaceSuggestion:  paceSuggestion,
		Personality:     personality,
		EndedAt:         endedAt,
	}

	// Mark ended before persistence: the session must end even when the
	// store is down, and late generator results check this flag.
	s.mu.Lock()
	s.state = StateEnded
	s.report = report
	s.mu.Unlock()
	s.cancel()

	m.mu.Lock()
	delete(m.sessions, s.id)
	m.reports[s.id] = report
	if m.byUser[s.userID] == s.id {
		delete(m.byUser, s.userID)
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, -1)
		m.metrics.RecordSessionEnded(ctx, reason, float64(duration))
	}

	persistErr := m.persistFinal(ctx, s, report)
	if persistErr != nil {
		m.emitter.Error(s.id, "persistence_failed")
	}

	if err := m.foldProgress(ctx, s.userID, report); err != nil {
		m.logger.Error("progress folding failed", "session_id", s.id, "user_id", s.userID, "error", err)
	}

	m.emitter.SessionReport(s.id, report)
	m.logger.Info("session ended",
		"session_id", s.id,
		"user_id", s.userID,
		"reason", reason,
		"duration_seconds", duration)

	if persistErr != nil {
		return report, persistErr
	}
	return report, nil
}

// analyzePersonality runs the whole-transcript analysis with the previous
// session's analysis as memory, degrading to the deterministic default
// profile on any failure.
func (m *Manager) analyzePersonality(ctx context.Context, s *liveSession, transcript string) *coach.PersonalityAnalysis {
	gen := m.generator()
	if gen == nil || transcript == "" {
		return coach.DefaultPersonality()
	}

	previous := m.previousPersonality(ctx, s)

	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.genTimeout)
	defer cancel()

	var result *coach.PersonalityAnalysis
	started := time.Now()
	err := m.breaker.Execute(func() error {
		var genErr error
		result, genErr = gen.AnalyzePersonality(gctx, transcript, previous)
		if genErr != nil {
			return genErr
		}
		if result == nil {
			return coach.ErrUnavailable
		}
		return result.Validate()
	})
	if m.metrics != nil {
		m.metrics.GeneratorDuration.Record(ctx, time.Since(started).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.metrics.RecordGeneratorRequest(ctx, "personality", status)
	}
	if err != nil {
		m.logger.Warn("personality analysis degraded to default profile",
			"session_id", s.id, "error", err)
		if m.metrics != nil {
			m.metrics.RecordGeneratorFallback(ctx, "personality")
		}
		return coach.DefaultPersonality()
	}
	return result
}

// previousPersonality fetches the newest ended session's stored analysis, or
// nil when there is none.
func (m *Manager) previousPersonality(ctx context.Context, s *liveSession) *coach.PersonalityAnalysis {
	recs, err := m.store.SessionsForUser(ctx, s.userID, 0)
	if err != nil {
		m.logger.Warn("session history lookup failed", "user_id", s.userID, "error", err)
		return nil
	}
	for i := range recs {
		if recs[i].ID == s.id || !recs[i].Ended {
			continue
		}
		if recs[i].Personality != nil {
			return recs[i].Personality
		}
	}
	return nil
}

// persistFinal writes the final session record with one retry.
func (m *Manager) persistFinal(ctx context.Context, s *liveSession, report *Report) error {
	rec := &store.SessionRecord{
		ID:              s.id,
		UserID:          s.userID,
		StartedAt:       s.startedAt,
		DurationSeconds: report.DurationSeconds,
		Metrics:         report.Metrics,
		Transcript:      s.transcript.String(),
		Personality:     report.Personality,
		Ended:           true,
	}

	attempt := 0
	err := resilience.Retry(ctx, persistAttempts, persistRetryDelay, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			if m.metrics != nil {
				m.metrics.PersistenceRetries.Add(ctx, 1)
			}
			m.logger.Warn("retrying final session save", "session_id", s.id, "attempt", attempt)
		}
		return m.store.SaveSession(ctx, rec)
	})
	if err != nil {
		m.logger.Error("final session save failed", "session_id", s.id, "error", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// foldProgress applies the session outcome to the user's long-term progress.
func (m *Manager) foldProgress(ctx context.Context, userID string, report *Report) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	var traits map[string]int
	if report.Personality != nil {
		traits = report.Personality.Traits
	}
	_, err := m.agg.Fold(ctx, userID, progress.Outcome{
		DurationSeconds:  report.DurationSeconds,
		Issues:           report.Patterns.GrammarIssues,
		Traits:           traits,
		ImprovementAreas: report.Patterns.ImprovementSuggestions,
		EndedAt:          report.EndedAt,
	})
	return err
}

func (m *Manager) userLock(userID string) *sync.Mutex {
	m.userMu.Lock()
	defer m.userMu.Unlock()
	lock, ok := m.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[userID] = lock
	}
	return lock
}

// ActiveSessionID returns the ID of the user's live session, or false.
func (m *Manager) ActiveSessionID(userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byUser[userID]
	return id, ok
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown finalizes every live session. Used during server shutdown so
// in-flight sessions still produce reports and progress updates.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if _, err := m.finalize(ctx, id, "disconnect"); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) lookup(sessionID string) (*liveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return s, nil
}

func (m *Manager) recordFragment(ctx context.Context, status string) {
	if m.metrics != nil {
		m.metrics.RecordFragment(ctx, status)
	}
}
