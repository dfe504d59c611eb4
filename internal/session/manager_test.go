package session_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cadenza-coach/cadenza/internal/analysis"
	"github.com/cadenza-coach/cadenza/internal/coach"
	"github.com/cadenza-coach/cadenza/internal/coach/mock"
	"github.com/cadenza-coach/cadenza/internal/session"
	"github.com/cadenza-coach/cadenza/internal/store"
	"github.com/cadenza-coach/cadenza/internal/store/memstore"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recorderEmitter captures emitted events. Feedback deliveries are signalled
// on a channel so tests can wait for the asynchronous generator path.
type recorderEmitter struct {
	mu       sync.Mutex
	metrics  []analysis.Metrics
	reports  []*session.Report
	errors   []string
	feedback chan []coach.FeedbackItem
}

func newRecorderEmitter() *recorderEmitter {
	return &recorderEmitter{feedback: make(chan []coach.FeedbackItem, 16)}
}

func (e *recorderEmitter) MetricsUpdate(_ string, m analysis.Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = append(e.metrics, m)
}

func (e *recorderEmitter) FeedbackItems(_ string, items []coach.FeedbackItem) {
	e.feedback <- items
}

func (e *recorderEmitter) SessionReport(_ string, r *session.Report) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reports = append(e.reports, r)
}

func (e *recorderEmitter) Error(_ string, kind string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors = append(e.errors, kind)
}

func (e *recorderEmitter) reportCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.reports)
}

// flakyStore fails SaveSession for ended records a configured number of times.
type flakyStore struct {
	store.Store

	mu       sync.Mutex
	failures int
	attempts int
}

func (f *flakyStore) SaveSession(ctx context.Context, rec *store.SessionRecord) error {
	if !rec.Ended {
		return f.Store.SaveSession(ctx, rec)
	}
	f.mu.Lock()
	f.attempts++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("save failed")
	}
	return f.Store.SaveSession(ctx, rec)
}

func (f *flakyStore) endedAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func validPersonality() *coach.PersonalityAnalysis {
	return &coach.PersonalityAnalysis{
		PrimaryType:    "Analytical Presenter",
		SecondaryTrait: "Detail Oriented",
		Strengths:      []string{"structured arguments"},
		GrowthAreas:    []string{"vary intonation"},
		Confidence:     80,
		Traits:         map[string]int{"analytical": 85},
	}
}

func TestStartAndAppendFragment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memstore.New()
	clock := newFakeClock()
	m := session.NewManager(st, session.WithClock(clock.Now))

	id, err := m.Start(ctx, "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id == "" {
		t.Fatal("Start returned empty session ID")
	}
	if got, ok := m.ActiveSessionID("user-1"); !ok || got != id {
		t.Fatalf("ActiveSessionID = %q, %v, want %q, true", got, ok, id)
	}

	// 7 words over 3.5 seconds is exactly 120 words per minute.
	clock.Advance(3500 * time.Millisecond)
	metrics, err := m.AppendFragment(ctx, id, "one two three four five six seven", nil)
	if err != nil {
		t.Fatalf("AppendFragment: %v", err)
	}
	if metrics.WordsPerMinute != 120 {
		t.Fatalf("WordsPerMinute = %d, want 120", metrics.WordsPerMinute)
	}

	rec, err := st.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.Ended {
		t.Fatal("session record marked ended before End")
	}
}

func TestAppendFragment_Rejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := session.NewManager(memstore.New(), session.WithMaxFragmentBytes(10))

	id, err := m.Start(ctx, "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := m.AppendFragment(ctx, id, "   ", nil); !errors.Is(err, session.ErrInvalidFragment) {
		t.Fatalf("empty fragment error = %v, want ErrInvalidFragment", err)
	}
	if _, err := m.AppendFragment(ctx, id, strings.Repeat("x", 11), nil); !errors.Is(err, session.ErrInvalidFragment) {
		t.Fatalf("oversized fragment error = %v, want ErrInvalidFragment", err)
	}
	if _, err := m.AppendFragment(ctx, "no-such-session", "hello", nil); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("unknown session error = %v, want ErrSessionNotFound", err)
	}

	if _, err := m.End(ctx, id); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := m.AppendFragment(ctx, id, "too late", nil); !errors.Is(err, session.ErrSessionNotActive) {
		t.Fatalf("ended session error = %v, want ErrSessionNotActive", err)
	}
}

func TestEnd_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := session.NewManager(memstore.New())

	id, err := m.Start(ctx, "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.AppendFragment(ctx, id, "hello world this is a test", nil); err != nil {
		t.Fatalf("AppendFragment: %v", err)
	}

	first, err := m.End(ctx, id)
	if err != nil {
		t.Fatalf("first End: %v", err)
	}
	second, err := m.End(ctx, id)
	if err != nil {
		t.Fatalf("second End: %v", err)
	}
	if first != second {
		t.Fatal("second End did not return the same report")
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d, want 0", m.ActiveCount())
	}
}

func TestStart_SupersedesActiveSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memstore.New()
	m := session.NewManager(st)

	first, err := m.Start(ctx, "user-1")
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := m.AppendFragment(ctx, first, "they is practicing speech", nil); err != nil {
		t.Fatalf("AppendFragment: %v", err)
	}

	second, err := m.Start(ctx, "user-1")
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if first == second {
		t.Fatal("second Start reused the first session ID")
	}
	if got, _ := m.ActiveSessionID("user-1"); got != second {
		t.Fatalf("ActiveSessionID = %q, want %q", got, second)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", m.ActiveCount())
	}

	rec, err := st.GetSession(ctx, first)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !rec.Ended {
		t.Fatal("superseded session was not finalized")
	}
	if _, err := m.AppendFragment(ctx, first, "more", nil); !errors.Is(err, session.ErrSessionNotActive) {
		t.Fatalf("superseded session fragment error = %v, want ErrSessionNotActive", err)
	}
}

func TestEnd_GeneratorFailureDegradesToDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memstore.New()
	gen := &mock.Generator{PersonalityErr: errors.New("model overloaded")}
	m := session.NewManager(st, session.WithGenerator(gen))

	id, err := m.Start(ctx, "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.AppendFragment(ctx, id, "hello there everyone", nil); err != nil {
		t.Fatalf("AppendFragment: %v", err)
	}

	report, err := m.End(ctx, id)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	want := coach.DefaultPersonality()
	if report.Personality == nil || report.Personality.PrimaryType != want.PrimaryType {
		t.Fatalf("report personality = %+v, want default profile", report.Personality)
	}

	rec, err := st.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.Personality == nil || rec.Personality.PrimaryType != want.PrimaryType {
		t.Fatal("default personality was not persisted")
	}
}

func TestEnd_PassesPreviousPersonality(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memstore.New()
	gen := &mock.Generator{PersonalityResult: validPersonality()}
	m := session.NewManager(st, session.WithGenerator(gen))

	first, err := m.Start(ctx, "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.AppendFragment(ctx, first, "the first session transcript", nil); err != nil {
		t.Fatalf("AppendFragment: %v", err)
	}
	if _, err := m.End(ctx, first); err != nil {
		t.Fatalf("first End: %v", err)
	}

	second, err := m.Start(ctx, "user-1")
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if _, err := m.AppendFragment(ctx, second, "the second session transcript", nil); err != nil {
		t.Fatalf("AppendFragment: %v", err)
	}
	if _, err := m.End(ctx, second); err != nil {
		t.Fatalf("second End: %v", err)
	}

	calls := gen.PersonalityCalls
	if len(calls) != 2 {
		t.Fatalf("AnalyzePersonality calls = %d, want 2", len(calls))
	}
	if calls[0].Previous != nil {
		t.Fatal("first analysis received a previous profile")
	}
	if calls[1].Previous == nil || calls[1].Previous.PrimaryType != "Analytical Presenter" {
		t.Fatalf("second analysis previous = %+v, want first session's profile", calls[1].Previous)
	}
}

func TestProgress_TrackedIssuesAccumulate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memstore.New()
	m := session.NewManager(st)

	for range 2 {
		id, err := m.Start(ctx, "user-1")
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, err := m.AppendFragment(ctx, id, "they is saying things wrong", nil); err != nil {
			t.Fatalf("AppendFragment: %v", err)
		}
		if _, err := m.End(ctx, id); err != nil {
			t.Fatalf("End: %v", err)
		}
	}

	prog, err := st.GetProgress(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if got := prog.TrackedIssues[analysis.IssueSubjectVerb]; got != 2 {
		t.Fatalf("TrackedIssues[%q] = %d, want 2", analysis.IssueSubjectVerb, got)
	}
}

func TestDisconnect_FinalizesLikeEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memstore.New()
	emitter := newRecorderEmitter()
	m := session.NewManager(st, session.WithEmitter(emitter))

	id, err := m.Start(ctx, "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.AppendFragment(ctx, id, "talking before the connection drops", nil); err != nil {
		t.Fatalf("AppendFragment: %v", err)
	}

	if err := m.Disconnect(ctx, id); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	rec, err := st.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !rec.Ended {
		t.Fatal("disconnected session was not finalized")
	}
	if _, err := st.GetProgress(ctx, "user-1"); err != nil {
		t.Fatalf("GetProgress after disconnect: %v", err)
	}
	if emitter.reportCount() != 1 {
		t.Fatalf("reports emitted = %d, want 1", emitter.reportCount())
	}

	// Disconnecting an unknown or already finalized session is a no-op.
	if err := m.Disconnect(ctx, id); err != nil {
		t.Fatalf("repeated Disconnect: %v", err)
	}
	if err := m.Disconnect(ctx, "no-such-session"); err != nil {
		t.Fatalf("unknown Disconnect: %v", err)
	}
}

func TestFeedback_EmittedAndPersisted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memstore.New()
	emitter := newRecorderEmitter()
	gen := &mock.Generator{
		FeedbackResult: []coach.FeedbackItem{
			{Type: coach.FeedbackSuggestion, Category: "pace", Message: "Slow down a little."},
		},
	}
	m := session.NewManager(st, session.WithGenerator(gen), session.WithEmitter(emitter))

	id, err := m.Start(ctx, "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.AppendFragment(ctx, id, "let me tell you about the plan", nil); err != nil {
		t.Fatalf("AppendFragment: %v", err)
	}

	select {
	case items := <-emitter.feedback:
		if len(items) != 1 || items[0].Message != "Slow down a little." {
			t.Fatalf("feedback items = %+v", items)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feedback")
	}

	stored, err := st.FeedbackForSession(ctx, id)
	if err != nil {
		t.Fatalf("FeedbackForSession: %v", err)
	}
	if len(stored) != 1 || stored[0].Category != "pace" {
		t.Fatalf("stored feedback = %+v", stored)
	}
}

func TestFeedback_FallbackOnGeneratorError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	emitter := newRecorderEmitter()
	gen := &mock.Generator{FeedbackErr: errors.New("timeout")}
	m := session.NewManager(memstore.New(), session.WithGenerator(gen), session.WithEmitter(emitter))

	id, err := m.Start(ctx, "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.AppendFragment(ctx, id, "testing the fallback path", nil); err != nil {
		t.Fatalf("AppendFragment: %v", err)
	}

	select {
	case items := <-emitter.feedback:
		want := coach.DefaultFeedback()
		if len(items) != 1 || items[0].Message != want[0].Message {
			t.Fatalf("feedback items = %+v, want default feedback", items)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fallback feedback")
	}
}

func TestFeedback_LateResultsDiscardedAfterEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memstore.New()
	emitter := newRecorderEmitter()
	release := make(chan struct{})
	gen := &mock.Generator{
		FeedbackResult: []coach.FeedbackItem{
			{Type: coach.FeedbackPraise, Category: "clarity", Message: "Nicely put."},
		},
		FeedbackDelay:     release,
		PersonalityResult: validPersonality(),
	}
	m := session.NewManager(st, session.WithGenerator(gen), session.WithEmitter(emitter))

	id, err := m.Start(ctx, "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.AppendFragment(ctx, id, "a fragment whose feedback arrives late", nil); err != nil {
		t.Fatalf("AppendFragment: %v", err)
	}
	if _, err := m.End(ctx, id); err != nil {
		t.Fatalf("End: %v", err)
	}
	close(release)

	select {
	case items := <-emitter.feedback:
		t.Fatalf("late feedback was emitted: %+v", items)
	case <-time.After(100 * time.Millisecond):
	}
	stored, err := st.FeedbackForSession(ctx, id)
	if err != nil {
		t.Fatalf("FeedbackForSession: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("late feedback was persisted: %+v", stored)
	}
}

func TestEnd_PersistenceRetrySucceeds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := &flakyStore{Store: memstore.New(), failures: 1}
	m := session.NewManager(st)

	id, err := m.Start(ctx, "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.AppendFragment(ctx, id, "words worth saving", nil); err != nil {
		t.Fatalf("AppendFragment: %v", err)
	}

	if _, err := m.End(ctx, id); err != nil {
		t.Fatalf("End after one save failure: %v", err)
	}
	if got := st.endedAttempts(); got != 2 {
		t.Fatalf("save attempts = %d, want 2", got)
	}
	rec, err := st.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !rec.Ended {
		t.Fatal("retried save did not persist the ended record")
	}
}

func TestEnd_PersistenceFailureStillEndsSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := &flakyStore{Store: memstore.New(), failures: 2}
	m := session.NewManager(st)

	id, err := m.Start(ctx, "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.AppendFragment(ctx, id, "words lost to the outage", nil); err != nil {
		t.Fatalf("AppendFragment: %v", err)
	}

	report, err := m.End(ctx, id)
	if !errors.Is(err, session.ErrPersistence) {
		t.Fatalf("End error = %v, want ErrPersistence", err)
	}
	if report == nil || report.DurationSeconds < 0 {
		t.Fatalf("report = %+v, want a valid report despite the error", report)
	}

	// The session is ended locally and a repeated End returns the report.
	again, err := m.End(ctx, id)
	if err != nil {
		t.Fatalf("repeated End: %v", err)
	}
	if again != report {
		t.Fatal("repeated End did not return the stored report")
	}
}

func TestShutdown_FinalizesAllSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memstore.New()
	m := session.NewManager(st)

	ids := make([]string, 0, 3)
	for _, user := range []string{"a", "b", "c"} {
		id, err := m.Start(ctx, user)
		if err != nil {
			t.Fatalf("Start(%s): %v", user, err)
		}
		if _, err := m.AppendFragment(ctx, id, "closing time", nil); err != nil {
			t.Fatalf("AppendFragment: %v", err)
		}
		ids = append(ids, id)
	}

	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d, want 0", m.ActiveCount())
	}
	for _, id := range ids {
		rec, err := st.GetSession(ctx, id)
		if err != nil {
			t.Fatalf("GetSession(%s): %v", id, err)
		}
		if !rec.Ended {
			t.Fatalf("session %s not finalized by Shutdown", id)
		}
	}
}

func TestReport_PaceRating(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	m := session.NewManager(memstore.New(), session.WithClock(clock.Now))

	id, err := m.Start(ctx, "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	// 10 words over 10 seconds is 60 WPM, well below the optimal band.
	clock.Advance(10 * time.Second)
	if _, err := m.AppendFragment(ctx, id, "one two three four five six seven eight nine ten", nil); err != nil {
		t.Fatalf("AppendFragment: %v", err)
	}

	report, err := m.End(ctx, id)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if report.Pace != analysis.PaceTooSlow {
		t.Fatalf("Pace = %q, want %q", report.Pace, analysis.PaceTooSlow)
	}
	if report.PaceSuggestion == "" {
		t.Fatal("PaceSuggestion is empty")
	}
	if report.DurationSeconds != 10 {
		t.Fatalf("DurationSeconds = %d, want 10", report.DurationSeconds)
	}
}

func TestEnd_RecomputesFinalMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memstore.New()
	clock := newFakeClock()
	m := session.NewManager(st, session.WithClock(clock.Now))

	id, err := m.Start(ctx, "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	// 10 words over 4 seconds is 150 WPM, inside the optimal band.
	clock.Advance(4 * time.Second)
	metrics, err := m.AppendFragment(ctx, id, "one two three four five six seven eight nine ten", nil)
	if err != nil {
		t.Fatalf("AppendFragment: %v", err)
	}
	if metrics.WordsPerMinute != 150 {
		t.Fatalf("fragment WordsPerMinute = %d, want 150", metrics.WordsPerMinute)
	}

	// The speaker goes silent; the session ends at the 100 second mark, so the
	// final rate covers the whole session: 10 words over 100 seconds is 6 WPM.
	clock.Advance(96 * time.Second)
	report, err := m.End(ctx, id)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if report.Metrics.WordsPerMinute != 6 {
		t.Fatalf("final WordsPerMinute = %d, want 6", report.Metrics.WordsPerMinute)
	}
	if report.Pace != analysis.PaceTooSlow {
		t.Fatalf("Pace = %q, want %q", report.Pace, analysis.PaceTooSlow)
	}
	if report.DurationSeconds != 100 {
		t.Fatalf("DurationSeconds = %d, want 100", report.DurationSeconds)
	}

	rec, err := st.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.Metrics.WordsPerMinute != 6 {
		t.Fatalf("persisted WordsPerMinute = %d, want 6", rec.Metrics.WordsPerMinute)
	}
}

func TestEnd_NoFragmentsUsesEngineBaseline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	m := session.NewManager(memstore.New(), session.WithClock(clock.Now))

	id, err := m.Start(ctx, "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	clock.Advance(5 * time.Second)

	report, err := m.End(ctx, id)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if report.Metrics.ClarityScore != 100 {
		t.Fatalf("ClarityScore = %d, want 100", report.Metrics.ClarityScore)
	}
	if report.Metrics.ConfidenceLevel != 70 {
		t.Fatalf("ConfidenceLevel = %d, want 70", report.Metrics.ConfidenceLevel)
	}
	if report.Metrics.WordsPerMinute != 0 {
		t.Fatalf("WordsPerMinute = %d, want 0", report.Metrics.WordsPerMinute)
	}
}

// feedbackOrderStore flags feedback items that arrive after the session's
// final save, which must never happen.
type feedbackOrderStore struct {
	store.Store

	mu    sync.Mutex
	ended map[string]bool
	late  int
}

func (f *feedbackOrderStore) SaveSession(ctx context.Context, rec *store.SessionRecord) error {
	err := f.Store.SaveSession(ctx, rec)
	f.mu.Lock()
	if rec.Ended {
		f.ended[rec.ID] = true
	}
	f.mu.Unlock()
	return err
}

func (f *feedbackOrderStore) AppendFeedback(ctx context.Context, item *store.FeedbackItem) error {
	f.mu.Lock()
	if f.ended[item.SessionID] {
		f.late++
	}
	f.mu.Unlock()
	return f.Store.AppendFeedback(ctx, item)
}

func (f *feedbackOrderStore) lateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.late
}

func TestFeedback_RacingEndNeverPersistsLate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := &feedbackOrderStore{Store: memstore.New(), ended: make(map[string]bool)}

	for i := 0; i < 50; i++ {
		release := make(chan struct{})
		gen := &mock.Generator{
			FeedbackResult:    []coach.FeedbackItem{{Type: coach.FeedbackPraise, Category: "delivery", Message: "nice pacing"}},
			FeedbackDelay:     release,
			PersonalityResult: validPersonality(),
		}
		m := session.NewManager(st, session.WithGenerator(gen))

		id, err := m.Start(ctx, "user-race")
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, err := m.AppendFragment(ctx, id, "they is ready to go", nil); err != nil {
			t.Fatalf("AppendFragment: %v", err)
		}

		// Race the generator result against finalization.
		go close(release)
		if _, err := m.End(ctx, id); err != nil {
			t.Fatalf("End: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if n := st.lateCount(); n > 0 {
		t.Fatalf("%d feedback items persisted after the final session save", n)
	}
}
