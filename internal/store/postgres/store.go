// Package postgres provides a PostgreSQL-backed implementation of
// [store.Store]. All operations share a single [pgxpool.Pool]; [Migrate]
// creates the schema idempotently and runs automatically from [New].
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cadenza-coach/cadenza/internal/analysis"
	"github.com/cadenza-coach/cadenza/internal/coach"
	"github.com/cadenza-coach/cadenza/internal/store"
)

var _ store.Store = (*Store)(nil)

const defaultSessionLimit = 20

// Store is the PostgreSQL-backed [store.Store].
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the PostgreSQL database at dsn, verifies the connection
// and runs [Migrate] to ensure the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database connection. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetUser implements [store.Store].
func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	const q = `
		SELECT id, username, personality_type, level, created_at
		FROM   users
		WHERE  id = $1`

	var u store.User
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&u.ID, &u.Username, &u.PersonalityType, &u.Level, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get user: %w", err)
	}
	return &u, nil
}

// CreateUser implements [store.Store].
func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	const q = `
		INSERT INTO users (id, username, personality_type, level, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, q, u.ID, u.Username, u.PersonalityType, u.Level, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: create user: %w", err)
	}
	return nil
}

// UpdateUser implements [store.Store].
func (s *Store) UpdateUser(ctx context.Context, u *store.User) error {
	const q = `
		UPDATE users
		SET    username = $2, personality_type = $3, level = $4
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, u.ID, u.Username, u.PersonalityType, u.Level)
	if err != nil {
		return fmt.Errorf("postgres store: update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SaveSession implements [store.Store]. The record is upserted so that a live
// session can be saved repeatedly and finalized in place.
func (s *Store) SaveSession(ctx context.Context, rec *store.SessionRecord) error {
	metricsJSON, err := json.Marshal(rec.Metrics)
	if err != nil {
		return fmt.Errorf("postgres store: marshal metrics: %w", err)
	}
	var personalityJSON []byte
	if rec.Personality != nil {
		personalityJSON, err = json.Marshal(rec.Personality)
		if err != nil {
			return fmt.Errorf("postgres store: marshal personality: %w", err)
		}
	}

	const q = `
		INSERT INTO sessions
		    (id, user_id, started_at, duration_seconds, metrics, transcript, personality, ended, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
		    duration_seconds = EXCLUDED.duration_seconds,
		    metrics          = EXCLUDED.metrics,
		    transcript       = EXCLUDED.transcript,
		    personality      = EXCLUDED.personality,
		    ended            = EXCLUDED.ended`

	_, err = s.pool.Exec(ctx, q,
		rec.ID,
		rec.UserID,
		rec.StartedAt,
		rec.DurationSeconds,
		metricsJSON,
		rec.Transcript,
		personalityJSON,
		rec.Ended,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save session: %w", err)
	}
	return nil
}

// GetSession implements [store.Store].
func (s *Store) GetSession(ctx context.Context, id string) (*store.SessionRecord, error) {
	const q = `
		SELECT id, user_id, started_at, duration_seconds, metrics, transcript, personality, ended, created_at
		FROM   sessions
		WHERE  id = $1`

	rec, err := scanSession(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get session: %w", err)
	}
	return rec, nil
}

// SessionsForUser implements [store.Store].
func (s *Store) SessionsForUser(ctx context.Context, userID string, limit int) ([]store.SessionRecord, error) {
	if limit <= 0 {
		limit = defaultSessionLimit
	}

	const q = `
		SELECT id, user_id, started_at, duration_seconds, metrics, transcript, personality, ended, created_at
		FROM   sessions
		WHERE  user_id = $1
		ORDER  BY started_at DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: sessions for user: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.SessionRecord, error) {
		rec, err := scanSession(row)
		if err != nil {
			return store.SessionRecord{}, err
		}
		return *rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan sessions: %w", err)
	}
	if recs == nil {
		recs = []store.SessionRecord{}
	}
	return recs, nil
}

// ActiveSessionForUser implements [store.Store].
func (s *Store) ActiveSessionForUser(ctx context.Context, userID string) (*store.SessionRecord, error) {
	const q = `
		SELECT id, user_id, started_at, duration_seconds, metrics, transcript, personality, ended, created_at
		FROM   sessions
		WHERE  user_id = $1
		  AND  NOT ended
		ORDER  BY started_at DESC
		LIMIT  1`

	rec, err := scanSession(s.pool.QueryRow(ctx, q, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: active session for user: %w", err)
	}
	return rec, nil
}

// AppendFeedback implements [store.Store]. Arrival order is preserved by the
// BIGSERIAL seq column.
func (s *Store) AppendFeedback(ctx context.Context, item *store.FeedbackItem) error {
	const q = `
		INSERT INTO session_feedback (id, session_id, type, category, message, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		item.ID, item.SessionID, string(item.Type), item.Category, item.Message, item.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres store: append feedback: %w", err)
	}
	return nil
}

// FeedbackForSession implements [store.Store].
func (s *Store) FeedbackForSession(ctx context.Context, sessionID string) ([]store.FeedbackItem, error) {
	const q = `
		SELECT id, session_id, type, category, message, timestamp
		FROM   session_feedback
		WHERE  session_id = $1
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: feedback for session: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.FeedbackItem, error) {
		var (
			item store.FeedbackItem
			typ  string
		)
		if err := row.Scan(&item.ID, &item.SessionID, &typ, &item.Category, &item.Message, &item.Timestamp); err != nil {
			return store.FeedbackItem{}, err
		}
		item.Type = coach.FeedbackType(typ)
		return item, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan feedback: %w", err)
	}
	if items == nil {
		items = []store.FeedbackItem{}
	}
	return items, nil
}

// GetProgress implements [store.Store].
func (s *Store) GetProgress(ctx context.Context, userID string) (*store.UserProgress, error) {
	const q = `
		SELECT user_id, total_speaking_time, streak_days, tracked_issues,
		       personality_traits, improvement_areas, last_session_at, updated_at
		FROM   user_progress
		WHERE  user_id = $1`

	var (
		p             store.UserProgress
		issuesJSON    []byte
		traitsJSON    []byte
		areasJSON     []byte
		lastSessionAt *time.Time
	)
	err := s.pool.QueryRow(ctx, q, userID).Scan(
		&p.UserID,
		&p.TotalSpeakingTime,
		&p.StreakDays,
		&issuesJSON,
		&traitsJSON,
		&areasJSON,
		&lastSessionAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get progress: %w", err)
	}

	if err := json.Unmarshal(issuesJSON, &p.TrackedIssues); err != nil {
		return nil, fmt.Errorf("postgres store: unmarshal tracked issues: %w", err)
	}
	if err := json.Unmarshal(traitsJSON, &p.PersonalityTraits); err != nil {
		return nil, fmt.Errorf("postgres store: unmarshal personality traits: %w", err)
	}
	if err := json.Unmarshal(areasJSON, &p.ImprovementAreas); err != nil {
		return nil, fmt.Errorf("postgres store: unmarshal improvement areas: %w", err)
	}
	if lastSessionAt != nil {
		p.LastSessionAt = *lastSessionAt
	}
	return &p, nil
}

// SaveProgress implements [store.Store].
func (s *Store) SaveProgress(ctx context.Context, p *store.UserProgress) error {
	issuesJSON, err := json.Marshal(orEmptyMap(p.TrackedIssues))
	if err != nil {
		return fmt.Errorf("postgres store: marshal tracked issues: %w", err)
	}
	traitsJSON, err := json.Marshal(orEmptyMap(p.PersonalityTraits))
	if err != nil {
		return fmt.Errorf("postgres store: marshal personality traits: %w", err)
	}
	areas := p.ImprovementAreas
	if areas == nil {
		areas = []string{}
	}
	areasJSON, err := json.Marshal(areas)
	if err != nil {
		return fmt.Errorf("postgres store: marshal improvement areas: %w", err)
	}

	var lastSessionAt *time.Time
	if !p.LastSessionAt.IsZero() {
		lastSessionAt = &p.LastSessionAt
	}

	const q = `
		INSERT INTO user_progress
		    (user_id, total_speaking_time, streak_days, tracked_issues,
		     personality_traits, improvement_areas, last_session_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (user_id) DO UPDATE SET
		    total_speaking_time = EXCLUDED.total_speaking_time,
		    streak_days         = EXCLUDED.streak_days,
		    tracked_issues      = EXCLUDED.tracked_issues,
		    personality_traits  = EXCLUDED.personality_traits,
		    improvement_areas   = EXCLUDED.improvement_areas,
		    last_session_at     = EXCLUDED.last_session_at,
		    updated_at          = now()`

	_, err = s.pool.Exec(ctx, q,
		p.UserID,
		p.TotalSpeakingTime,
		p.StreakDays,
		issuesJSON,
		traitsJSON,
		areasJSON,
		lastSessionAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save progress: %w", err)
	}
	return nil
}

type sessionRow interface {
	Scan(dest ...any) error
}

func scanSession(row sessionRow) (*store.SessionRecord, error) {
	var (
		rec             store.SessionRecord
		metricsJSON     []byte
		personalityJSON []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.StartedAt,
		&rec.DurationSeconds,
		&metricsJSON,
		&rec.Transcript,
		&personalityJSON,
		&rec.Ended,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Metrics = analysis.Metrics{}
	if len(metricsJSON) > 0 {
		if err := json.Unmarshal(metricsJSON, &rec.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
	}
	if len(personalityJSON) > 0 {
		var p coach.PersonalityAnalysis
		if err := json.Unmarshal(personalityJSON, &p); err != nil {
			return nil, fmt.Errorf("unmarshal personality: %w", err)
		}
		rec.Personality = &p
	}
	return &rec, nil
}

func orEmptyMap(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
