package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlUsers = `
CREATE TABLE IF NOT EXISTS users (
    id               TEXT         PRIMARY KEY,
    username         TEXT         NOT NULL,
    personality_type TEXT         NOT NULL DEFAULT '',
    level            TEXT         NOT NULL DEFAULT 'Beginner',
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username
    ON users (username);
`

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id               TEXT         PRIMARY KEY,
    user_id          TEXT         NOT NULL,
    started_at       TIMESTAMPTZ  NOT NULL,
    duration_seconds INTEGER      NOT NULL DEFAULT 0,
    metrics          JSONB        NOT NULL DEFAULT '{}',
    transcript       TEXT         NOT NULL DEFAULT '',
    personality      JSONB,
    ended            BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_id
    ON sessions (user_id);

CREATE INDEX IF NOT EXISTS idx_sessions_user_started
    ON sessions (user_id, started_at DESC);
`

const ddlSessionFeedback = `
CREATE TABLE IF NOT EXISTS session_feedback (
    seq        BIGSERIAL    PRIMARY KEY,
    id         TEXT         NOT NULL,
    session_id TEXT         NOT NULL,
    type       TEXT         NOT NULL,
    category   TEXT         NOT NULL DEFAULT '',
    message    TEXT         NOT NULL,
    timestamp  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_feedback_session
    ON session_feedback (session_id, seq);
`

const ddlUserProgress = `
CREATE TABLE IF NOT EXISTS user_progress (
    user_id             TEXT         PRIMARY KEY,
    total_speaking_time INTEGER      NOT NULL DEFAULT 0,
    streak_days         INTEGER      NOT NULL DEFAULT 0,
    tracked_issues      JSONB        NOT NULL DEFAULT '{}',
    personality_traits  JSONB        NOT NULL DEFAULT '{}',
    improvement_areas   JSONB        NOT NULL DEFAULT '[]',
    last_session_at     TIMESTAMPTZ,
    updated_at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlUsers,
		ddlSessions,
		ddlSessionFeedback,
		ddlUserProgress,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
