// Package postgres provides a PostgreSQL implementation of storage.Store.
package postgres

// Schema creates the memories and settings tables. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    id                      BIGSERIAL PRIMARY KEY,
    memory_type             TEXT             NOT NULL DEFAULT 'contextual',
    content                 TEXT             NOT NULL,
    key_entities            JSONB,
    base_importance_score   DOUBLE PRECISION NOT NULL,
    llm_importance_score    DOUBLE PRECISION,
    user_score_adjustment   INTEGER          NOT NULL DEFAULT 0 CHECK (user_score_adjustment BETWEEN -3 AND 3),
    final_importance_score  DOUBLE PRECISION NOT NULL CHECK (final_importance_score BETWEEN 1 AND 10),
    score_source            TEXT             NOT NULL DEFAULT 'rule',
    user_rated              BOOLEAN          NOT NULL DEFAULT FALSE,
    user_rated_at           TIMESTAMPTZ,
    llm_processed           BOOLEAN          NOT NULL DEFAULT FALSE,
    embedding               BYTEA,
    source_conversation_id  BIGINT,
    related_entry_id        BIGINT,
    is_active               BOOLEAN          NOT NULL DEFAULT TRUE,
    access_count            INTEGER          NOT NULL DEFAULT 0,
    created_at              TIMESTAMPTZ      NOT NULL,
    last_accessed_at        TIMESTAMPTZ,
    marked_for_deletion     BOOLEAN          NOT NULL DEFAULT FALSE,
    marked_for_deletion_at  TIMESTAMPTZ,
    deletion_reason         TEXT,
    archived                BOOLEAN          NOT NULL DEFAULT FALSE,
    archived_at             TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_active_content
    ON memories(content) WHERE is_active;

CREATE INDEX IF NOT EXISTS idx_memories_importance
    ON memories(is_active, final_importance_score DESC);

CREATE INDEX IF NOT EXISTS idx_memories_unscored
    ON memories(llm_processed, user_rated, created_at);

CREATE INDEX IF NOT EXISTS idx_memories_marked
    ON memories(marked_for_deletion, marked_for_deletion_at);

CREATE INDEX IF NOT EXISTS idx_memories_archived
    ON memories(archived, archived_at);

CREATE TABLE IF NOT EXISTS settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// MigrationPgvector adds a native vector copy of each embedding. Only applied
// when the vector extension is available.
const MigrationPgvector = `
ALTER TABLE memories ADD COLUMN IF NOT EXISTS embedding_vec vector;
`
