package sqlite

// Schema creates the memories and settings tables. Timestamps are stored as
// unix milliseconds so range predicates compare numerically.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	memory_type             TEXT    NOT NULL DEFAULT 'contextual',
	content                 TEXT    NOT NULL,
	key_entities            TEXT,
	base_importance_score   REAL    NOT NULL,
	llm_importance_score    REAL,
	user_score_adjustment   INTEGER NOT NULL DEFAULT 0 CHECK (user_score_adjustment BETWEEN -3 AND 3),
	final_importance_score  REAL    NOT NULL CHECK (final_importance_score BETWEEN 1 AND 10),
	score_source            TEXT    NOT NULL DEFAULT 'rule',
	user_rated              INTEGER NOT NULL DEFAULT 0,
	user_rated_at           INTEGER,
	llm_processed           INTEGER NOT NULL DEFAULT 0,
	embedding               BLOB,
	source_conversation_id  INTEGER,
	related_entry_id        INTEGER,
	is_active               INTEGER NOT NULL DEFAULT 1,
	access_count            INTEGER NOT NULL DEFAULT 0,
	created_at              INTEGER NOT NULL,
	last_accessed_at        INTEGER,
	marked_for_deletion     INTEGER NOT NULL DEFAULT 0,
	marked_for_deletion_at  INTEGER,
	deletion_reason         TEXT,
	archived                INTEGER NOT NULL DEFAULT 0,
	archived_at             INTEGER
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_active_content
	ON memories(content) WHERE is_active = 1;

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
	updated_at INTEGER NOT NULL
);
`
