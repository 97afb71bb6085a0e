// Package sqlite implements storage.Store on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/mnemo/internal/storage"
	"github.com/scrypster/mnemo/pkg/types"
)

// MemoryStore implements storage.Store using SQLite.
type MemoryStore struct {
	db *sql.DB
}

var _ storage.Store = (*MemoryStore)(nil)

// dialect renders flags as 0/1 integers and timestamps as unix milliseconds.
var dialect = storage.Dialect{
	Placeholder: func(int) string { return "?" },
	Bool:        func(b bool) any { return boolToInt(b) },
	Time:        func(t time.Time) any { return t.UnixMilli() },
}

// NewMemoryStore opens (or creates) a SQLite database with WAL self-healing.
// If the initial open fails due to stale WAL files left behind by a crashed
// process, it verifies no other process holds them and retries once after
// removing the stale -shm/-wal files.
func NewMemoryStore(dsn string) (*MemoryStore, error) {
	store, err := openMemoryStore(dsn)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}

	if rmErr := removeStaleWAL(dbPath); rmErr != nil {
		return nil, fmt.Errorf("stale WAL cleanup failed: %w (original: %v)", rmErr, err)
	}

	store, retryErr := openMemoryStore(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}
	return store, nil
}

func openMemoryStore(dsn string) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports a single writer. One connection serialises writes, which
	// also makes the dedup transaction in InsertOrTouch exclusive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &MemoryStore{db: db}, nil
}

const insertMemorySQL = `INSERT INTO memories (
	memory_type, content, key_entities,
	base_importance_score, llm_importance_score, user_score_adjustment,
	final_importance_score, score_source, user_rated, user_rated_at, llm_processed,
	embedding, source_conversation_id, related_entry_id,
	is_active, access_count, created_at, last_accessed_at,
	marked_for_deletion, marked_for_deletion_at, deletion_reason,
	archived, archived_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func insertArgs(r *types.MemoryRecord) ([]any, error) {
	var entities any
	if len(r.KeyEntities) > 0 {
		b, err := json.Marshal(r.KeyEntities)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal key entities: %w", err)
		}
		entities = string(b)
	}

	var embedding any
	if len(r.Embedding) > 0 {
		embedding = storage.EncodeEmbedding(r.Embedding)
	}

	var reason any
	if r.DeletionReason != "" {
		reason = r.DeletionReason
	}

	return []any{
		string(r.MemoryType), r.Content, entities,
		r.BaseImportanceScore, nullFloat(r.LLMImportanceScore), r.UserScoreAdjustment,
		r.FinalImportanceScore, string(r.ScoreSource), boolToInt(r.UserRated), nullMillis(r.UserRatedAt), boolToInt(r.LLMProcessed),
		embedding, nullInt(r.SourceConversationID), nullInt(r.RelatedEntryID),
		boolToInt(r.IsActive), r.AccessCount, r.CreatedAt.UnixMilli(), nullMillis(r.LastAccessedAt),
		boolToInt(r.MarkedForDeletion), nullMillis(r.MarkedForDeletionAt), reason,
		boolToInt(r.Archived), nullMillis(r.ArchivedAt),
	}, nil
}

func validateRecord(r *types.MemoryRecord) error {
	if r == nil {
		return storage.ErrInvalidInput
	}
	if r.Content == "" {
		return fmt.Errorf("%w: memory content is required", storage.ErrInvalidInput)
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", storage.ErrInvalidInput)
	}
	return nil
}

// Insert writes a new record. Returns storage.ErrDuplicateContent if an
// active record with the same content exists.
func (s *MemoryStore) Insert(ctx context.Context, record *types.MemoryRecord) (int64, error) {
	if err := validateRecord(record); err != nil {
		return 0, err
	}
	args, err := insertArgs(record)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, insertMemorySQL, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %q", storage.ErrDuplicateContent, record.Content)
		}
		return 0, fmt.Errorf("failed to insert memory: %w", err)
	}
	return res.LastInsertId()
}

// InsertOrTouch inserts record unless an active record with the same content
// exists, in which case that record is touched instead.
func (s *MemoryStore) InsertOrTouch(ctx context.Context, record *types.MemoryRecord, now time.Time) (int64, bool, error) {
	if err := validateRecord(record); err != nil {
		return 0, false, err
	}
	args, err := insertArgs(record)
	if err != nil {
		return 0, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, insertMemorySQL+" ON CONFLICT DO NOTHING", args...)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert memory: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 1 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("failed to read insert id: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("failed to commit insert: %w", err)
		}
		return id, true, nil
	}

	var id int64
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM memories WHERE content = ? AND is_active = 1", record.Content).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("failed to locate duplicate memory: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?",
		now.UnixMilli(), id); err != nil {
		return 0, false, fmt.Errorf("failed to touch duplicate memory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit touch: %w", err)
	}
	return id, false, nil
}

// FindActiveByContent returns the active record with identical content.
func (s *MemoryStore) FindActiveByContent(ctx context.Context, content string) (*types.MemoryRecord, error) {
	records, err := s.SelectWhere(ctx, storage.Query{
		Where: storage.Predicate{Content: &content, IsActive: storage.Ptr(true)},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, storage.ErrNotFound
	}
	return records[0], nil
}

// Get retrieves a record by id.
func (s *MemoryStore) Get(ctx context.Context, id int64) (*types.MemoryRecord, error) {
	records, err := s.SelectWhere(ctx, storage.Query{Where: storage.Predicate{IDs: []int64{id}}})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: memory %d", storage.ErrNotFound, id)
	}
	return records[0], nil
}

// UpdateFields applies update to one record, optionally guarded.
func (s *MemoryStore) UpdateFields(ctx context.Context, id int64, update storage.FieldUpdate, guard *storage.Predicate) (bool, error) {
	if update.IsEmpty() {
		return false, fmt.Errorf("%w: empty update", storage.ErrInvalidInput)
	}

	b := storage.NewSQLBuilder(dialect)
	sets := b.Set(update)
	if len(update.Embedding) > 0 {
		sets = append(sets, "embedding = "+b.Arg(storage.EncodeEmbedding(update.Embedding)))
	}

	where := "id = " + b.Arg(id)
	if guard != nil {
		where += " AND (" + b.Where(*guard) + ")"
	}

	query := "UPDATE memories SET " + strings.Join(sets, ", ") + " WHERE " + where
	res, err := s.db.ExecContext(ctx, query, b.Args()...)
	if err != nil {
		return false, fmt.Errorf("failed to update memory %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	exists, err := s.exists(ctx, id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("%w: memory %d", storage.ErrNotFound, id)
	}
	return false, nil
}

// SelectWhere returns records matching q.
func (s *MemoryStore) SelectWhere(ctx context.Context, q storage.Query) ([]*types.MemoryRecord, error) {
	b := storage.NewSQLBuilder(dialect)
	query := "SELECT " + storage.MemoryColumns + " FROM memories WHERE " + b.Where(q.Where) +
		" " + storage.OrderClause(q.OrderBy) + " " + storage.LimitClause(q.Limit)

	rows, err := s.db.QueryContext(ctx, query, b.Args()...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var records []*types.MemoryRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memories: %w", err)
	}
	return records, nil
}

// CountWhere counts records matching p.
func (s *MemoryStore) CountWhere(ctx context.Context, p storage.Predicate) (int, error) {
	b := storage.NewSQLBuilder(dialect)
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE "+b.Where(p), b.Args()...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count memories: %w", err)
	}
	return n, nil
}

// DeleteWhere deletes records matching p in one statement.
func (s *MemoryStore) DeleteWhere(ctx context.Context, p storage.Predicate) (int, error) {
	b := storage.NewSQLBuilder(dialect)
	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE "+b.Where(p), b.Args()...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete memories: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// TouchAccessed bumps access stats for ids in one update.
func (s *MemoryStore) TouchAccessed(ctx context.Context, ids []int64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	b := storage.NewSQLBuilder(dialect)
	ts := b.Arg(now.UnixMilli())
	where := b.Where(storage.Predicate{IDs: ids})
	query := "UPDATE memories SET access_count = access_count + 1, last_accessed_at = " + ts + " WHERE " + where
	if _, err := s.db.ExecContext(ctx, query, b.Args()...); err != nil {
		return fmt.Errorf("failed to touch memories: %w", err)
	}
	return nil
}

// GetSetting returns a stored setting value.
func (s *MemoryStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: setting %q", storage.ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	return value, nil
}

// SetSetting upserts a setting value.
func (s *MemoryStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write setting %q: %w", key, err)
	}
	return nil
}

// Close closes the database connection.
func (s *MemoryStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *MemoryStore) exists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM memories WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check memory %d: %w", id, err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.MemoryRecord, error) {
	var (
		r                                  types.MemoryRecord
		memoryType, scoreSource            string
		entities, reason                   sql.NullString
		llmScore                           sql.NullFloat64
		userRated, llmProcessed, isActive  int
		marked, archived                   int
		embedding                          []byte
		sourceConv, relatedEntry           sql.NullInt64
		createdAt                          int64
		ratedAt, lastAccess, markedAt, arc sql.NullInt64
	)

	err := row.Scan(
		&r.ID, &memoryType, &r.Content, &entities,
		&r.BaseImportanceScore, &llmScore, &r.UserScoreAdjustment,
		&r.FinalImportanceScore, &scoreSource, &userRated, &ratedAt, &llmProcessed,
		&embedding, &sourceConv, &relatedEntry,
		&isActive, &r.AccessCount, &createdAt, &lastAccess,
		&marked, &markedAt, &reason,
		&archived, &arc,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan memory: %w", err)
	}

	r.MemoryType = types.MemoryType(memoryType)
	r.ScoreSource = types.ScoreSource(scoreSource)
	if entities.Valid && entities.String != "" {
		if err := json.Unmarshal([]byte(entities.String), &r.KeyEntities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal key entities for memory %d: %w", r.ID, err)
		}
	}
	if llmScore.Valid {
		v := llmScore.Float64
		r.LLMImportanceScore = &v
	}
	r.UserRated = userRated != 0
	r.UserRatedAt = millisPtr(ratedAt)
	r.LLMProcessed = llmProcessed != 0

	if r.Embedding, err = storage.DecodeEmbedding(embedding); err != nil {
		return nil, fmt.Errorf("memory %d: %w", r.ID, err)
	}
	if sourceConv.Valid {
		v := sourceConv.Int64
		r.SourceConversationID = &v
	}
	if relatedEntry.Valid {
		v := relatedEntry.Int64
		r.RelatedEntryID = &v
	}

	r.IsActive = isActive != 0
	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	r.LastAccessedAt = millisPtr(lastAccess)
	r.MarkedForDeletion = marked != 0
	r.MarkedForDeletionAt = millisPtr(markedAt)
	r.DeletionReason = reason.String
	r.Archived = archived != 0
	r.ArchivedAt = millisPtr(arc)

	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func millisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// dbPathFromDSN extracts the filesystem path from a DSN, or "" for in-memory databases.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}

	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" {
			return ""
		}
		return path
	}

	return dsn
}

// isRecoverableWALError matches the errors stale WAL files produce after a
// crash (SIGKILL, OOM).
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "database is locked")
}

// isWALStale reports whether -shm/-wal files exist for dbPath and no process
// holds them open. Returns false when lsof is unavailable.
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"

	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}

	out, err := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath).Output()
	if err != nil {
		// lsof exits 1 when nothing holds the files.
		return true
	}
	return strings.TrimSpace(string(out)) == ""
}

func removeStaleWAL(dbPath string) error {
	for _, suffix := range []string{"-shm", "-wal"} {
		if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
