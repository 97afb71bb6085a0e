package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// MemoryColumns is the column list, in scan order, shared by the SQL backends.
const MemoryColumns = `id, memory_type, content, key_entities,
	base_importance_score, llm_importance_score, user_score_adjustment,
	final_importance_score, score_source, user_rated, user_rated_at, llm_processed,
	embedding, source_conversation_id, related_entry_id,
	is_active, access_count, created_at, last_accessed_at,
	marked_for_deletion, marked_for_deletion_at, deletion_reason,
	archived, archived_at`

// Dialect captures the differences between SQL backends that matter when
// rendering predicates and updates.
type Dialect struct {
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string

	// Bool converts a boolean to the driver value stored in flag columns.
	Bool func(b bool) any

	// Time converts a timestamp to the driver value stored in time columns.
	Time func(t time.Time) any
}

// SQLBuilder accumulates bind arguments while rendering SQL fragments.
type SQLBuilder struct {
	dialect Dialect
	args    []any
}

// NewSQLBuilder returns a builder for the given dialect.
func NewSQLBuilder(d Dialect) *SQLBuilder {
	return &SQLBuilder{dialect: d}
}

// Arg appends v to the argument list and returns its placeholder.
func (b *SQLBuilder) Arg(v any) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

// Args returns the accumulated bind arguments.
func (b *SQLBuilder) Args() []any {
	return b.args
}

func (b *SQLBuilder) boolArg(v bool) string {
	return b.Arg(b.dialect.Bool(v))
}

func (b *SQLBuilder) timeArg(t time.Time) string {
	return b.Arg(b.dialect.Time(t))
}

// Where renders p as a boolean SQL expression. The zero Predicate renders "1=1".
func (b *SQLBuilder) Where(p Predicate) string {
	var conds []string

	if p.IDs != nil {
		if len(p.IDs) == 0 {
			return "1=0"
		}
		ph := make([]string, len(p.IDs))
		for i, id := range p.IDs {
			ph[i] = b.Arg(id)
		}
		conds = append(conds, "id IN ("+strings.Join(ph, ", ")+")")
	}
	if p.IDAfter != nil {
		conds = append(conds, "id > "+b.Arg(*p.IDAfter))
	}
	if p.Content != nil {
		conds = append(conds, "content = "+b.Arg(*p.Content))
	}
	if p.IsActive != nil {
		conds = append(conds, "is_active = "+b.boolArg(*p.IsActive))
	}
	if p.LLMProcessed != nil {
		conds = append(conds, "llm_processed = "+b.boolArg(*p.LLMProcessed))
	}
	if p.UserRated != nil {
		conds = append(conds, "user_rated = "+b.boolArg(*p.UserRated))
	}
	if p.UserScoreAdjustment != nil {
		conds = append(conds, "user_score_adjustment = "+b.Arg(*p.UserScoreAdjustment))
	}
	if p.MarkedForDeletion != nil {
		conds = append(conds, "marked_for_deletion = "+b.boolArg(*p.MarkedForDeletion))
	}
	if p.Archived != nil {
		conds = append(conds, "archived = "+b.boolArg(*p.Archived))
	}
	if p.HasEmbedding != nil {
		if *p.HasEmbedding {
			conds = append(conds, "embedding IS NOT NULL")
		} else {
			conds = append(conds, "embedding IS NULL")
		}
	}
	if p.ScoreSource != nil {
		conds = append(conds, "score_source = "+b.Arg(string(*p.ScoreSource)))
	}
	if p.AccessCountBelow != nil {
		conds = append(conds, "access_count < "+b.Arg(*p.AccessCountBelow))
	}
	if p.CreatedBefore != nil {
		conds = append(conds, "created_at <= "+b.timeArg(*p.CreatedBefore))
	}
	if p.LastAccessOrCreatedBefore != nil {
		conds = append(conds, "COALESCE(last_accessed_at, created_at) <= "+b.timeArg(*p.LastAccessOrCreatedBefore))
	}
	if p.MarkedBefore != nil {
		conds = append(conds, "marked_for_deletion_at IS NOT NULL AND marked_for_deletion_at <= "+b.timeArg(*p.MarkedBefore))
	}
	if p.ArchivedBefore != nil {
		conds = append(conds, "archived_at IS NOT NULL AND archived_at <= "+b.timeArg(*p.ArchivedBefore))
	}

	if len(conds) == 0 {
		return "1=1"
	}
	return strings.Join(conds, " AND ")
}

// Set renders the assignments for u, excluding Embedding, which each backend
// encodes itself.
func (b *SQLBuilder) Set(u FieldUpdate) []string {
	var sets []string

	if u.LLMImportanceScore != nil {
		sets = append(sets, "llm_importance_score = "+b.Arg(*u.LLMImportanceScore))
	}
	if u.FinalImportanceScore != nil {
		sets = append(sets, "final_importance_score = "+b.Arg(*u.FinalImportanceScore))
	}
	if u.ScoreSource != nil {
		sets = append(sets, "score_source = "+b.Arg(string(*u.ScoreSource)))
	}
	if u.LLMProcessed != nil {
		sets = append(sets, "llm_processed = "+b.boolArg(*u.LLMProcessed))
	}
	if u.UserScoreAdjustment != nil {
		sets = append(sets, "user_score_adjustment = "+b.Arg(*u.UserScoreAdjustment))
	}
	if u.UserRated != nil {
		sets = append(sets, "user_rated = "+b.boolArg(*u.UserRated))
	}
	if u.UserRatedAt != nil {
		sets = append(sets, "user_rated_at = "+b.timeArg(*u.UserRatedAt))
	}

	if u.ClearDeletionMark {
		sets = append(sets,
			"marked_for_deletion = "+b.boolArg(false),
			"marked_for_deletion_at = NULL",
			"deletion_reason = NULL",
		)
	} else {
		if u.MarkedForDeletion != nil {
			sets = append(sets, "marked_for_deletion = "+b.boolArg(*u.MarkedForDeletion))
		}
		if u.MarkedForDeletionAt != nil {
			sets = append(sets, "marked_for_deletion_at = "+b.timeArg(*u.MarkedForDeletionAt))
		}
		if u.DeletionReason != nil {
			sets = append(sets, "deletion_reason = "+b.Arg(*u.DeletionReason))
		}
	}

	if u.Archived != nil {
		sets = append(sets, "archived = "+b.boolArg(*u.Archived))
	}
	if u.ArchivedAt != nil {
		sets = append(sets, "archived_at = "+b.timeArg(*u.ArchivedAt))
	}
	if u.IsActive != nil {
		sets = append(sets, "is_active = "+b.boolArg(*u.IsActive))
	}

	return sets
}

// OrderClause renders o as an ORDER BY clause.
func OrderClause(o OrderBy) string {
	switch o {
	case OrderByCreatedAsc:
		return "ORDER BY created_at ASC, id ASC"
	case OrderByImportanceDesc:
		return "ORDER BY final_importance_score DESC, id ASC"
	case OrderByImportanceAccessDesc:
		return "ORDER BY final_importance_score DESC, access_count DESC, id ASC"
	default:
		return "ORDER BY id ASC"
	}
}

// LimitClause renders a LIMIT clause, or "" for no limit.
func LimitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf("LIMIT %d", limit)
}

// EncodeEmbedding packs a vector as little-endian float32s.
func EncodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeEmbedding unpacks a vector written by EncodeEmbedding.
func DecodeEmbedding(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: embedding blob length %d is not a multiple of 4", ErrInvalidInput, len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
