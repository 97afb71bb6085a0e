package storage

import (
	"errors"
	"time"

	"github.com/scrypster/mnemo/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateContent indicates an insert collided with an active record
	// holding identical content.
	ErrDuplicateContent = errors.New("duplicate active content")
)

// Ptr returns a pointer to v. Used to populate optional Predicate and
// FieldUpdate fields inline.
func Ptr[T any](v T) *T {
	return &v
}

// Predicate selects records. Every non-nil field narrows the selection;
// the zero Predicate matches everything.
type Predicate struct {
	IDs                 []int64
	Content             *string
	IsActive            *bool
	LLMProcessed        *bool
	UserRated           *bool
	UserScoreAdjustment *int
	MarkedForDeletion   *bool
	Archived            *bool
	HasEmbedding        *bool
	ScoreSource         *types.ScoreSource

	// IDAfter matches id > n. Paired with OrderByID it pages through a scan.
	IDAfter *int64

	// AccessCountBelow matches access_count < n.
	AccessCountBelow *int

	// CreatedBefore matches created_at <= t.
	CreatedBefore *time.Time

	// LastAccessOrCreatedBefore matches COALESCE(last_accessed_at, created_at) <= t.
	LastAccessOrCreatedBefore *time.Time

	// MarkedBefore matches marked_for_deletion_at <= t.
	MarkedBefore *time.Time

	// ArchivedBefore matches archived_at <= t.
	ArchivedBefore *time.Time
}

// OrderBy selects the result ordering for SelectWhere.
type OrderBy int

const (
	// OrderByID orders by id ascending.
	OrderByID OrderBy = iota

	// OrderByCreatedAsc orders oldest first.
	OrderByCreatedAsc

	// OrderByImportanceDesc orders by final importance score, highest first.
	OrderByImportanceDesc

	// OrderByImportanceAccessDesc orders by final importance score then
	// access count, both descending.
	OrderByImportanceAccessDesc
)

// Query combines a predicate with ordering and a row limit.
// A Limit of zero or less means no limit.
type Query struct {
	Where   Predicate
	OrderBy OrderBy
	Limit   int
}

// FieldUpdate lists the columns an UpdateFields call writes. Nil fields are
// left untouched.
type FieldUpdate struct {
	LLMImportanceScore   *float64
	FinalImportanceScore *float64
	ScoreSource          *types.ScoreSource
	LLMProcessed         *bool
	UserScoreAdjustment  *int
	UserRated            *bool
	UserRatedAt          *time.Time
	Embedding            []float32

	MarkedForDeletion   *bool
	MarkedForDeletionAt *time.Time
	DeletionReason      *string

	// ClearDeletionMark resets marked_for_deletion, marked_for_deletion_at and
	// deletion_reason. It takes precedence over the three fields above.
	ClearDeletionMark bool

	Archived   *bool
	ArchivedAt *time.Time
	IsActive   *bool
}

// IsEmpty reports whether the update writes nothing.
func (u FieldUpdate) IsEmpty() bool {
	return u.LLMImportanceScore == nil &&
		u.FinalImportanceScore == nil &&
		u.ScoreSource == nil &&
		u.LLMProcessed == nil &&
		u.UserScoreAdjustment == nil &&
		u.UserRated == nil &&
		u.UserRatedAt == nil &&
		len(u.Embedding) == 0 &&
		u.MarkedForDeletion == nil &&
		u.MarkedForDeletionAt == nil &&
		u.DeletionReason == nil &&
		!u.ClearDeletionMark &&
		u.Archived == nil &&
		u.ArchivedAt == nil &&
		u.IsActive == nil
}
