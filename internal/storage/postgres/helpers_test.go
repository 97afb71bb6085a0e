package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from the memories and settings tables.
// Exported so the postgres_test package can call it.
func (s *MemoryStore) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE memories, settings RESTART IDENTITY")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate: %w", err)
	}
	return nil
}
