package types

// LifecycleState is the derived position of a memory in the retirement pipeline.
// It is computed from the stored flags and never persisted.
type LifecycleState string

// Lifecycle state constants
const (
	StateActive            LifecycleState = "active"
	StateMarkedForDeletion LifecycleState = "marked_for_deletion"
	StateArchived          LifecycleState = "archived"
)

// State derives the lifecycle state from the record's flags.
func (m *MemoryRecord) State() LifecycleState {
	switch {
	case m.Archived:
		return StateArchived
	case m.MarkedForDeletion:
		return StateMarkedForDeletion
	default:
		return StateActive
	}
}
