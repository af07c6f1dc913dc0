package domain

import "time"

// ChangeDescriptor is what other clients are told about a committed mutation.
// It is enough to decide whether to refetch; it does not carry the snapshot.
type ChangeDescriptor struct {
	Kind              Kind      `json:"kind"`
	StateKey          string    `json:"stateKey"`
	BoardID           string    `json:"boardId,omitempty"`
	AffectedColumnIDs []string  `json:"affectedColumnIds,omitempty"`
	TaskID            string    `json:"taskId,omitempty"`
	Actor             string    `json:"actor,omitempty"`
	Version           uint64    `json:"version"`
	Time              time.Time `json:"time"`
}

// Describe builds the descriptor for a change committed under key.
func (c Change) Describe(key, actor string, version uint64, at time.Time) ChangeDescriptor {
	return ChangeDescriptor{
		Kind:              c.Kind,
		StateKey:          key,
		BoardID:           c.BoardID,
		AffectedColumnIDs: cloneStrings(c.ColumnIDs),
		TaskID:            c.TaskID,
		Actor:             actor,
		Version:           version,
		Time:              at.UTC().Round(0),
	}
}
