package domain

import "time"

// Kind names a mutation. The values double as change descriptor kinds.
type Kind string

const (
	KindMove   Kind = "task-moved"
	KindCreate Kind = "task-created"
	KindEdit   Kind = "task-updated"
	KindDelete Kind = "task-deleted"
)

// Command is a description of an intended state change.
type Command interface {
	Kind() Kind
}

// MoveTask repositions a task id within a column or across two columns of
// the same board.
type MoveTask struct {
	BoardID      string `json:"boardId,omitempty"`
	TaskID       string `json:"taskId"`
	FromColumnID string `json:"fromColumnId"`
	ToColumnID   string `json:"toColumnId"`
	FromIndex    int    `json:"fromIndex"`
	ToIndex      int    `json:"toIndex"`
}

func (MoveTask) Kind() Kind { return KindMove }

// CreateTask adds a task at the end of a column.
type CreateTask struct {
	BoardID     string
	ColumnID    string
	Title       string
	Priority    Priority
	Description string
	Tags        []string
	DueDate     *time.Time
}

func (CreateTask) Kind() Kind { return KindCreate }

// EditTask merges a patch into an existing task.
type EditTask struct {
	TaskID string
	Patch  TaskPatch
}

func (EditTask) Kind() Kind { return KindEdit }

// DeleteTask removes a task and its column reference.
type DeleteTask struct {
	TaskID string
}

func (DeleteTask) Kind() Kind { return KindDelete }

// Change summarizes what a successful command touched.
type Change struct {
	Kind      Kind
	BoardID   string
	ColumnIDs []string
	TaskID    string
	// NoOp is set when the command left the state unchanged.
	NoOp bool
}

// Result is the outcome of applying a command.
type Result struct {
	State  AppState
	Change Change
}
