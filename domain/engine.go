package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultIDAttempts = 3

// NewTaskID returns a fresh random task id.
func NewTaskID() string {
	return "task-" + uuid.NewString()
}

// Engine applies commands to snapshots. It never modifies its input and holds
// no state besides the id generator and clock it was built with, so a single
// Engine may be shared freely.
type Engine struct {
	newID      func() string
	now        func() time.Time
	idAttempts int
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator replaces the task id generator.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// WithClock replaces the clock used for createdAt stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDAttempts bounds how many ids CreateTask tries before giving up.
func WithIDAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.idAttempts = n
		}
	}
}

// NewEngine builds an Engine with uuid-based ids and the wall clock.
func NewEngine(opts ...Option) Engine {
	e := Engine{newID: NewTaskID, now: time.Now, idAttempts: defaultIDAttempts}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Apply computes the snapshot that results from cmd. On error the returned
// Result is zero and state is untouched.
func (e Engine) Apply(state AppState, cmd Command) (Result, error) {
	switch c := cmd.(type) {
	case MoveTask:
		return e.move(state, c)
	case *MoveTask:
		return e.move(state, *c)
	case CreateTask:
		return e.create(state, c)
	case *CreateTask:
		return e.create(state, *c)
	case EditTask:
		return e.edit(state, c)
	case *EditTask:
		return e.edit(state, *c)
	case DeleteTask:
		return e.delete(state, c)
	case *DeleteTask:
		return e.delete(state, *c)
	case nil:
		return Result{}, &ValidationError{Field: "command", Reason: "missing"}
	default:
		return Result{}, &ValidationError{Field: "command", Reason: fmt.Sprintf("unsupported command %T", cmd)}
	}
}

func resolveBoard(state AppState, boardID string) (*Board, error) {
	if boardID == "" {
		boardID = state.DefaultBoardID()
	}
	return state.Board(boardID)
}

func (e Engine) move(state AppState, c MoveTask) (Result, error) {
	board, err := resolveBoard(state, c.BoardID)
	if err != nil {
		return Result{}, err
	}
	from, ok := board.Columns[c.FromColumnID]
	if !ok {
		return Result{}, &NotFoundError{Kind: "column", ID: c.FromColumnID}
	}
	to, ok := board.Columns[c.ToColumnID]
	if !ok {
		return Result{}, &NotFoundError{Kind: "column", ID: c.ToColumnID}
	}
	if c.FromIndex < 0 || c.FromIndex >= len(from.TaskIDs) || from.TaskIDs[c.FromIndex] != c.TaskID {
		return Result{}, &NotFoundError{
			Kind:   "task",
			ID:     c.TaskID,
			Detail: fmt.Sprintf("not at index %d of column %q", c.FromIndex, from.ID),
		}
	}

	change := Change{Kind: KindMove, BoardID: board.ID, TaskID: c.TaskID}
	if from.ID == to.ID {
		change.ColumnIDs = []string{from.ID}
		if c.FromIndex == c.ToIndex {
			change.NoOp = true
			return Result{State: state, Change: change}, nil
		}
		ids := removeAt(from.TaskIDs, c.FromIndex)
		ids = insertAt(ids, c.ToIndex, c.TaskID)
		next := withColumns(state, board, &Column{ID: from.ID, Title: from.Title, TaskIDs: ids})
		return Result{State: next, Change: change}, nil
	}

	change.ColumnIDs = []string{from.ID, to.ID}
	source := &Column{ID: from.ID, Title: from.Title, TaskIDs: removeAt(from.TaskIDs, c.FromIndex)}
	dest := &Column{ID: to.ID, Title: to.Title, TaskIDs: insertAt(cloneStrings(to.TaskIDs), c.ToIndex, c.TaskID)}
	next := withColumns(state, board, source, dest)
	return Result{State: next, Change: change}, nil
}

func (e Engine) create(state AppState, c CreateTask) (Result, error) {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		return Result{}, &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	priority := c.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	if !priority.Valid() {
		return Result{}, &ValidationError{Field: "priority", Reason: "must be one of low, medium, high"}
	}
	board, err := resolveBoard(state, c.BoardID)
	if err != nil {
		return Result{}, err
	}
	col, ok := board.Columns[c.ColumnID]
	if !ok {
		return Result{}, &NotFoundError{Kind: "column", ID: c.ColumnID}
	}
	id, err := e.uniqueID(state)
	if err != nil {
		return Result{}, err
	}

	task := &Task{
		ID:          id,
		Title:       title,
		Description: c.Description,
		Priority:    priority,
		Tags:        normalizeTags(c.Tags),
		CreatedAt:   e.now().UTC().Round(0),
	}
	if c.DueDate != nil {
		due := c.DueDate.UTC().Round(0)
		task.DueDate = &due
	}

	ids := make([]string, len(col.TaskIDs), len(col.TaskIDs)+1)
	copy(ids, col.TaskIDs)
	ids = append(ids, id)

	next := withColumns(state, board, &Column{ID: col.ID, Title: col.Title, TaskIDs: ids})
	next.Tasks = withTask(state.Tasks, task)
	return Result{State: next, Change: Change{Kind: KindCreate, BoardID: board.ID, ColumnIDs: []string{col.ID}, TaskID: id}}, nil
}

func (e Engine) uniqueID(state AppState) (string, error) {
	var id string
	for attempt := 0; attempt < e.idAttempts; attempt++ {
		id = e.newID()
		if id == "" {
			continue
		}
		if _, taken := state.Tasks[id]; !taken {
			return id, nil
		}
	}
	return "", &IDCollisionError{ID: id, Attempts: e.idAttempts}
}

func (e Engine) edit(state AppState, c EditTask) (Result, error) {
	current, err := state.Task(c.TaskID)
	if err != nil {
		return Result{}, err
	}
	if err := c.Patch.validate(c.TaskID); err != nil {
		return Result{}, err
	}
	change := Change{Kind: KindEdit, TaskID: c.TaskID}
	if boardID, columnID, _, ok := state.LocateTask(c.TaskID); ok {
		change.BoardID = boardID
		change.ColumnIDs = []string{columnID}
	}
	if c.Patch.Empty() {
		change.NoOp = true
		return Result{State: state, Change: change}, nil
	}
	next := state
	next.Tasks = withTask(state.Tasks, c.Patch.apply(current))
	return Result{State: next, Change: change}, nil
}

func (e Engine) delete(state AppState, c DeleteTask) (Result, error) {
	if _, err := state.Task(c.TaskID); err != nil {
		return Result{}, err
	}
	next := state
	change := Change{Kind: KindDelete, TaskID: c.TaskID}
	if boardID, columnID, index, ok := state.LocateTask(c.TaskID); ok {
		board := state.Boards[boardID]
		col := board.Columns[columnID]
		next = withColumns(state, board, &Column{ID: col.ID, Title: col.Title, TaskIDs: removeAt(col.TaskIDs, index)})
		change.BoardID = boardID
		change.ColumnIDs = []string{columnID}
	}
	tasks := make(map[string]*Task, len(state.Tasks))
	for id, t := range state.Tasks {
		if id != c.TaskID {
			tasks[id] = t
		}
	}
	next.Tasks = tasks
	return Result{State: next, Change: change}, nil
}

// withColumns returns a snapshot where board carries the replacement columns.
// Every other board, column and task is shared with state.
func withColumns(state AppState, board *Board, cols ...*Column) AppState {
	columns := make(map[string]*Column, len(board.Columns))
	for id, c := range board.Columns {
		columns[id] = c
	}
	for _, c := range cols {
		columns[c.ID] = c
	}
	nextBoard := &Board{
		ID:           board.ID,
		Title:        board.Title,
		ColumnsOrder: board.ColumnsOrder,
		Columns:      columns,
	}
	boards := make(map[string]*Board, len(state.Boards))
	for id, b := range state.Boards {
		boards[id] = b
	}
	boards[board.ID] = nextBoard
	return AppState{BoardsOrder: state.BoardsOrder, Boards: boards, Tasks: state.Tasks}
}

func withTask(tasks map[string]*Task, t *Task) map[string]*Task {
	out := make(map[string]*Task, len(tasks)+1)
	for id, existing := range tasks {
		out[id] = existing
	}
	out[t.ID] = t
	return out
}

// removeAt returns a new slice without the element at i.
func removeAt(ids []string, i int) []string {
	out := make([]string, 0, len(ids)-1)
	out = append(out, ids[:i]...)
	return append(out, ids[i+1:]...)
}

// insertAt inserts id at i, clamped to [0, len(ids)]. ids must not be shared
// with a published snapshot.
func insertAt(ids []string, i int, id string) []string {
	if i < 0 {
		i = 0
	}
	if i > len(ids) {
		i = len(ids)
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}
