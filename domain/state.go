package domain

import "fmt"

// Column is an ordered bucket of task references within a board.
type Column struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	TaskIDs []string `json:"taskIds"`
}

// Board is the top-level container of columns.
type Board struct {
	ID           string             `json:"id"`
	Title        string             `json:"title"`
	ColumnsOrder []string           `json:"columnsOrder"`
	Columns      map[string]*Column `json:"columns"`
}

// AppState is one complete snapshot of every board and task.
//
// Snapshots are immutable. The maps hold pointers so that a snapshot derived
// from another shares every board, column and task it did not touch; callers
// must never write through those pointers.
type AppState struct {
	BoardsOrder []string          `json:"boardsOrder"`
	Boards      map[string]*Board `json:"boards"`
	Tasks       map[string]*Task  `json:"tasks"`
}

// Board returns the board with the given id.
func (s AppState) Board(id string) (*Board, error) {
	b, ok := s.Boards[id]
	if !ok || b == nil {
		return nil, &NotFoundError{Kind: "board", ID: id}
	}
	return b, nil
}

// Column returns a column of the given board.
func (s AppState) Column(boardID, columnID string) (*Column, error) {
	b, err := s.Board(boardID)
	if err != nil {
		return nil, err
	}
	c, ok := b.Columns[columnID]
	if !ok || c == nil {
		return nil, &NotFoundError{Kind: "column", ID: columnID}
	}
	return c, nil
}

// Task returns the task with the given id.
func (s AppState) Task(id string) (*Task, error) {
	t, ok := s.Tasks[id]
	if !ok || t == nil {
		return nil, &NotFoundError{Kind: "task", ID: id}
	}
	return t, nil
}

// TasksInColumn resolves a column's task ids into tasks, in column order.
func (s AppState) TasksInColumn(boardID, columnID string) ([]Task, error) {
	c, err := s.Column(boardID, columnID)
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(c.TaskIDs))
	for _, id := range c.TaskIDs {
		t, ok := s.Tasks[id]
		if !ok || t == nil {
			return nil, &DanglingReferenceError{BoardID: boardID, ColumnID: columnID, TaskID: id}
		}
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

// DefaultBoardID is the board a client shows when none is selected.
func (s AppState) DefaultBoardID() string {
	if len(s.BoardsOrder) == 0 {
		return ""
	}
	return s.BoardsOrder[0]
}

// LocateTask finds the board and column currently listing taskID. ok is false
// for an orphaned or unknown task.
func (s AppState) LocateTask(taskID string) (boardID, columnID string, index int, ok bool) {
	for _, bid := range s.BoardsOrder {
		b := s.Boards[bid]
		if b == nil {
			continue
		}
		for _, cid := range b.ColumnsOrder {
			c := b.Columns[cid]
			if c == nil {
				continue
			}
			for i, id := range c.TaskIDs {
				if id == taskID {
					return bid, cid, i, true
				}
			}
		}
	}
	return "", "", -1, false
}

// TaskCount is the number of tasks in the snapshot.
func (s AppState) TaskCount() int { return len(s.Tasks) }

// ReferenceCount is the number of task ids listed across every column.
func (s AppState) ReferenceCount() int {
	n := 0
	for _, b := range s.Boards {
		for _, c := range b.Columns {
			n += len(c.TaskIDs)
		}
	}
	return n
}

// Validate checks every structural invariant of the snapshot: the order
// slices are permutations of their maps, map keys match entity ids, every
// referenced task exists and no task is referenced twice.
func (s AppState) Validate() error {
	if err := checkPermutation("boardsOrder", s.BoardsOrder, len(s.Boards), func(id string) bool {
		_, ok := s.Boards[id]
		return ok
	}); err != nil {
		return err
	}
	for id, t := range s.Tasks {
		if t == nil || t.ID != id {
			return fmt.Errorf("task key %q does not match its entity", id)
		}
	}
	owner := make(map[string]string, len(s.Tasks))
	for _, bid := range s.BoardsOrder {
		b := s.Boards[bid]
		if b == nil || b.ID != bid {
			return fmt.Errorf("board key %q does not match its entity", bid)
		}
		if err := checkPermutation("columnsOrder of board "+bid, b.ColumnsOrder, len(b.Columns), func(id string) bool {
			_, ok := b.Columns[id]
			return ok
		}); err != nil {
			return err
		}
		for _, cid := range b.ColumnsOrder {
			c := b.Columns[cid]
			if c == nil || c.ID != cid {
				return fmt.Errorf("column key %q on board %q does not match its entity", cid, bid)
			}
			for _, tid := range c.TaskIDs {
				if _, ok := s.Tasks[tid]; !ok {
					return &DanglingReferenceError{BoardID: bid, ColumnID: cid, TaskID: tid}
				}
				where := bid + "/" + cid
				if prev, dup := owner[tid]; dup {
					return fmt.Errorf("task %q listed by both %s and %s", tid, prev, where)
				}
				owner[tid] = where
			}
		}
	}
	return nil
}

func checkPermutation(name string, order []string, size int, exists func(string) bool) error {
	if len(order) != size {
		return fmt.Errorf("%s has %d ids for %d entries", name, len(order), size)
	}
	seen := make(map[string]struct{}, len(order))
	for _, id := range order {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%s lists %q twice", name, id)
		}
		seen[id] = struct{}{}
		if !exists(id) {
			return fmt.Errorf("%s lists unknown id %q", name, id)
		}
	}
	return nil
}
