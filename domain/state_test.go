package domain

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultStateIsValid(t *testing.T) {
	s := DefaultState(time.Now())
	if err := s.Validate(); err != nil {
		t.Fatalf("seed invalid: %v", err)
	}
	if s.DefaultBoardID() != "board-1" {
		t.Fatalf("unexpected default board %q", s.DefaultBoardID())
	}
	tasks, err := s.TasksInColumn("board-1", "column-1")
	if err != nil {
		t.Fatalf("tasks in column: %v", err)
	}
	if len(tasks) != 4 || tasks[0].ID != "task-1" || tasks[3].ID != "task-4" {
		t.Fatalf("unexpected seed tasks %#v", tasks)
	}
	if s.TaskCount() != 4 || s.ReferenceCount() != 4 {
		t.Fatalf("unexpected counts %d/%d", s.TaskCount(), s.ReferenceCount())
	}
}

func TestTasksInColumnReportsDanglingReference(t *testing.T) {
	s := newState(colSpec{id: "col-1", tasks: []string{"task-1", "task-2"}})
	delete(s.Tasks, "task-2")

	_, err := s.TasksInColumn("board-1", "col-1")
	var dangling *DanglingReferenceError
	if !errors.As(err, &dangling) {
		t.Fatalf("expected dangling reference, got %v", err)
	}
	if dangling.TaskID != "task-2" || dangling.ColumnID != "col-1" || !errors.Is(err, ErrDanglingReference) {
		t.Fatalf("unexpected error %#v", dangling)
	}
	if !errors.Is(s.Validate(), ErrDanglingReference) {
		t.Fatal("validate should report the dangling reference")
	}
}

func TestAccessorsReportNotFound(t *testing.T) {
	s := newState(colSpec{id: "col-1"})
	if _, err := s.Board("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("board: %v", err)
	}
	if _, err := s.Column("board-1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("column: %v", err)
	}
	if _, err := s.Task("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("task: %v", err)
	}
	if _, err := s.TasksInColumn("nope", "col-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("tasks in column: %v", err)
	}
}

func TestValidateRejectsBrokenStructure(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*AppState)
	}{
		{"board missing from order", func(s *AppState) { s.BoardsOrder = nil }},
		{"duplicate board order", func(s *AppState) { s.BoardsOrder = []string{"board-1", "board-1"} }},
		{"column missing from order", func(s *AppState) { s.Boards["board-1"].ColumnsOrder = []string{"col-1"} }},
		{"unknown column in order", func(s *AppState) { s.Boards["board-1"].ColumnsOrder = []string{"col-1", "col-x"} }},
		{"task key mismatch", func(s *AppState) { s.Tasks["task-1"] = &Task{ID: "other"} }},
		{"task listed twice", func(s *AppState) {
			s.Boards["board-1"].Columns["col-2"].TaskIDs = []string{"task-1"}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newState(colSpec{id: "col-1", tasks: []string{"task-1"}}, colSpec{id: "col-2"})
			tc.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Fatal("expected validation failure")
			}
		})
	}
}

func TestLocateTask(t *testing.T) {
	s := newState(colSpec{id: "col-1", tasks: []string{"a"}}, colSpec{id: "col-2", tasks: []string{"b", "c"}})
	board, col, idx, ok := s.LocateTask("c")
	if !ok || board != "board-1" || col != "col-2" || idx != 1 {
		t.Fatalf("unexpected location %s/%s/%d/%v", board, col, idx, ok)
	}
	if _, _, _, ok := s.LocateTask("zzz"); ok {
		t.Fatal("unknown task located")
	}
}
