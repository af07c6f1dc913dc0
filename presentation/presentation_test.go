package presentation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
	"taskboard/notifier"
	"taskboard/storage"
)

func TestToMove(t *testing.T) {
	cases := []struct {
		name string
		g    Gesture
		ok   bool
		want domain.MoveTask
	}{
		{
			name: "cancelled",
			g:    Gesture{DraggableID: "task-1", Source: Location{DroppableID: "column-1", Index: 0}},
		},
		{
			name: "dropped in place",
			g:    Gesture{DraggableID: "task-1", Source: Location{DroppableID: "column-1", Index: 2}, Destination: &Location{DroppableID: "column-1", Index: 2}},
		},
		{
			name: "reorder",
			g:    Gesture{DraggableID: "task-1", Source: Location{DroppableID: "column-1", Index: 0}, Destination: &Location{DroppableID: "column-1", Index: 2}},
			ok:   true,
			want: domain.MoveTask{BoardID: "board-1", TaskID: "task-1", FromColumnID: "column-1", ToColumnID: "column-1", FromIndex: 0, ToIndex: 2},
		},
		{
			name: "across columns",
			g:    Gesture{DraggableID: "task-3", Source: Location{DroppableID: "column-1", Index: 2}, Destination: &Location{DroppableID: "column-3", Index: 0}},
			ok:   true,
			want: domain.MoveTask{BoardID: "board-1", TaskID: "task-3", FromColumnID: "column-1", ToColumnID: "column-3", FromIndex: 2, ToIndex: 0},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ToMove("board-1", tc.g)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("ToMove = %#v, %v; want %#v, %v", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestRenderFollowsOrdering(t *testing.T) {
	s := domain.DefaultState(time.Now())
	view, err := Render(s, "")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if view.ID != "board-1" || len(view.Columns) != 3 {
		t.Fatalf("unexpected view %#v", view)
	}
	if view.Columns[0].Title != "To Do" || view.Columns[2].Title != "Done" {
		t.Fatalf("columns out of order: %#v", view.Columns)
	}
	ids := []string{}
	for _, task := range view.Columns[0].Tasks {
		ids = append(ids, task.ID)
	}
	if len(ids) != 4 || ids[0] != "task-1" || ids[3] != "task-4" {
		t.Fatalf("tasks out of order: %v", ids)
	}
	if boards := Boards(s); len(boards) != 1 || boards[0].Title != "My Task Board" {
		t.Fatalf("unexpected boards %#v", boards)
	}
}

func TestRenderReportsDanglingReference(t *testing.T) {
	s := domain.DefaultState(time.Now())
	delete(s.Tasks, "task-2")
	if _, err := Render(s, "board-1"); !errors.Is(err, domain.ErrDanglingReference) {
		t.Fatalf("expected dangling reference, got %v", err)
	}
	if _, err := Render(s, "board-9"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func newController(t *testing.T) *Controller {
	t.Helper()
	logger, _ := test.NewNullLogger()
	n := notifier.New(domain.NewEngine(), storage.NewMemoryStore(), nil, logger, notifier.DefaultConfig())
	return NewController(n)
}

func columnTaskIDs(v BoardView, idx int) []string {
	ids := []string{}
	for _, task := range v.Columns[idx].Tasks {
		ids = append(ids, task.ID)
	}
	return ids
}

func TestControllerDrop(t *testing.T) {
	c := newController(t)
	ctx := context.Background()
	s := Session{StateKey: "alice", Actor: "alice"}

	res, err := c.Drop(ctx, s, "board-1", Gesture{
		DraggableID: "task-2",
		Source:      Location{DroppableID: "column-1", Index: 1},
		Destination: &Location{DroppableID: "column-2", Index: 0},
	})
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if res.Ignored || res.Version != 1 {
		t.Fatalf("unexpected result %#v", res)
	}
	if got := columnTaskIDs(res.View, 1); len(got) != 1 || got[0] != "task-2" {
		t.Fatalf("unexpected in-progress column %v", got)
	}

	ignored, err := c.Drop(ctx, s, "board-1", Gesture{DraggableID: "task-1", Source: Location{DroppableID: "column-1", Index: 0}})
	if err != nil || !ignored.Ignored || ignored.Version != 1 {
		t.Fatalf("expected ignored drop, got %#v, %v", ignored, err)
	}
}

func TestControllerRejectedDropKeepsLastView(t *testing.T) {
	c := newController(t)
	ctx := context.Background()
	s := Session{StateKey: "bob"}

	res, err := c.Drop(ctx, s, "board-1", Gesture{
		DraggableID: "task-1",
		Source:      Location{DroppableID: "column-1", Index: 3},
		Destination: &Location{DroppableID: "column-2", Index: 0},
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for stale index, got %v", err)
	}
	if got := columnTaskIDs(res.View, 0); len(got) != 4 {
		t.Fatalf("expected last valid view, got %v", got)
	}
}

func TestControllerCreateEditDelete(t *testing.T) {
	c := newController(t)
	ctx := context.Background()
	s := Session{StateKey: "carol", Actor: "carol"}

	created, err := c.Create(ctx, s, domain.CreateTask{BoardID: "board-1", ColumnID: "column-3", Title: "Ship it", Priority: domain.PriorityHigh})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Task == nil || created.Task.Title != "Ship it" {
		t.Fatalf("unexpected created task %#v", created.Task)
	}
	id := created.Task.ID
	if got := columnTaskIDs(created.View, 2); len(got) != 1 || got[0] != id {
		t.Fatalf("unexpected done column %v", got)
	}

	title := "Ship it today"
	edited, err := c.Edit(ctx, s, id, domain.TaskPatch{Title: &title})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.Task == nil || edited.Task.Title != title || edited.View.ID != "board-1" {
		t.Fatalf("unexpected edit result %#v", edited)
	}

	deleted, err := c.Delete(ctx, s, id)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.Task != nil || len(deleted.View.Columns[2].Tasks) != 0 {
		t.Fatalf("unexpected delete result %#v", deleted)
	}

	if _, err := c.Delete(ctx, s, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	state, version, err := c.State(ctx, s)
	if err != nil || version != 3 || state.TaskCount() != 4 {
		t.Fatalf("unexpected final state v%d tasks=%d err=%v", version, state.TaskCount(), err)
	}
}
