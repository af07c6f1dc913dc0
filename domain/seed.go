package domain

import "time"

// DefaultState is the board a new state key starts with: one board with
// To Do, In Progress and Done columns and a handful of sample tasks.
func DefaultState(now time.Time) AppState {
	created := now.UTC().Round(0)
	tasks := []*Task{
		{ID: "task-1", Title: "Take out the garbage", Description: "Separate recyclables", Priority: PriorityLow, CreatedAt: created},
		{ID: "task-2", Title: "Watch my favorite show", Description: "New episode out today", Priority: PriorityMedium, CreatedAt: created},
		{ID: "task-3", Title: "Charge my phone", Description: "Battery is low", Priority: PriorityHigh, CreatedAt: created},
		{ID: "task-4", Title: "Cook dinner", Description: "Pasta night", Priority: PriorityMedium, CreatedAt: created},
	}
	state := AppState{
		BoardsOrder: []string{"board-1"},
		Boards: map[string]*Board{
			"board-1": {
				ID:           "board-1",
				Title:        "My Task Board",
				ColumnsOrder: []string{"column-1", "column-2", "column-3"},
				Columns: map[string]*Column{
					"column-1": {ID: "column-1", Title: "To Do", TaskIDs: []string{"task-1", "task-2", "task-3", "task-4"}},
					"column-2": {ID: "column-2", Title: "In Progress", TaskIDs: []string{}},
					"column-3": {ID: "column-3", Title: "Done", TaskIDs: []string{}},
				},
			},
		},
		Tasks: make(map[string]*Task, len(tasks)),
	}
	for _, t := range tasks {
		state.Tasks[t.ID] = t
	}
	return state
}
