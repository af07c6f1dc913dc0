package presentation

import "taskboard/domain"

type ColumnView struct {
	ID    string        `json:"id"`
	Title string        `json:"title"`
	Tasks []domain.Task `json:"tasks"`
}

type BoardView struct {
	ID      string       `json:"id"`
	Title   string       `json:"title"`
	Columns []ColumnView `json:"columns"`
}

// BoardSummary is one entry of the board picker.
type BoardSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Render lays out a board in columnsOrder, each column's tasks in taskIds
// order. An empty boardID renders the default board. A column that lists a
// missing task fails with a DanglingReferenceError.
func Render(s domain.AppState, boardID string) (BoardView, error) {
	if boardID == "" {
		boardID = s.DefaultBoardID()
	}
	b, err := s.Board(boardID)
	if err != nil {
		return BoardView{}, err
	}
	view := BoardView{ID: b.ID, Title: b.Title, Columns: make([]ColumnView, 0, len(b.ColumnsOrder))}
	for _, cid := range b.ColumnsOrder {
		col, err := s.Column(b.ID, cid)
		if err != nil {
			return BoardView{}, err
		}
		tasks, err := s.TasksInColumn(b.ID, cid)
		if err != nil {
			return BoardView{}, err
		}
		view.Columns = append(view.Columns, ColumnView{ID: col.ID, Title: col.Title, Tasks: tasks})
	}
	return view, nil
}

// Boards lists every board in boardsOrder.
func Boards(s domain.AppState) []BoardSummary {
	out := make([]BoardSummary, 0, len(s.BoardsOrder))
	for _, id := range s.BoardsOrder {
		if b, ok := s.Boards[id]; ok {
			out = append(out, BoardSummary{ID: b.ID, Title: b.Title})
		}
	}
	return out
}
