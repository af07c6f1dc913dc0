// Package presentation adapts drag-and-drop gestures to commands and
// snapshots to ordered lists a client can draw.
package presentation

import "taskboard/domain"

// Location is a slot in a droppable column.
type Location struct {
	DroppableID string `json:"droppableId" validate:"required"`
	Index       int    `json:"index" validate:"min=0"`
}

// Gesture is the result of a finished drag. Destination is nil when the drop
// was cancelled or landed outside any column.
type Gesture struct {
	DraggableID string    `json:"draggableId" validate:"required"`
	Source      Location  `json:"source"`
	Destination *Location `json:"destination,omitempty"`
}

// ToMove converts a gesture into a move on boardID. ok is false when the
// gesture should be ignored: no destination, or dropped where it started.
func ToMove(boardID string, g Gesture) (cmd domain.MoveTask, ok bool) {
	if g.Destination == nil {
		return domain.MoveTask{}, false
	}
	if g.Destination.DroppableID == g.Source.DroppableID && g.Destination.Index == g.Source.Index {
		return domain.MoveTask{}, false
	}
	return domain.MoveTask{
		BoardID:      boardID,
		TaskID:       g.DraggableID,
		FromColumnID: g.Source.DroppableID,
		ToColumnID:   g.Destination.DroppableID,
		FromIndex:    g.Source.Index,
		ToIndex:      g.Destination.Index,
	}, true
}
