package storage

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"taskboard/domain"
)

type seedFile struct {
	Boards []seedBoard `yaml:"boards"`
}

type seedBoard struct {
	ID      string       `yaml:"id"`
	Title   string       `yaml:"title"`
	Columns []seedColumn `yaml:"columns"`
}

type seedColumn struct {
	ID    string     `yaml:"id"`
	Title string     `yaml:"title"`
	Tasks []seedTask `yaml:"tasks"`
}

type seedTask struct {
	ID          string     `yaml:"id"`
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	Priority    string     `yaml:"priority"`
	Tags        []string   `yaml:"tags"`
	DueDate     *time.Time `yaml:"dueDate"`
}

// ReadSeed loads the initial state new state keys start with from a YAML
// file listing boards, their columns and each column's tasks in order.
func ReadSeed(path string, now time.Time) (domain.AppState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.AppState{}, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data, now)
}

// ParseSeed is ReadSeed over an in-memory document.
func ParseSeed(data []byte, now time.Time) (domain.AppState, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return domain.AppState{}, fmt.Errorf("parse seed: %w", err)
	}
	if len(f.Boards) == 0 {
		return domain.AppState{}, fmt.Errorf("parse seed: no boards")
	}
	created := now.UTC().Round(0)
	s := domain.AppState{
		BoardsOrder: make([]string, 0, len(f.Boards)),
		Boards:      make(map[string]*domain.Board, len(f.Boards)),
		Tasks:       map[string]*domain.Task{},
	}
	for _, b := range f.Boards {
		board := &domain.Board{ID: b.ID, Title: b.Title, ColumnsOrder: []string{}, Columns: map[string]*domain.Column{}}
		for _, c := range b.Columns {
			col := &domain.Column{ID: c.ID, Title: c.Title, TaskIDs: []string{}}
			for _, t := range c.Tasks {
				if _, dup := s.Tasks[t.ID]; dup {
					return domain.AppState{}, fmt.Errorf("parse seed: task %q listed twice", t.ID)
				}
				task, err := seedTaskToDomain(t, created)
				if err != nil {
					return domain.AppState{}, err
				}
				s.Tasks[t.ID] = task
				col.TaskIDs = append(col.TaskIDs, t.ID)
			}
			if _, dup := board.Columns[c.ID]; dup {
				return domain.AppState{}, fmt.Errorf("parse seed: column %q listed twice on board %q", c.ID, b.ID)
			}
			board.Columns[c.ID] = col
			board.ColumnsOrder = append(board.ColumnsOrder, c.ID)
		}
		if _, dup := s.Boards[b.ID]; dup {
			return domain.AppState{}, fmt.Errorf("parse seed: board %q listed twice", b.ID)
		}
		s.Boards[b.ID] = board
		s.BoardsOrder = append(s.BoardsOrder, b.ID)
	}
	if err := s.Validate(); err != nil {
		return domain.AppState{}, fmt.Errorf("parse seed: %w", err)
	}
	return s, nil
}

func seedTaskToDomain(t seedTask, created time.Time) (*domain.Task, error) {
	if t.ID == "" || t.Title == "" {
		return nil, fmt.Errorf("parse seed: task needs an id and a title")
	}
	p := domain.Priority(t.Priority)
	if p == "" {
		p = domain.PriorityMedium
	}
	if !p.Valid() {
		return nil, fmt.Errorf("parse seed: task %q has priority %q", t.ID, t.Priority)
	}
	task := &domain.Task{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    p,
		CreatedAt:   created,
	}
	if len(t.Tags) > 0 {
		task.Tags = append([]string(nil), t.Tags...)
	}
	if t.DueDate != nil {
		due := t.DueDate.UTC().Round(0)
		task.DueDate = &due
	}
	return task, nil
}
