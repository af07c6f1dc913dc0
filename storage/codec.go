// Package storage persists board snapshots keyed by a state key.
package storage

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"taskboard/domain"
)

// ErrNotFound is returned by Load when nothing is stored under a key.
var ErrNotFound = errors.New("storage: state not found")

// Encode serializes a snapshot to its JSON wire form.
func Encode(s domain.AppState) ([]byte, error) {
	return sonic.Marshal(s)
}

// Decode parses a snapshot and checks its structure. A stored snapshot that
// fails validation is reported as corrupt rather than handed to the engine.
func Decode(data []byte) (domain.AppState, error) {
	var s domain.AppState
	if err := sonic.Unmarshal(data, &s); err != nil {
		return domain.AppState{}, fmt.Errorf("decode state: %w", err)
	}
	if s.Boards == nil {
		s.Boards = map[string]*domain.Board{}
	}
	if s.Tasks == nil {
		s.Tasks = map[string]*domain.Task{}
	}
	if err := s.Validate(); err != nil {
		return domain.AppState{}, fmt.Errorf("corrupt state: %w", err)
	}
	return s, nil
}
