package presentation

import (
	"context"

	"taskboard/domain"
	"taskboard/notifier"
)

// Applier is the part of the notifier the controller drives.
type Applier interface {
	Apply(ctx context.Context, key, actor string, cmd domain.Command) (notifier.Outcome, error)
	Snapshot(ctx context.Context, key string) (domain.AppState, uint64, error)
}

// Session identifies whose board is being worked on and by whom. Actor may
// be empty for anonymous callers.
type Session struct {
	StateKey string
	Actor    string
}

// Result is what a client redraws after an interaction. On a rejected
// command View still holds the last valid board so the client keeps
// showing it.
type Result struct {
	View    BoardView
	Task    *domain.Task
	Ignored bool
	Version uint64
}

type Controller struct {
	n Applier
}

func NewController(n Applier) *Controller {
	return &Controller{n: n}
}

// State returns the whole snapshot for the session.
func (c *Controller) State(ctx context.Context, s Session) (domain.AppState, uint64, error) {
	return c.n.Snapshot(ctx, s.StateKey)
}

// View renders one board of the session's current snapshot.
func (c *Controller) View(ctx context.Context, s Session, boardID string) (Result, error) {
	st, version, err := c.n.Snapshot(ctx, s.StateKey)
	if err != nil {
		return Result{}, err
	}
	view, err := Render(st, boardID)
	if err != nil {
		return Result{}, err
	}
	return Result{View: view, Version: version}, nil
}

// Drop applies a finished drag on boardID.
func (c *Controller) Drop(ctx context.Context, s Session, boardID string, g Gesture) (Result, error) {
	cmd, ok := ToMove(boardID, g)
	if !ok {
		res, err := c.View(ctx, s, boardID)
		res.Ignored = true
		return res, err
	}
	return c.apply(ctx, s, boardID, cmd)
}

func (c *Controller) Create(ctx context.Context, s Session, cmd domain.CreateTask) (Result, error) {
	return c.apply(ctx, s, cmd.BoardID, cmd)
}

func (c *Controller) Edit(ctx context.Context, s Session, taskID string, patch domain.TaskPatch) (Result, error) {
	return c.apply(ctx, s, "", domain.EditTask{TaskID: taskID, Patch: patch})
}

func (c *Controller) Delete(ctx context.Context, s Session, taskID string) (Result, error) {
	return c.apply(ctx, s, "", domain.DeleteTask{TaskID: taskID})
}

func (c *Controller) apply(ctx context.Context, s Session, boardID string, cmd domain.Command) (Result, error) {
	out, err := c.n.Apply(ctx, s.StateKey, s.Actor, cmd)
	if err != nil {
		res := Result{Version: out.Version}
		if out.State.Boards != nil {
			if view, rerr := Render(out.State, boardID); rerr == nil {
				res.View = view
			}
		}
		return res, err
	}
	if boardID == "" {
		boardID = out.Change.BoardID
	}
	view, err := Render(out.State, boardID)
	if err != nil {
		return Result{Version: out.Version}, err
	}
	res := Result{View: view, Version: out.Version}
	if out.Change.Kind != domain.KindDelete && out.Change.TaskID != "" {
		if t, ok := out.State.Tasks[out.Change.TaskID]; ok {
			task := *t
			res.Task = &task
		}
	}
	return res, nil
}
