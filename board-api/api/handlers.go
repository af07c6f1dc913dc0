package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"taskboard/domain"
	"taskboard/presentation"
	"taskboard/transport"
)

type createTaskRequest struct {
	ColumnID    string          `json:"columnId" validate:"required"`
	Title       string          `json:"title" validate:"required,max=200"`
	Priority    domain.Priority `json:"priority" validate:"omitempty,oneof=low medium high"`
	Description string          `json:"description" validate:"max=2000"`
	Tags        []string        `json:"tags" validate:"max=20,dive,max=40"`
	DueDate     *time.Time      `json:"dueDate"`
}

type editTaskRequest struct {
	Title        *string          `json:"title" validate:"omitempty,max=200"`
	Description  *string          `json:"description" validate:"omitempty,max=2000"`
	Priority     *domain.Priority `json:"priority" validate:"omitempty,oneof=low medium high"`
	Tags         *[]string        `json:"tags" validate:"omitempty,max=20,dive,max=40"`
	DueDate      *time.Time       `json:"dueDate"`
	ClearDueDate bool             `json:"clearDueDate"`
}

func (r editTaskRequest) patch() domain.TaskPatch {
	return domain.TaskPatch{
		Title:        r.Title,
		Description:  r.Description,
		Priority:     r.Priority,
		Tags:         r.Tags,
		DueDate:      r.DueDate,
		ClearDueDate: r.ClearDueDate,
	}
}

type stateResponse struct {
	Version uint64          `json:"version"`
	State   domain.AppState `json:"state"`
}

type boardResponse struct {
	Version uint64                 `json:"version"`
	Board   presentation.BoardView `json:"board"`
}

type taskResponse struct {
	Version uint64                 `json:"version"`
	Task    *domain.Task           `json:"task"`
	Board   presentation.BoardView `json:"board"`
}

// session resolves the caller. A bearer header wins; browsers that cannot
// set headers on EventSource or WebSocket may pass the token as a query
// parameter instead.
func (h *handlers) session(c echo.Context, allowQuery bool) (presentation.Session, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	var (
		actor string
		err   error
	)
	if token := c.QueryParam("token"); allowQuery && header == "" && token != "" {
		actor, err = h.auth.Subject(token)
	} else {
		actor, err = h.auth.ActorFromAuthHeader(header)
	}
	if err != nil {
		return presentation.Session{}, err
	}
	key := actor
	if key == "" {
		key = h.defaultKey
	}
	c.Set(stateKeyContextKey, key)
	return presentation.Session{StateKey: key, Actor: actor}, nil
}

func (h *handlers) decode(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodyBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return errMalformedBody
	}
	if len(data) > maxBodyBytes {
		return errBodyTooLarge
	}
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errMalformedBody
	}
	if err := h.validate.Struct(v); err != nil {
		return &requestError{err: err}
	}
	return nil
}

func (h *handlers) getState(c echo.Context) error {
	s, err := h.session(c, false)
	if err != nil {
		return h.fail(c, err)
	}
	st, version, err := h.ctl.State(c.Request().Context(), s)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, stateResponse{Version: version, State: st})
}

func (h *handlers) listBoards(c echo.Context) error {
	s, err := h.session(c, false)
	if err != nil {
		return h.fail(c, err)
	}
	st, _, err := h.ctl.State(c.Request().Context(), s)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, presentation.Boards(st))
}

func (h *handlers) getBoard(c echo.Context) error {
	s, err := h.session(c, false)
	if err != nil {
		return h.fail(c, err)
	}
	res, err := h.ctl.View(c.Request().Context(), s, c.Param("boardId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, boardResponse{Version: res.Version, Board: res.View})
}

func (h *handlers) postDrop(c echo.Context) error {
	s, err := h.session(c, false)
	if err != nil {
		return h.fail(c, err)
	}
	var g presentation.Gesture
	if err := h.decode(c, &g); err != nil {
		return h.fail(c, err)
	}
	return h.mutate(c, s, func(ctx context.Context) error {
		res, err := h.ctl.Drop(ctx, s, c.Param("boardId"), g)
		if err != nil {
			return err
		}
		if res.Ignored {
			return c.NoContent(http.StatusNoContent)
		}
		return c.JSON(http.StatusOK, boardResponse{Version: res.Version, Board: res.View})
	})
}

func (h *handlers) postTask(c echo.Context) error {
	s, err := h.session(c, false)
	if err != nil {
		return h.fail(c, err)
	}
	var req createTaskRequest
	if err := h.decode(c, &req); err != nil {
		return h.fail(c, err)
	}
	cmd := domain.CreateTask{
		BoardID:     c.Param("boardId"),
		ColumnID:    req.ColumnID,
		Title:       req.Title,
		Priority:    req.Priority,
		Description: req.Description,
		Tags:        req.Tags,
		DueDate:     req.DueDate,
	}
	return h.mutate(c, s, func(ctx context.Context) error {
		res, err := h.ctl.Create(ctx, s, cmd)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, taskResponse{Version: res.Version, Task: res.Task, Board: res.View})
	})
}

func (h *handlers) patchTask(c echo.Context) error {
	s, err := h.session(c, false)
	if err != nil {
		return h.fail(c, err)
	}
	var req editTaskRequest
	if err := h.decode(c, &req); err != nil {
		return h.fail(c, err)
	}
	return h.mutate(c, s, func(ctx context.Context) error {
		res, err := h.ctl.Edit(ctx, s, c.Param("taskId"), req.patch())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, taskResponse{Version: res.Version, Task: res.Task, Board: res.View})
	})
}

func (h *handlers) deleteTask(c echo.Context) error {
	s, err := h.session(c, false)
	if err != nil {
		return h.fail(c, err)
	}
	return h.mutate(c, s, func(ctx context.Context) error {
		if _, err := h.ctl.Delete(ctx, s, c.Param("taskId")); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	})
}

// mutate runs fn under the request's idempotency key, if any. The key is
// released again when fn fails so the client may retry.
func (h *handlers) mutate(c echo.Context, s presentation.Session, fn func(ctx context.Context) error) error {
	ctx := c.Request().Context()
	key := strings.TrimSpace(c.Request().Header.Get(idempotencyHeader))
	if key == "" || h.deduper == nil {
		if err := fn(ctx); err != nil {
			return h.fail(c, err)
		}
		return nil
	}

	added, err := h.deduper.Add(ctx, s.StateKey, key)
	if err != nil {
		h.logger.WithError(err).WithField("idempotency_key", key).Warn("deduper unavailable, applying without idempotency")
		if err := fn(ctx); err != nil {
			return h.fail(c, err)
		}
		return nil
	}
	if !added {
		return h.fail(c, errDuplicateRequest)
	}
	if err := fn(ctx); err != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		if rerr := h.deduper.Remove(rctx, s.StateKey, key); rerr != nil {
			h.logger.WithError(rerr).WithField("idempotency_key", key).Error("release idempotency key")
		}
		cancel()
		return h.fail(c, err)
	}
	return nil
}

func (h *handlers) stream(c echo.Context) error {
	s, err := h.session(c, true)
	if err != nil {
		return h.fail(c, err)
	}
	ch, cancel := h.subs.Subscribe(s.StateKey)
	defer cancel()
	h.logger.WithField("state_key", s.StateKey).Debug("sse client connected")
	err = transport.Stream(c.Request().Context(), c.Response(), ch, h.keepAlive)
	h.logger.WithField("state_key", s.StateKey).Debug("sse client disconnected")
	if err != nil {
		h.logger.WithError(err).WithField("state_key", s.StateKey).Warn("sse stream ended")
	}
	return nil
}

func (h *handlers) socket(c echo.Context) error {
	s, err := h.session(c, true)
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.sockets.Serve(c.Response(), c.Request(), s.StateKey); err != nil {
		h.logger.WithError(err).WithField("state_key", s.StateKey).Warn("websocket upgrade failed")
	}
	return nil
}
