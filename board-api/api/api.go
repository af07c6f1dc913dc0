package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"taskboard/presentation"
)

const (
	maxBodyBytes         = 64 << 10
	defaultKeepAlive     = 25 * time.Second
	idempotencyHeader    = "Idempotency-Key"
	defaultStateKeyValue = "default"
	releaseTimeout       = 5 * time.Second
)

type Authenticator interface {
	ActorFromAuthHeader(string) (string, error)
	Subject(token string) (string, error)
}

type Deduper interface {
	Add(ctx context.Context, scope, key string) (bool, error)
	Remove(ctx context.Context, scope, key string) error
}

// Subscriptions hands out SSE channels per state key.
type Subscriptions interface {
	Subscribe(key string) (<-chan []byte, func())
}

// Sockets serves WebSocket clients for a state key.
type Sockets interface {
	Serve(w http.ResponseWriter, r *http.Request, key string) error
}

type Config struct {
	Controller *presentation.Controller
	Auth       Authenticator
	// Deduper is optional; without it Idempotency-Key is ignored.
	Deduper       Deduper
	Subscriptions Subscriptions
	Sockets       Sockets
	Logger        *log.Logger
	// DefaultStateKey is used for callers without an actor.
	DefaultStateKey string
	KeepAlive       time.Duration
	// Registry enables /metrics and per-route HTTP metrics when set.
	Registry *prometheus.Registry
}

type handlers struct {
	ctl        *presentation.Controller
	auth       Authenticator
	deduper    Deduper
	subs       Subscriptions
	sockets    Sockets
	logger     *log.Logger
	defaultKey string
	keepAlive  time.Duration
	validate   *validator.Validate
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, cfg Config) {
	h := &handlers{
		ctl:        cfg.Controller,
		auth:       cfg.Auth,
		deduper:    cfg.Deduper,
		subs:       cfg.Subscriptions,
		sockets:    cfg.Sockets,
		logger:     cfg.Logger,
		defaultKey: cfg.DefaultStateKey,
		keepAlive:  cfg.KeepAlive,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
	if h.defaultKey == "" {
		h.defaultKey = defaultStateKeyValue
	}
	if h.keepAlive <= 0 {
		h.keepAlive = defaultKeepAlive
	}
	if h.logger == nil {
		h.logger = log.New()
	}

	if cfg.Registry != nil {
		e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
			Subsystem:  "board_api",
			Registerer: cfg.Registry,
			Skipper: func(c echo.Context) bool {
				return c.Path() == "/metrics" || c.Path() == "/healthz"
			},
		}))
		e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: cfg.Registry}))
	}

	g := e.Group("/api", GzipRequestMiddleware(), observe(h.logger))
	g.GET("/state", h.getState)
	g.GET("/boards", h.listBoards)
	g.GET("/boards/:boardId", h.getBoard)
	g.POST("/boards/:boardId/drops", h.postDrop)
	g.POST("/boards/:boardId/tasks", h.postTask)
	g.PATCH("/tasks/:taskId", h.patchTask)
	g.DELETE("/tasks/:taskId", h.deleteTask)
	if h.subs != nil {
		e.GET("/api/stream", h.stream)
	}
	if h.sockets != nil {
		e.GET("/api/ws", h.socket)
	}
	e.GET("/healthz", healthz)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
