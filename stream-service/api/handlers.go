package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/transport"
)

type Authenticator interface {
	ActorFromAuthHeader(string) (string, error)
}

type Subscriptions interface {
	Subscribe(key string) (<-chan []byte, func())
}

type Config struct {
	Auth          Authenticator
	Subscriptions Subscriptions
	Logger        *log.Logger
	// DefaultStateKey is streamed to callers without an actor.
	DefaultStateKey string
	KeepAlive       time.Duration
}

// Register wires up stream endpoints on the given Echo instance.
func Register(e *echo.Echo, cfg Config) {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 25 * time.Second
	}
	if cfg.DefaultStateKey == "" {
		cfg.DefaultStateKey = "default"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New()
	}
	e.GET("/stream", streamChanges(cfg))
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
}

func streamChanges(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		actor, err := cfg.Auth.ActorFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		key := actor
		if key == "" {
			key = cfg.DefaultStateKey
		}

		ch, cancel := cfg.Subscriptions.Subscribe(key)
		defer cancel()
		logger := cfg.Logger.WithField("state_key", key)
		logger.Debug("stream client connected")
		err = transport.Stream(c.Request().Context(), c.Response(), ch, cfg.KeepAlive)
		logger.Debug("stream client disconnected")
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Warn("stream ended")
		}
		return nil
	}
}
