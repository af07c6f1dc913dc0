package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"taskboard/auth"
	"taskboard/domain"
	"taskboard/env"
	"taskboard/stream-service/api"
	"taskboard/transport"
)

func main() {
	logger := log.New()
	if env.Bool("DEBUG") {
		logger.SetLevel(log.DebugLevel)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	rc := redis.NewClient(env.RedisOptions(redisConn))
	defer rc.Close()

	cfg := auth.Config{Required: env.Bool("REQUIRE_AUTH")}
	if env.Bool("LOCAL_AUTH_MODE") {
		secret := os.Getenv("LOCAL_AUTH_SHARED_SECRET")
		if secret == "" {
			log.Fatal("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE is enabled")
		}
		cfg.SharedSecret = []byte(secret)
	} else {
		audience := os.Getenv("AUTH0_AUDIENCE")
		domainName := os.Getenv("AUTH0_DOMAIN")
		if audience == "" || domainName == "" {
			log.Fatal("missing Auth0 config")
		}
		jwks, err := keyfunc.Get(fmt.Sprintf("https://%s/.well-known/jwks.json", domainName), keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		cfg.JWKS, cfg.Audience, cfg.Issuer = jwks, audience, "https://"+domainName+"/"
	}
	ttl, err := env.Duration("JWKS_CACHE_TTL", auth.DefaultKeyCacheTTL)
	if err != nil {
		log.Fatal(err)
	}
	cfg.KeyCacheTTL = ttl
	verifier, err := auth.New(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	broker := transport.NewBroker(16)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	api.Register(e, api.Config{
		Auth:            verifier,
		Subscriptions:   broker,
		Logger:          logger,
		DefaultStateKey: env.String("DEFAULT_STATE_KEY", "default"),
	})

	listenAddr := ":" + env.String("STREAM_SERVICE_PORT", "9000")
	channel := env.String("UPDATES_CHANNEL", "board-updates")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		transport.Subscribe(gctx, logger, rc, channel, func(d domain.ChangeDescriptor) {
			_ = broker.Publish(gctx, d)
		})
		return nil
	})
	g.Go(func() error {
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		broker.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Fatal(err)
	}
}
