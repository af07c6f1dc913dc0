package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"taskboard/auth"
	"taskboard/board-api/api"
	"taskboard/domain"
	"taskboard/env"
	"taskboard/notifier"
	"taskboard/presentation"
	"taskboard/storage"
	"taskboard/transport"
)

func main() {
	logger := log.New()
	if env.Bool("DEBUG") {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	var rc *redis.Client
	if conn := os.Getenv("REDIS_CONNECTION_STRING"); conn != "" {
		rc = redis.NewClient(env.RedisOptions(conn))
	}

	store, closeStore, runGC := openStore(logger, rc)

	seed, err := seedFunc()
	if err != nil {
		log.Fatalf("seed: %v", err)
	}

	broker := transport.NewBroker(16)
	hub := transport.NewHub(logger)
	pub, fanOutRemote := openPublisher(rc, broker, hub)

	cfg := notifier.DefaultConfig()
	cfg.Seed = seed
	mustInt(&cfg.Workers, "NOTIFIER_WORKERS")
	mustInt(&cfg.Buffer, "NOTIFIER_BUFFER")
	mustInt(&cfg.SaveRetries, "NOTIFIER_SAVE_RETRIES")
	mustDuration(&cfg.HandoffTimeout, "NOTIFIER_HANDOFF_TIMEOUT")
	mustDuration(&cfg.SaveTimeout, "NOTIFIER_SAVE_TIMEOUT")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	n := notifier.New(domain.NewEngine(), store, pub, logger, cfg, notifier.WithRegisterer(registry))
	n.Start()

	verifier := newVerifier()

	var deduper api.Deduper
	if rc != nil {
		ttl, err := env.Duration("DEDUPER_TTL", 24*time.Hour)
		if err != nil {
			log.Fatal(err)
		}
		deduper = api.NewRedisDeduper(rc, ttl)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))

	api.Register(e, api.Config{
		Controller:      presentation.NewController(n),
		Auth:            verifier,
		Deduper:         deduper,
		Subscriptions:   broker,
		Sockets:         hub,
		Logger:          logger,
		DefaultStateKey: env.String("DEFAULT_STATE_KEY", "default"),
		Registry:        registry,
	})

	listenAddr := ":" + env.String("PORT", "8080")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if fanOutRemote != nil {
		g.Go(func() error {
			fanOutRemote(gctx, logger)
			return nil
		})
	}
	if runGC != nil {
		g.Go(func() error {
			runGC(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		broker.Close()
		hub.Close()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("http shutdown")
		}
		if err := n.Close(shutdownCtx); err != nil {
			logger.WithError(err).Error("notifier drain")
		}
		if err := closeStore.Close(); err != nil {
			logger.WithError(err).Error("store close")
		}
		if rc != nil {
			_ = rc.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal(err)
	}
}

func openStore(logger *log.Logger, rc *redis.Client) (notifier.Store, io.Closer, func(context.Context)) {
	var (
		base   notifier.Store
		closer io.Closer
		gc     func(context.Context)
	)
	switch backend := env.String("STORAGE_BACKEND", "table"); backend {
	case "table":
		connStr := os.Getenv("STORAGE_CONNECTION_STRING")
		table := os.Getenv("BOARDS_TABLE")
		if connStr == "" || table == "" {
			log.Fatal("missing storage config")
		}
		ts, err := storage.NewTableStore(connStr, table)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		base, closer = ts, ts
	case "badger":
		bs, err := storage.OpenBadger(os.Getenv("BADGER_DIR"), logger)
		if err != nil {
			log.Fatalf("badger: %v", err)
		}
		base, closer = bs, bs
		gc = func(ctx context.Context) { bs.RunGC(ctx, 5*time.Minute) }
	case "memory":
		ms := storage.NewMemoryStore()
		base, closer = ms, ms
	default:
		log.Fatalf("unknown STORAGE_BACKEND %q", backend)
	}

	if rc == nil {
		return base, closer, gc
	}
	ttl, err := env.Duration("CACHE_TTL", 10*time.Minute)
	if err != nil {
		log.Fatal(err)
	}
	return storage.NewCache(base, rc, ttl), closer, gc
}

// openPublisher picks the transport for committed changes. With Redis
// available, local SSE and WebSocket clients are fed from the Redis channel
// so every instance sees changes made by the others.
func openPublisher(rc *redis.Client, broker *transport.Broker, hub *transport.Hub) (notifier.Publisher, func(context.Context, *log.Logger)) {
	channel := env.String("UPDATES_CHANNEL", "board-updates")
	local := transport.Multi{broker, hub}

	var remote transport.Publisher
	switch mode := env.String("TRANSPORT", "redis"); mode {
	case "redis":
		if rc == nil {
			log.Fatal("missing redis config")
		}
		remote = transport.NewRedisPublisher(rc, channel)
	case "queue":
		connStr := os.Getenv("STORAGE_CONNECTION_STRING")
		name := os.Getenv("CHANGES_QUEUE")
		if connStr == "" || name == "" {
			log.Fatal("missing queue config")
		}
		q, err := transport.NewQueue(connStr, name)
		if err != nil {
			log.Fatalf("queue: %v", err)
		}
		remote = q
	case "none":
	default:
		log.Fatalf("unknown TRANSPORT %q", mode)
	}

	if rc == nil {
		if remote == nil {
			return local, nil
		}
		return transport.Multi{remote, broker, hub}, nil
	}
	fanOut := func(ctx context.Context, logger *log.Logger) {
		transport.Subscribe(ctx, logger, rc, channel, func(d domain.ChangeDescriptor) {
			_ = local.Publish(ctx, d)
		})
	}
	if remote == nil {
		return local, nil
	}
	return remote, fanOut
}

func seedFunc() (func(time.Time) domain.AppState, error) {
	path := os.Getenv("SEED_FILE")
	if path == "" {
		return domain.DefaultState, nil
	}
	st, err := storage.ReadSeed(path, time.Now())
	if err != nil {
		return nil, err
	}
	return func(time.Time) domain.AppState { return st }, nil
}

func newVerifier() *auth.Verifier {
	cfg := auth.Config{Required: env.Bool("REQUIRE_AUTH")}
	ttl, err := env.Duration("JWKS_CACHE_TTL", auth.DefaultKeyCacheTTL)
	if err != nil {
		log.Fatal(err)
	}
	cfg.KeyCacheTTL = ttl

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
		jwks, err := keyfunc.Get(fmt.Sprintf("https://%s/.well-known/jwks.json", domainName), keyfunc.Options{
			RefreshInterval: time.Hour,
			RefreshErrorHandler: func(err error) {
				log.WithError(err).Warn("jwks refresh failed")
			},
		})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		cfg.JWKS = jwks
		cfg.Audience = audience
		cfg.Issuer = "https://" + domainName + "/"
	}

	v, err := auth.New(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	return v
}

func mustInt(dst *int, key string) {
	v, err := env.Int(key, *dst)
	if err != nil {
		log.Fatal(err)
	}
	*dst = v
}

func mustDuration(dst *time.Duration, key string) {
	v, err := env.Duration(key, *dst)
	if err != nil {
		log.Fatal(err)
	}
	*dst = v
}
