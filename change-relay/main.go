package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/env"
	"taskboard/storage"
	"taskboard/transport"
)

func main() {
	logger := log.New()
	if env.Bool("DEBUG") {
		logger.SetLevel(log.DebugLevel)
	}
	logger.Info("change relay starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	queueName := os.Getenv("CHANGES_QUEUE")
	tableName := os.Getenv("BOARDS_TABLE")
	if connStr == "" || queueName == "" || tableName == "" {
		log.Fatal("missing storage config")
	}
	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}

	queue, err := transport.NewQueue(connStr, queueName)
	if err != nil {
		log.Fatalf("queue: %v", err)
	}
	table, err := storage.NewTableStore(connStr, tableName)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	rc := redis.NewClient(env.RedisOptions(redisConn))
	defer rc.Close()

	cacheTTL, err := env.Duration("CACHE_TTL", 10*time.Minute)
	if err != nil {
		log.Fatal(err)
	}
	batch, err := env.Int("RELAY_BATCH", 16)
	if err != nil {
		log.Fatal(err)
	}
	visibility, err := env.Duration("RELAY_VISIBILITY", 30*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	maxDequeue, err := env.Int("RELAY_MAX_DEQUEUE", 5)
	if err != nil {
		log.Fatal(err)
	}

	r := &relay{
		queue:      queue,
		cache:      storage.NewCache(table, rc, cacheTTL),
		pub:        transport.NewRedisPublisher(rc, env.String("UPDATES_CHANNEL", "board-updates")),
		logger:     logger,
		batch:      int32(min(batch, 32)),
		visibility: visibility,
		idle:       time.Second,
		maxDequeue: int64(maxDequeue),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	r.run(ctx)
	logger.Info("change relay stopped")
}
