package main

import (
	"context"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"taskboard/env"
	"taskboard/storage"
)

func main() {
	if env.Bool("DEBUG") {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}
	boardsTable := os.Getenv("BOARDS_TABLE")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		log.Fatalf("table service: %v", err)
	}
	if err := createTables(ctx, func(name string) tableCreator { return svc.NewClient(name) }, []string{boardsTable}); err != nil {
		log.Fatalf("create tables: %v", err)
	}

	err = createQueues(ctx, func(name string) (queueCreator, error) {
		return azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
	}, []string{os.Getenv("CHANGES_QUEUE")})
	if err != nil {
		log.Fatalf("create queues: %v", err)
	}

	if path := os.Getenv("SEED_FILE"); path != "" && boardsTable != "" {
		st, err := storage.ReadSeed(path, time.Now())
		if err != nil {
			log.Fatalf("seed: %v", err)
		}
		store, err := storage.NewTableStore(connStr, boardsTable)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		key := env.String("DEFAULT_STATE_KEY", "default")
		seeded, err := seedState(ctx, store, key, st)
		if err != nil {
			log.Fatalf("seed %s: %v", key, err)
		}
		log.WithFields(log.Fields{"state_key": key, "seeded": seeded}).Info("seed checked")
	}

	log.Info("storage init complete")
}
