package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const badgerKeyPrefix = "state/"

// BadgerStore keeps snapshots in an embedded Badger database, for single node
// deployments without Azure.
type BadgerStore struct {
	db       *badger.DB
	logger   *log.Logger
	inMemory bool
}

// OpenBadger opens (creating if needed) a store under dir. An empty dir opens
// an in-memory database.
func OpenBadger(dir string, logger *log.Logger) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create badger dir %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(logger.WithField("component", "badger"))
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	if logger == nil {
		logger = log.New()
	}
	return &BadgerStore{db: db, logger: logger, inMemory: dir == ""}, nil
}

func (b *BadgerStore) Load(ctx context.Context, key string) (domain.AppState, error) {
	if err := ctx.Err(); err != nil {
		return domain.AppState{}, err
	}
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.AppState{}, ErrNotFound
	}
	if err != nil {
		return domain.AppState{}, err
	}
	return Decode(data)
}

func (b *BadgerStore) Save(ctx context.Context, key string, s domain.AppState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(s)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+key), data)
	})
}

// RunGC triggers value log garbage collection every interval until ctx ends.
func (b *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if b.inMemory {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for {
				err := b.db.RunValueLogGC(0.5)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
						b.logger.WithError(err).Warn("badger gc failed")
					}
					break
				}
			}
		}
	}
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}
