package main

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/storage"
)

type tableCreator interface {
	CreateTable(ctx context.Context, o *aztables.CreateTableOptions) (aztables.CreateTableResponse, error)
}

type queueCreator interface {
	Create(ctx context.Context, o *azqueue.CreateOptions) (azqueue.CreateResponse, error)
}

type stateStore interface {
	Load(ctx context.Context, key string) (domain.AppState, error)
	Save(ctx context.Context, key string, s domain.AppState) error
}

func createTables(ctx context.Context, client func(name string) tableCreator, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := client(name).CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
		log.WithField("table", name).Debug("table ready")
	}
	return nil
}

func createQueues(ctx context.Context, client func(name string) (queueCreator, error), names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := client(name)
		if err != nil {
			return err
		}
		_, err = q.Create(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return err
			}
		}
		log.WithField("queue", name).Debug("queue ready")
	}
	return nil
}

// seedState stores st under key unless something is already there. It
// reports whether it wrote.
func seedState(ctx context.Context, store stateStore, key string, st domain.AppState) (bool, error) {
	_, err := store.Load(ctx, key)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, storage.ErrNotFound):
		return false, err
	}
	if err := store.Save(ctx, key, st); err != nil {
		return false, err
	}
	return true, nil
}
