package main

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/transport"
)

type receiver interface {
	Receive(ctx context.Context, max int32, visibility time.Duration) ([]transport.Message, error)
	Delete(ctx context.Context, m transport.Message) error
}

type cacheRefresher interface {
	Refresh(ctx context.Context, key string) error
}

type relay struct {
	queue  receiver
	cache  cacheRefresher
	pub    transport.Publisher
	logger *log.Logger

	batch      int32
	visibility time.Duration
	idle       time.Duration
	// maxDequeue is how many deliveries a message gets before it is dropped.
	maxDequeue int64
}

func (r *relay) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := r.queue.Receive(ctx, r.batch, r.visibility)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.WithError(err).Error("receive")
			}
			r.sleep(ctx)
			continue
		}
		if len(msgs) == 0 {
			r.sleep(ctx)
			continue
		}
		for _, m := range msgs {
			r.handle(ctx, m)
		}
	}
}

func (r *relay) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(r.idle):
	}
}

// handle refreshes the snapshot cache for the message's state key, publishes
// the descriptor and deletes the message. A failing message is left on the
// queue for redelivery until it has been dequeued maxDequeue times.
func (r *relay) handle(ctx context.Context, m transport.Message) {
	logger := r.logger.WithField("message_id", m.ID)
	d, err := transport.Decode(m.Body)
	if err != nil {
		logger.WithError(err).Warn("dropping malformed change message")
		r.delete(ctx, logger, m)
		return
	}
	logger = logger.WithFields(log.Fields{"state_key": d.StateKey, "kind": d.Kind, "version": d.Version})

	if err := r.forward(ctx, d); err != nil {
		if r.maxDequeue > 0 && m.DequeueCount >= r.maxDequeue {
			logger.WithError(err).Error("giving up on change message")
			r.delete(ctx, logger, m)
			return
		}
		logger.WithError(err).Warn("change message will be retried")
		return
	}
	r.delete(ctx, logger, m)
	logger.Debug("change relayed")
}

func (r *relay) forward(ctx context.Context, d domain.ChangeDescriptor) error {
	if r.cache != nil {
		if err := r.cache.Refresh(ctx, d.StateKey); err != nil {
			return err
		}
	}
	return r.pub.Publish(ctx, d)
}

func (r *relay) delete(ctx context.Context, logger *log.Entry, m transport.Message) {
	if err := r.queue.Delete(ctx, m); err != nil {
		logger.WithError(err).Error("delete message")
	}
}
