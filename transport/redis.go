// Package transport delivers change descriptors to other clients.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// Publisher delivers one change descriptor.
type Publisher interface {
	Publish(ctx context.Context, d domain.ChangeDescriptor) error
}

// Encode serializes a descriptor for the wire.
func Encode(d domain.ChangeDescriptor) ([]byte, error) {
	return sonic.Marshal(d)
}

// Decode parses a descriptor and rejects ones without a kind or state key.
func Decode(data []byte) (domain.ChangeDescriptor, error) {
	var d domain.ChangeDescriptor
	if err := sonic.Unmarshal(data, &d); err != nil {
		return domain.ChangeDescriptor{}, fmt.Errorf("decode descriptor: %w", err)
	}
	if d.Kind == "" || d.StateKey == "" {
		return domain.ChangeDescriptor{}, errors.New("decode descriptor: missing kind or state key")
	}
	return d, nil
}

// RedisPublisher publishes descriptors on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, d domain.ChangeDescriptor) error {
	data, err := Encode(d)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Subscribe listens on channel and hands every decodable descriptor to
// handle until ctx is done, resubscribing when the subscription drops.
func Subscribe(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, handle func(domain.ChangeDescriptor)) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				d, err := Decode([]byte(msg.Payload))
				if err != nil {
					logger.WithError(err).WithField("channel", channel).Error("unable to parse update")
					continue
				}
				handle(d)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.WithField("channel", channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
