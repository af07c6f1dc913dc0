package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
	"taskboard/transport"
)

type fakeQueue struct {
	mu        sync.Mutex
	batches   [][]transport.Message
	deleted   []string
	receiveFn func() error
}

func (f *fakeQueue) Receive(ctx context.Context, max int32, visibility time.Duration) ([]transport.Message, error) {
	if f.receiveFn != nil {
		if err := f.receiveFn(); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeQueue) Delete(ctx context.Context, m transport.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, m.ID)
	return nil
}

func (f *fakeQueue) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeCache struct {
	refreshFn func(key string) error
	refreshed []string
}

func (f *fakeCache) Refresh(ctx context.Context, key string) error {
	f.refreshed = append(f.refreshed, key)
	if f.refreshFn != nil {
		return f.refreshFn(key)
	}
	return nil
}

type stubPublisher struct {
	publishFn func(d domain.ChangeDescriptor) error
}

func (s stubPublisher) Publish(ctx context.Context, d domain.ChangeDescriptor) error {
	return s.publishFn(d)
}

func encodedMessage(t *testing.T, id string, d domain.ChangeDescriptor, dequeued int64) transport.Message {
	t.Helper()
	body, err := transport.Encode(d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return transport.Message{ID: id, PopReceipt: "pr-" + id, Body: body, DequeueCount: dequeued}
}

func TestHandleRefreshesPublishesAndDeletes(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	ctx := context.Background()

	pubsub := rc.Subscribe(ctx, "board-updates")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	done := make(chan string, 1)
	go func() {
		msg := <-pubsub.Channel()
		done <- msg.Payload
	}()

	logger, _ := test.NewNullLogger()
	q := &fakeQueue{}
	cache := &fakeCache{}
	r := &relay{queue: q, cache: cache, pub: transport.NewRedisPublisher(rc, "board-updates"), logger: logger, maxDequeue: 5}

	d := domain.ChangeDescriptor{Kind: domain.KindMove, StateKey: "alice", BoardID: "board-1", TaskID: "task-1", Version: 3, Time: time.Now().UTC()}
	r.handle(ctx, encodedMessage(t, "m1", d, 1))

	select {
	case payload := <-done:
		got, err := transport.Decode([]byte(payload))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.StateKey != "alice" || got.Version != 3 || got.Kind != domain.KindMove {
			t.Fatalf("unexpected descriptor %#v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("no message published")
	}
	if len(cache.refreshed) != 1 || cache.refreshed[0] != "alice" {
		t.Fatalf("unexpected refreshes %v", cache.refreshed)
	}
	if ids := q.deletedIDs(); len(ids) != 1 || ids[0] != "m1" {
		t.Fatalf("expected message deleted, got %v", ids)
	}
}

func TestHandleDropsMalformedMessage(t *testing.T) {
	logger, hook := test.NewNullLogger()
	q := &fakeQueue{}
	cache := &fakeCache{}
	r := &relay{queue: q, cache: cache, pub: stubPublisher{publishFn: func(domain.ChangeDescriptor) error {
		t.Fatalf("malformed message must not be published")
		return nil
	}}, logger: logger}

	r.handle(context.Background(), transport.Message{ID: "bad", PopReceipt: "pr", Body: []byte(`{"kind":""}`)})

	if ids := q.deletedIDs(); len(ids) != 1 || ids[0] != "bad" {
		t.Fatalf("expected malformed message deleted, got %v", ids)
	}
	if len(cache.refreshed) != 0 {
		t.Fatalf("unexpected cache refresh")
	}
	if hook.LastEntry() == nil || hook.LastEntry().Message != "dropping malformed change message" {
		t.Fatalf("expected warning for malformed message")
	}
}

func TestHandleRetriesThenGivesUp(t *testing.T) {
	logger, _ := test.NewNullLogger()
	q := &fakeQueue{}
	cache := &fakeCache{refreshFn: func(string) error { return errors.New("table unavailable") }}
	published := 0
	r := &relay{queue: q, cache: cache, pub: stubPublisher{publishFn: func(domain.ChangeDescriptor) error {
		published++
		return nil
	}}, logger: logger, maxDequeue: 3}

	d := domain.ChangeDescriptor{Kind: domain.KindCreate, StateKey: "bob", Version: 1, Time: time.Now()}
	r.handle(context.Background(), encodedMessage(t, "m1", d, 1))
	if ids := q.deletedIDs(); len(ids) != 0 {
		t.Fatalf("expected message kept for redelivery, deleted %v", ids)
	}

	r.handle(context.Background(), encodedMessage(t, "m1", d, 3))
	if ids := q.deletedIDs(); len(ids) != 1 {
		t.Fatalf("expected message dropped after max deliveries, deleted %v", ids)
	}
	if published != 0 {
		t.Fatalf("descriptor must not be published when the cache refresh failed")
	}
}

func TestRunDrainsQueueUntilCancelled(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := domain.ChangeDescriptor{Kind: domain.KindDelete, StateKey: "carol", TaskID: "task-2", Version: 2, Time: time.Now()}
	q := &fakeQueue{batches: [][]transport.Message{
		{encodedMessage(t, "a", d, 1), encodedMessage(t, "b", d, 1)},
		{encodedMessage(t, "c", d, 1)},
	}}
	calls := 0
	q.receiveFn = func() error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	}

	var mu sync.Mutex
	var got []uint64
	r := &relay{queue: q, pub: stubPublisher{publishFn: func(d domain.ChangeDescriptor) error {
		mu.Lock()
		got = append(got, d.Version)
		mu.Unlock()
		return nil
	}}, logger: logger, batch: 16, idle: 5 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(q.deletedIDs()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("relay did not drain the queue, deleted %v", q.deletedIDs())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("run did not stop after cancel")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("expected 3 published descriptors, got %d", len(got))
	}
}
