package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"taskboard/domain"
)

func descriptor(key string) domain.ChangeDescriptor {
	return domain.ChangeDescriptor{
		Kind:              domain.KindMove,
		StateKey:          key,
		BoardID:           "board-1",
		AffectedColumnIDs: []string{"column-1", "column-2"},
		TaskID:            "task-1",
		Actor:             "auth0|user",
		Version:           3,
		Time:              time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestDecodeRejectsIncompleteDescriptors(t *testing.T) {
	data, err := Encode(descriptor("k"))
	require.NoError(t, err)
	d, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, descriptor("k"), d)

	_, err = Decode([]byte(`{"kind":"task-moved"}`))
	require.Error(t, err)
	_, err = Decode([]byte(`nope`))
	require.Error(t, err)
}

func TestRedisPublishAndSubscribe(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	var mu sync.Mutex
	var got []domain.ChangeDescriptor
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Subscribe(ctx, log.New(), rc, "board-updates", func(d domain.ChangeDescriptor) {
			mu.Lock()
			got = append(got, d)
			mu.Unlock()
		})
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("board-updates")) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, rc.Publish(context.Background(), "board-updates", "garbage").Err())
	require.NoError(t, NewRedisPublisher(rc, "board-updates").Publish(context.Background(), descriptor("alice")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	require.Equal(t, descriptor("alice"), got[0])
	mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Subscribe did not exit")
	}
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	deleted  []string
	failSend bool
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return azqueue.EnqueueMessagesResponse{}, errors.New("enqueue failure")
	}
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func (f *fakeQueue) DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var resp azqueue.DequeueMessagesResponse
	for i, m := range f.messages {
		if int32(i) >= *o.NumberOfMessages {
			break
		}
		id := "msg-" + string(rune('a'+i))
		receipt := "pop-" + id
		text := m
		count := int64(1)
		resp.Messages = append(resp.Messages, &azqueue.DequeuedMessage{MessageID: &id, PopReceipt: &receipt, MessageText: &text, DequeueCount: &count})
	}
	return resp, nil
}

func (f *fakeQueue) DeleteMessage(ctx context.Context, id, receipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id+"/"+receipt)
	return azqueue.DeleteMessageResponse{}, nil
}

func TestQueuePublishReceiveDelete(t *testing.T) {
	fq := &fakeQueue{}
	q := &Queue{client: fq}
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, descriptor("a")))
	require.NoError(t, q.Publish(ctx, descriptor("b")))

	msgs, err := q.Receive(ctx, 1, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	d, err := Decode(msgs[0].Body)
	require.NoError(t, err)
	require.Equal(t, "a", d.StateKey)

	require.NoError(t, q.Delete(ctx, msgs[0]))
	require.Equal(t, []string{"msg-a/pop-msg-a"}, fq.deleted)
	require.Error(t, q.Delete(ctx, Message{}))

	fq.failSend = true
	require.Error(t, q.Publish(ctx, descriptor("c")))
}

func TestBrokerDeliversPerKey(t *testing.T) {
	b := NewBroker(4)
	alice, cancelAlice := b.Subscribe("alice")
	bob, cancelBob := b.Subscribe("bob")
	defer cancelBob()

	require.NoError(t, b.Publish(context.Background(), descriptor("alice")))
	select {
	case data := <-alice:
		d, err := Decode(data)
		require.NoError(t, err)
		require.Equal(t, "alice", d.StateKey)
	case <-time.After(time.Second):
		t.Fatal("alice got nothing")
	}
	select {
	case <-bob:
		t.Fatal("bob received alice's update")
	default:
	}

	cancelAlice()
	cancelAlice()
	_, open := <-alice
	require.False(t, open)
	require.Equal(t, 0, b.Subscribers("alice"))

	b.Close()
	_, open = <-bob
	require.False(t, open)
	late, _ := b.Subscribe("carol")
	_, open = <-late
	require.False(t, open)
}

func TestBrokerDropsForSlowSubscribers(t *testing.T) {
	b := NewBroker(1)
	ch, cancel := b.Subscribe("k")
	defer cancel()
	b.Broadcast("k", []byte("1"))
	b.Broadcast("k", []byte("2"))
	require.Equal(t, "1", string(<-ch))
	select {
	case <-ch:
		t.Fatal("expected the second frame to be dropped")
	default:
	}
}

func TestStreamWritesFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	ch := make(chan []byte, 2)
	ch <- []byte(`{"kind":"task-moved"}`)
	close(ch)

	require.NoError(t, Stream(context.Background(), rec, ch, time.Minute))
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, ": connected\n\n"))
	require.Contains(t, body, "data: {\"kind\":\"task-moved\"}\n\n")
}

func TestHubPublishesToConnectedClients(t *testing.T) {
	hub := NewHub(log.New())
	defer hub.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, r.URL.Query().Get("key"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?key=alice"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients("alice") == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(context.Background(), descriptor("bob")))
	require.NoError(t, hub.Publish(context.Background(), descriptor("alice")))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	d, err := Decode(msg)
	require.NoError(t, err)
	require.Equal(t, "alice", d.StateKey)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients("alice") == 0 }, 2*time.Second, 10*time.Millisecond)
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, domain.ChangeDescriptor) error { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	b := NewBroker(1)
	ch, cancel := b.Subscribe("k")
	defer cancel()
	boom := errors.New("boom")

	err := Multi{failingPublisher{boom}, nil, b, Discard{}}.Publish(context.Background(), descriptor("k"))
	require.ErrorIs(t, err, boom)
	require.Len(t, ch, 1)

	require.NoError(t, Multi{Discard{}}.Publish(context.Background(), descriptor("k")))
}
