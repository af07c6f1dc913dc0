package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"taskboard/domain"
)

// Broker fans encoded descriptors out to in-process subscribers of a state
// key. A subscriber that falls behind misses frames rather than blocking
// publishers.
type Broker struct {
	buffer int

	mu     sync.Mutex
	subs   map[string]map[chan []byte]struct{}
	closed bool
}

func NewBroker(buffer int) *Broker {
	if buffer < 1 {
		buffer = 1
	}
	return &Broker{buffer: buffer, subs: map[string]map[chan []byte]struct{}{}}
}

// Subscribe registers a subscriber for key. The returned cancel func must be
// called once the subscriber is done; the channel is closed by cancel or by
// Close.
func (b *Broker) Subscribe(key string) (<-chan []byte, func()) {
	ch := make(chan []byte, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	set, ok := b.subs[key]
	if !ok {
		set = map[chan []byte]struct{}{}
		b.subs[key] = set
	}
	set[ch] = struct{}{}
	return ch, func() { b.remove(key, ch) }
}

func (b *Broker) remove(key string, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[key]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(b.subs, key)
	}
}

func (b *Broker) Publish(ctx context.Context, d domain.ChangeDescriptor) error {
	data, err := Encode(d)
	if err != nil {
		return err
	}
	b.Broadcast(d.StateKey, data)
	return nil
}

// Broadcast sends data to every subscriber of key without blocking.
func (b *Broker) Broadcast(key string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[key] {
		select {
		case ch <- data:
		default:
		}
	}
}

// Subscribers reports how many subscribers key has.
func (b *Broker) Subscribers(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[key])
}

// Close disconnects every subscriber.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for key, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, key)
	}
}

// Stream writes frames from ch to w as server-sent events until ctx ends or
// ch is closed, with a comment line every keepAlive to hold proxies open.
func Stream(ctx context.Context, w http.ResponseWriter, ch <-chan []byte, keepAlive time.Duration) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errors.New("stream unsupported")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(": connected\n\n")); err != nil {
		return err
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return err
			}
			flusher.Flush()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return err
			}
			if _, err := w.Write(data); err != nil {
				return err
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}
