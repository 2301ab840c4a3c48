package server

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

const channelName = "termchat-messages"

// Broker fans deliveries out to every hub instance, the local one included.
type Broker interface {
	Publish(ctx context.Context, payload []byte) error
	// Subscribe returns the delivery channel and a func that ends the
	// subscription and closes the channel.
	Subscribe(ctx context.Context) (<-chan []byte, func())
}

// LocalBroker serves a single instance.
type LocalBroker struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[chan []byte]struct{})}
}

func (b *LocalBroker) Publish(ctx context.Context, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(_ context.Context) (<-chan []byte, func()) {
	ch := make(chan []byte, 256)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// RedisBroker lets several server instances share deliveries.
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, payload []byte) error {
	return b.client.Publish(ctx, channelName, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan []byte, func()) {
	pubsub := b.client.Subscribe(ctx, channelName)
	out := make(chan []byte, 256)
	done := make(chan struct{})

	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(done)
			pubsub.Close()
		})
	}
}
