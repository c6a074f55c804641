// Package broker fans row changes out to per-key subscribers. Stores use it to
// implement their push channels.
package broker

import (
	"context"
	"sync"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 256

// Broker delivers values published under a key to that key's subscribers.
// Delivery never blocks: a subscriber whose buffer is full is disconnected,
// which it observes as a closed channel.
type Broker[T any] struct {
	mu     sync.Mutex
	buffer int
	subs   map[string]map[*subscription[T]]struct{}
}

// New creates a Broker with the given per-subscriber buffer.
func New[T any](buffer int) *Broker[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker[T]{buffer: buffer, subs: make(map[string]map[*subscription[T]]struct{})}
}

// Subscribe registers a subscriber for key until ctx ends or Close.
func (b *Broker[T]) Subscribe(ctx context.Context, key string) scrape.Subscription[T] {
	sub := &subscription[T]{ch: make(chan T, b.buffer)}
	sub.remove = func() { b.drop(key, sub) }
	b.mu.Lock()
	if b.subs[key] == nil {
		b.subs[key] = make(map[*subscription[T]]struct{})
	}
	b.subs[key][sub] = struct{}{}
	b.mu.Unlock()
	context.AfterFunc(ctx, sub.Close)
	return sub
}

// Publish delivers v to every subscriber of key.
func (b *Broker[T]) Publish(key string, v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[key] {
		select {
		case sub.ch <- v:
		default:
			b.dropLocked(key, sub)
		}
	}
}

// Count returns the number of subscribers of key.
func (b *Broker[T]) Count(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[key])
}

// DisconnectAll closes every subscriber, as if the push connection dropped.
// The broker stays usable for new subscriptions.
func (b *Broker[T]) DisconnectAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, set := range b.subs {
		for sub := range set {
			b.dropLocked(key, sub)
		}
	}
}

func (b *Broker[T]) drop(key string, sub *subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(key, sub)
}

func (b *Broker[T]) dropLocked(key string, sub *subscription[T]) {
	if _, ok := b.subs[key][sub]; !ok {
		return
	}
	delete(b.subs[key], sub)
	if len(b.subs[key]) == 0 {
		delete(b.subs, key)
	}
	close(sub.ch)
}

type subscription[T any] struct {
	ch     chan T
	once   sync.Once
	remove func()
}

func (s *subscription[T]) Events() <-chan T {
	return s.ch
}

func (s *subscription[T]) Close() {
	s.once.Do(s.remove)
}
