// Package event provides the in-process signal bus through which the
// synchronizer announces completed cycles and learns about local clock
// jumps. The bus carries zero-payload signals only.
package event

import (
	"sync"
)

const (
	// TopicSyncCompleted is published once per synchronization cycle,
	// when the first trusted sample arrives.
	TopicSyncCompleted = "sync.completed"
	// TopicClockChanged is published when the local wall clock is
	// adjusted by a significant, discontinuous amount.
	TopicClockChanged = "clock.changed"
)

type Bus interface {
	// Publish signals all current subscribers of topic. It never blocks;
	// a subscriber that has not drained its previous signal is skipped,
	// signals are coalesced rather than queued.
	Publish(topic string)
	// Subscribe registers interest in topic. The returned function
	// cancels the subscription.
	Subscribe(topic string) (<-chan struct{}, func())
}

type memBus struct {
	mu   sync.Mutex
	subs map[string]map[int]chan struct{}
	next int
}

func NewBus() Bus {
	return &memBus{subs: make(map[string]map[int]chan struct{})}
}

func (b *memBus) Publish(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (b *memBus) Subscribe(topic string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	id := b.next
	b.next++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan struct{})
	}
	b.subs[topic][id] = ch
	b.mu.Unlock()
	cancel := func() {
		b.mu.Lock()
		delete(b.subs[topic], id)
		b.mu.Unlock()
	}
	return ch, cancel
}
