package httpservice

import (
	"strings"
	"sync"
)

type listener[T any] struct {
	id     string
	topics map[string]struct{}
	ch     chan T
}

func newListener[T any](id string, topics []string) *listener[T] {
	topicsMap := make(map[string]struct{})
	for _, topic := range topics {
		if topic = formatTopic(topic); topic != "" {
			topicsMap[topic] = struct{}{}
		}
	}
	return &listener[T]{
		id:     id,
		topics: topicsMap,
		ch:     make(chan T, 100),
	}
}

// includes reports whether the listener subscribed to the topic. A listener
// without topics receives everything.
func (l *listener[T]) includes(topic string) bool {
	if len(l.topics) == 0 {
		return true
	}
	_, ok := l.topics[formatTopic(topic)]
	return ok
}

// broker fans out the events of the app service to the open event streams.
type broker[T any] struct {
	lock      sync.RWMutex
	listeners map[string]*listener[T]
}

func newBroker[T any]() *broker[T] {
	return &broker[T]{
		listeners: make(map[string]*listener[T]),
	}
}

func (h *broker[T]) pushListener(l *listener[T]) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.listeners[l.id] = l
}

func (h *broker[T]) removeListener(id string) {
	h.lock.Lock()
	defer h.lock.Unlock()

	delete(h.listeners, id)
}

func (h *broker[T]) hasListeners() bool {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.listeners) > 0
}

// publish sends the message to every listener subscribed to the topic. Slow
// listeners whose buffer is full miss the message.
func (h *broker[T]) publish(topic string, msg T) int {
	h.lock.RLock()
	defer h.lock.RUnlock()

	count := 0
	for _, l := range h.listeners {
		if !l.includes(topic) {
			continue
		}
		select {
		case l.ch <- msg:
			count++
		default:
		}
	}
	return count
}

func formatTopic(topic string) string {
	return strings.Trim(strings.ToLower(topic), " ")
}
