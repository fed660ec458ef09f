// Package eventbus is a small per-instance publish/subscribe bus.
//
// Every scanner channel and picker owns its own Bus; there is no
// process-wide emitter.
package eventbus

import "sync"

// Listener receives the payload passed to Emit.
type Listener func(payload any)

type entry struct {
	id   uint64
	fn   Listener
	once bool
}

// Bus dispatches payloads to listeners registered per topic. Listeners run
// synchronously on the emitting goroutine, in registration order.
type Bus struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[string][]entry
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{listeners: make(map[string][]entry)}
}

// On registers fn for topic. The returned func removes it.
func (b *Bus) On(topic string, fn Listener) (off func()) {
	return b.add(topic, fn, false)
}

// Once registers fn for the next emission on topic only.
func (b *Bus) Once(topic string, fn Listener) (off func()) {
	return b.add(topic, fn, true)
}

func (b *Bus) add(topic string, fn Listener, once bool) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[topic] = append(b.listeners[topic], entry{id: id, fn: fn, once: once})
	b.mu.Unlock()
	return func() { b.remove(topic, id) }
}

func (b *Bus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.listeners[topic]
	for i, e := range list {
		if e.id == id {
			b.listeners[topic] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Emit calls every listener of topic with payload. Listeners added or
// removed during dispatch take effect from the next Emit.
func (b *Bus) Emit(topic string, payload any) {
	b.mu.Lock()
	list := b.listeners[topic]
	snapshot := make([]entry, len(list))
	copy(snapshot, list)
	kept := list[:0:0]
	for _, e := range list {
		if !e.once {
			kept = append(kept, e)
		}
	}
	if len(kept) != len(list) {
		b.listeners[topic] = kept
	}
	b.mu.Unlock()

	for _, e := range snapshot {
		e.fn(payload)
	}
}

// ListenerCount returns the number of listeners on topic.
func (b *Bus) ListenerCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[topic])
}

// RemoveAll drops the listeners of topic, or of every topic when topic is "".
func (b *Bus) RemoveAll(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic == "" {
		b.listeners = make(map[string][]entry)
		return
	}
	delete(b.listeners, topic)
}
