package gateway

import (
	"encoding/json"
	"sync"
)

// Handler receives the raw payload of a server event.
type Handler func(payload json.RawMessage)

// registry holds external event handlers, one set per event name.
type registry struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[string]map[uint64]Handler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string]map[uint64]Handler)}
}

func (r *registry) add(event string, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	id := r.next
	set, ok := r.handlers[event]
	if !ok {
		set = make(map[uint64]Handler)
		r.handlers[event] = set
	}
	set[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.handlers[event], id)
			if len(r.handlers[event]) == 0 {
				delete(r.handlers, event)
			}
		})
	}
}

func (r *registry) lookup(event string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.handlers[event]
	out := make([]Handler, 0, len(set))
	for _, h := range set {
		out = append(out, h)
	}
	return out
}
