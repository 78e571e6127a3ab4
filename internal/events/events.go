// Package events implements the observer-registry-per-event-kind pattern
// called for in spec.md §9, replacing ad-hoc named event emitters: each
// entity (Cluster, ClusterClient, ClusterManager) owns one Hub keyed by a
// closed set of event kinds, and callers subscribe/unsubscribe explicitly
// rather than the core retaining unbounded listener lists.
package events

import "sync"

// Kind is one of the closed event kinds named in spec.md §9.
type Kind string

const (
	Spawn         Kind = "spawn"
	Ready         Kind = "ready"
	Disconnect    Kind = "disconnect"
	Reconnecting  Kind = "reconnecting"
	Death         Kind = "death"
	Error         Kind = "error"
	Message       Kind = "message"
	ClientRequest Kind = "clientRequest"
	ClusterDebug  Kind = "clusterDebug"
)

// Hub is a per-kind observer registry. The zero value is not usable; call
// NewHub. Safe for concurrent use.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[Kind]map[int]chan any
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[Kind]map[int]chan any)}
}

// Subscription identifies one registered listener so it can be removed.
type Subscription struct {
	kind Kind
	id   int
}

// On registers a listener for kind and returns a channel of delivered
// payloads plus a Subscription to later Off it. The channel is buffered so
// a slow listener cannot block the publisher; overflow is dropped.
func (h *Hub) On(kind Kind) (<-chan any, Subscription) {
	ch := make(chan any, 32)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[kind] == nil {
		h.subs[kind] = make(map[int]chan any)
	}
	id := h.nextID
	h.nextID++
	h.subs[kind][id] = ch
	return ch, Subscription{kind: kind, id: id}
}

// Off deregisters and closes the channel backing sub. Safe to call more
// than once.
func (h *Hub) Off(sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.subs[sub.kind]
	if m == nil {
		return
	}
	if ch, ok := m[sub.id]; ok {
		delete(m, sub.id)
		close(ch)
	}
	if len(m) == 0 {
		delete(h.subs, sub.kind)
	}
}

// Emit delivers payload to every current listener for kind. Listeners that
// are not keeping up silently miss the event rather than blocking Emit.
func (h *Hub) Emit(kind Kind, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[kind] {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Listeners reports how many subscribers are currently registered for kind,
// for tests and diagnostics.
func (h *Hub) Listeners(kind Kind) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[kind])
}
