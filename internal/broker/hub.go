package broker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Observer is one subscribed websocket client. Events carries marshalled
// frames; Kill is closed when the hub forgets the observer, telling the
// writer loop to close the connection. UserCode is bound once the client
// identifies itself and is mutated only under the hub lock.
type Observer struct {
	ID       string
	Topic    string
	UserCode string
	Events   chan []byte
	Kill     chan struct{}
}

// observerBuffer bounds per-client queueing. A slow client overflows its
// buffer and loses frames, which is the at-most-once contract: presence
// self-heals on the next throttled update or reconnect snapshot.
const observerBuffer = 16

func NewObserver(topic string) *Observer {
	return &Observer{
		ID:     uuid.New().String(),
		Topic:  topic,
		Events: make(chan []byte, observerBuffer),
		Kill:   make(chan struct{}),
	}
}

// Hub fans payloads out to registered observers, either to every
// subscriber of a topic or to one addressed user.
type Hub struct {
	log *slog.Logger

	mtx       sync.RWMutex
	observers map[string]*Observer
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:       log,
		observers: make(map[string]*Observer),
	}
}

func (h *Hub) Observe(o *Observer) {
	h.mtx.Lock()
	h.observers[o.ID] = o
	h.mtx.Unlock()
}

// Bind attaches a user identity to an already-registered observer, so
// addressed payloads can find it.
func (h *Hub) Bind(id, userCode string) {
	h.mtx.Lock()
	if o, ok := h.observers[id]; ok {
		o.UserCode = userCode
	}
	h.mtx.Unlock()
}

// Forget removes the observer and closes its Kill channel, so forgetting
// a live session also tears down its socket. Forgetting twice is a no-op.
func (h *Hub) Forget(id string) {
	h.mtx.Lock()
	if o, ok := h.observers[id]; ok {
		delete(h.observers, id)
		close(o.Kill)
	}
	h.mtx.Unlock()
}

// Observers returns the current subscriber count.
func (h *Hub) Observers() int {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	return len(h.observers)
}

// Publish delivers payload to every observer of topic. Sends never
// block: a full observer buffer drops the frame.
func (h *Hub) Publish(topic string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	for _, o := range h.snapshot() {
		if o.Topic != topic {
			continue
		}
		select {
		case o.Events <- b:
		default:
			h.log.Debug("observer buffer full, dropping frame", "observer", o.ID)
		}
	}
	return nil
}

// PublishUser delivers payload only to observers bound to the given
// user's session.
func (h *Hub) PublishUser(userCode string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	for _, o := range h.snapshot() {
		if o.UserCode == "" || o.UserCode != userCode {
			continue
		}
		select {
		case o.Events <- b:
		default:
			h.log.Debug("observer buffer full, dropping frame", "observer", o.ID)
		}
	}
	return nil
}

// snapshot copies observers under the read lock; channel fields keep
// their identity, so sends after the copy still reach the writer loops.
func (h *Hub) snapshot() []Observer {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	out := make([]Observer, 0, len(h.observers))
	for _, o := range h.observers {
		out = append(out, *o)
	}
	return out
}
