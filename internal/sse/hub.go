package sse

import (
	"encoding/json"
	"fmt"
	"sync"
)

// All subscribes to every broadcast regardless of audience.
const All = ""

// Hub fans dispatch notifications out to stream subscribers. Subscribers
// either follow one address or everything.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan []byte]struct{})}
}

func (h *Hub) Subscribe(email string) (chan []byte, func()) {
	ch := make(chan []byte, 8)
	h.mu.Lock()
	if _, ok := h.subs[email]; !ok {
		h.subs[email] = make(map[chan []byte]struct{})
	}
	h.subs[email][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if subscribers, ok := h.subs[email]; ok {
				delete(subscribers, ch)
				if len(subscribers) == 0 {
					delete(h.subs, email)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast delivers payload to subscribers of any address in emails and
// to every All subscriber. Slow subscribers miss messages rather than
// block the sender.
func (h *Hub) Broadcast(emails []string, payload []byte) {
	unique := map[string]struct{}{All: {}}
	for _, email := range emails {
		if email == "" {
			continue
		}
		unique[email] = struct{}{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for email := range unique {
		for ch := range h.subs[email] {
			select {
			case ch <- payload:
			default:
			}
		}
	}
}

// Subscribers reports the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subscribers := range h.subs {
		n += len(subscribers)
	}
	return n
}

// Frame encodes one server-sent event.
func Frame(event string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", event, err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)), nil
}
