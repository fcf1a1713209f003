package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"adgate/core"
)

// replayed event types are re-sent to every new subscriber so that UI shells
// observe the current preference and engagement count on connect.
var replayed = map[core.EventType]struct{}{
	core.EventAdsEnabledChanged:  {},
	core.EventEngagementRecorded: {},
	core.EventSlotStateChanged:   {},
}

type subscriber struct {
	ch    chan core.Event
	types map[core.EventType]struct{}
}

func (s subscriber) wants(t core.EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Hub fans controller events out to channels, replaying the latest
// state-carrying events to late subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	last map[core.EventType]core.Event
	next int
}

func NewHub() *Hub {
	return &Hub{subs: map[int]subscriber{}, last: map[core.EventType]core.Event{}}
}

// Subscribe returns a channel receiving events of the given types, or all
// events when none are given.
func (h *Hub) Subscribe(buffer int, types ...core.EventType) (int, <-chan core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	sub := subscriber{ch: make(chan core.Event, buffer)}
	if len(types) > 0 {
		sub.types = make(map[core.EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	for t, ev := range h.last {
		if sub.wants(t) {
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
	h.subs[id] = sub
	return id, sub.ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Len reports the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast records state-carrying events for replay and delivers ev to every
// interested subscriber. Sends never block; a full subscriber misses the event.
// Sends happen under mu so Unsubscribe cannot close a channel mid-send.
func (h *Hub) Broadcast(_ context.Context, ev core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := replayed[ev.Type]; ok {
		h.last[ev.Type] = ev
	}
	for _, sub := range h.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default: /* drop if full */
		}
	}
}

// MarshalJSON is a helper to convert events to JSON bytes for WebSocket/SSE.
func MarshalJSON(ev core.Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}
