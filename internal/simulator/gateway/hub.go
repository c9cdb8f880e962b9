package gateway

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/hypervideo/client-simulator/internal/simulator/metrics"
	"github.com/hypervideo/client-simulator/pkg/api"
)

// hub aggregates the event streams of every participant on this gateway so
// external consumers can follow all of them over one subscription. Delivery
// semantics match the per-participant broker: log events are dropped when a
// subscriber is full, whereas an undeliverable state or error event evicts
// the subscriber, since delivering it late would reorder that participant's
// history.
type hub struct {
	mu          sync.Mutex
	subscribers map[int]*hubSubscriber
	nextId      int
	buffer      int
	closed      bool
}

type hubSubscriber struct {
	ch chan api.Event
	// participantId filters the subscription; empty means all participants.
	participantId string
}

func newHub(buffer int) *hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &hub{
		subscribers: map[int]*hubSubscriber{},
		buffer:      buffer,
	}
}

// subscribe registers a subscriber for all events, or for one participant's
// if participantId is non-empty. The cancel function is idempotent.
func (h *hub) subscribe(participantId string) (<-chan api.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		ch := make(chan api.Event)
		close(ch)
		return ch, func() {}
	}

	id := h.nextId
	h.nextId++
	subscriber := &hubSubscriber{
		ch:            make(chan api.Event, h.buffer),
		participantId: participantId,
	}
	h.subscribers[id] = subscriber

	return subscriber.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if existing, ok := h.subscribers[id]; ok {
			delete(h.subscribers, id)
			close(existing.ch)
		}
	}
}

func (h *hub) publish(event api.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	for id, subscriber := range h.subscribers {
		if subscriber.participantId != "" && subscriber.participantId != event.ParticipantId {
			continue
		}
		select {
		case subscriber.ch <- event:
		default:
			if event.Kind == api.EventKindLog {
				metrics.RecordEventDropped(string(event.Kind))
				continue
			}
			log.Warnf("Evicting slow gateway event subscriber, undeliverable %s event of participant %s",
				event.Kind, event.ParticipantId)
			delete(h.subscribers, id)
			close(subscriber.ch)
		}
	}
}

func (h *hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, subscriber := range h.subscribers {
		delete(h.subscribers, id)
		close(subscriber.ch)
	}
}
