package participant

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/hypervideo/client-simulator/internal/simulator/metrics"
	"github.com/hypervideo/client-simulator/pkg/api"
)

// broker fans the actor's events out to subscribers. Publishing never blocks
// the actor: when a subscriber's buffer is full, log events are dropped and
// counted, while a state-changed or error event evicts the subscriber
// entirely, because delivering it late would present a reordered history.
type broker struct {
	mu          sync.Mutex
	subscribers map[int]chan api.Event
	nextId      int
	buffer      int
	closed      bool
}

func newBroker(buffer int) *broker {
	return &broker{
		subscribers: map[int]chan api.Event{},
		buffer:      buffer,
	}
}

// subscribe registers a new subscriber receiving events from now on. The
// returned cancel function is idempotent and safe to call after shutdown.
func (b *broker) subscribe() (<-chan api.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan api.Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextId
	b.nextId++
	ch := make(chan api.Event, b.buffer)
	b.subscribers[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
}

func (b *broker) publish(event api.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			if event.Kind == api.EventKindLog {
				metrics.RecordEventDropped(string(event.Kind))
				continue
			}
			log.Warnf("Evicting slow event subscriber of participant %s", event.ParticipantId)
			delete(b.subscribers, id)
			close(ch)
		}
	}
}

func (b *broker) shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
