package orchestrator

import (
	"sync"
	"time"

	"github.com/h2oai/h2o-3-sub001/internal/model"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 256

// EventType names a run event.
type EventType string

// Run events.
const (
	EventRunStarted  EventType = "run_started"
	EventCloudState  EventType = "cloud_state"
	EventJobStarted  EventType = "job_started"
	EventJobFinished EventType = "job_finished"
	EventRunFinished EventType = "run_finished"
)

// Event is one progress notification.
type Event struct {
	Type    EventType      `json:"type"`
	Time    time.Time      `json:"time"`
	RunID   string         `json:"run_id"`
	Cloud   *CloudStatus   `json:"cloud,omitempty"`
	Job     *model.Result  `json:"job,omitempty"`
	Summary *model.Summary `json:"summary,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Broker fans run events out to subscribers. It is safe for concurrent use.
//
// Once closed, new subscribers receive a closed channel so a client connecting
// after the run ends does not block forever.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBroker creates an open broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and an unsubscribe function.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

// Publish sends ev to every subscriber, dropping it for full buffers.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends the stream. Subscriber channels are closed.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
