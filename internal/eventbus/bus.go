// Package eventbus fans pipeline events out to several observers.
//
// Two subscription policies exist:
//
//   - Sync: the observer is called inline on the pipeline goroutine. Used by
//     consumers that must see every event in order (metrics, display, report
//     writer, store).
//   - Async (DropNew): events are queued on a bounded channel drained by a
//     dedicated goroutine. When the queue is full the event is dropped and
//     counted, so a slow consumer (the MQTT emitter) never stalls detection.
//
// For every subscriber Sent + Dropped == Published once the bus is drained.
package eventbus

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/care/sentinel/internal/pipeline"
)

var (
	ErrBusClosed          = errors.New("eventbus: bus is closed")
	ErrSubscriberExists   = errors.New("eventbus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("eventbus: subscriber not found")
	ErrNilObserver        = errors.New("eventbus: nil observer")
)

// Policy selects how a subscriber receives events.
type Policy int

const (
	// Sync delivers inline and never drops
	Sync Policy = iota
	// DropNew queues events and drops new ones when the queue is full
	DropNew
)

func (p Policy) String() string {
	if p == Sync {
		return "sync"
	}
	return "drop_new"
}

// SubscriberStats tracks delivery for one subscriber.
type SubscriberStats struct {
	Policy  string `json:"policy"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// Stats is a snapshot of the whole bus.
type Stats struct {
	TotalPublished uint64                     `json:"total_published"`
	TotalSent      uint64                     `json:"total_sent"`
	TotalDropped   uint64                     `json:"total_dropped"`
	Subscribers    map[string]SubscriberStats `json:"subscribers"`
}

type subscriber struct {
	id       string
	policy   Policy
	observer pipeline.Observer

	sent    atomic.Uint64
	dropped atomic.Uint64

	queue chan pipeline.Event
	done  chan struct{}
}

// Bus implements pipeline.Observer.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	published   atomic.Uint64
	closed      bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers an inline observer.
func (b *Bus) Subscribe(id string, o pipeline.Observer) error {
	return b.add(&subscriber{id: id, policy: Sync, observer: o})
}

// SubscribeAsync registers an observer behind a queue of the given capacity.
func (b *Bus) SubscribeAsync(id string, o pipeline.Observer, capacity int) error {
	if capacity <= 0 {
		capacity = 1
	}
	s := &subscriber{
		id:       id,
		policy:   DropNew,
		observer: o,
		queue:    make(chan pipeline.Event, capacity),
		done:     make(chan struct{}),
	}
	if err := b.add(s); err != nil {
		return err
	}
	go s.drain()
	return nil
}

func (b *Bus) add(s *subscriber) error {
	if s.observer == nil {
		return ErrNilObserver
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[s.id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[s.id] = s

	slog.Debug("event subscriber registered", "id", s.id, "policy", s.policy.String())
	return nil
}

// OnEvent publishes e to every subscriber.
func (b *Bus) OnEvent(e pipeline.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for _, s := range b.subscribers {
		switch s.policy {
		case Sync:
			s.observer.OnEvent(e)
			s.sent.Add(1)
		case DropNew:
			select {
			case s.queue <- e:
				s.sent.Add(1)
			default:
				s.dropped.Add(1)
			}
		}
	}
}

func (s *subscriber) drain() {
	defer close(s.done)
	for e := range s.queue {
		s.observer.OnEvent(e)
	}
}

// stop closes the queue and waits for the drain goroutine. Caller holds b.mu.
func (s *subscriber) stop() {
	if s.policy == DropNew {
		close(s.queue)
		<-s.done
	}
}

// Unsubscribe removes a subscriber after delivering its queued events.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	s.stop()
	return nil
}

// Stats returns a snapshot of delivery counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{
		TotalPublished: b.published.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, s := range b.subscribers {
		ss := SubscriberStats{
			Policy:  s.policy.String(),
			Sent:    s.sent.Load(),
			Dropped: s.dropped.Load(),
		}
		st.TotalSent += ss.Sent
		st.TotalDropped += ss.Dropped
		st.Subscribers[id] = ss
	}
	return st
}

// Subscribers returns the registered IDs, sorted.
func (b *Bus) Subscribers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.subscribers))
	for id := range b.subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close drains async subscribers and rejects further use. Safe to call twice.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, s := range b.subscribers {
		s.stop()
	}
	b.subscribers = nil
}
