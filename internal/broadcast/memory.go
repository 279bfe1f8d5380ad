package broadcast

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryBroadcaster delivers events to in-process subscribers. Each
// subscriber owns an unbounded pending queue drained by its own goroutine, so
// a slow handler never blocks publishers and never loses events either: every
// event published while a subscription is live reaches its handler, in
// publish order, unless the subscriber unsubscribes first.
type MemoryBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]*memorySubscriber
	lastSubID   int
	queueHint   int
	closed      bool
	logger      *zap.Logger
}

// memorySubscriber buffers undelivered events for one subscription. The
// queue grows as needed; backpressure on the publisher would reintroduce
// cross-subscriber coupling, and dropping would break delivery guarantees.
type memorySubscriber struct {
	mu      sync.Mutex
	wake    *sync.Cond
	pending []Event
	closed  bool
}

func newMemorySubscriber(queueHint int) *memorySubscriber {
	s := &memorySubscriber{pending: make([]Event, 0, queueHint)}
	s.wake = sync.NewCond(&s.mu)
	return s
}

func (s *memorySubscriber) enqueue(evt Event) {
	s.mu.Lock()
	if !s.closed {
		s.pending = append(s.pending, evt)
		s.wake.Signal()
	}
	s.mu.Unlock()
}

// next blocks until an event is pending or the subscription closes. Pending
// events are drained even after close, so unsubscribing never discards what
// was already accepted.
func (s *memorySubscriber) next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) == 0 && !s.closed {
		s.wake.Wait()
	}
	if len(s.pending) == 0 {
		return Event{}, false
	}
	evt := s.pending[0]
	s.pending = s.pending[1:]
	return evt, true
}

func (s *memorySubscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.wake.Broadcast()
	s.mu.Unlock()
}

// NewMemoryBroadcaster constructs an in-process broadcaster. queueHint sizes
// each subscriber's initial queue capacity.
func NewMemoryBroadcaster(queueHint int, logger *zap.Logger) *MemoryBroadcaster {
	if queueHint <= 0 {
		queueHint = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBroadcaster{
		subscribers: make(map[string]map[int]*memorySubscriber),
		queueHint:   queueHint,
		logger:      logger,
	}
}

// Publish delivers the event to every current subscriber of the topic.
func (b *MemoryBroadcaster) Publish(ctx context.Context, topic string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, sub := range b.subscribers[topic] {
		sub.enqueue(event)
	}
	return nil
}

// Subscribe registers a handler for a topic and returns its unsubscribe
// function. Unsubscribing is idempotent.
func (b *MemoryBroadcaster) Subscribe(topic string, handler Handler) (func(), error) {
	sub := newMemorySubscriber(b.queueHint)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return func() {}, nil
	}
	b.lastSubID++
	id := b.lastSubID
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[int]*memorySubscriber)
	}
	b.subscribers[topic][id] = sub
	b.mu.Unlock()

	go func() {
		for {
			evt, ok := sub.next()
			if !ok {
				return
			}
			handler(evt)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.subscribers[topic]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.subscribers, topic)
				}
			}
			b.mu.Unlock()
			sub.close()
		})
	}, nil
}

// Close tears down all subscribers.
func (b *MemoryBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.subscribers {
		for id, sub := range subs {
			sub.close()
			delete(subs, id)
		}
		delete(b.subscribers, topic)
	}
	return nil
}
