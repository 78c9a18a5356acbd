package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bincheck-api/internal/domain"
	"github.com/bincheck-api/internal/pkg/id"
	gocache "github.com/patrickmn/go-cache"
)

// subscriberBuffer bounds how far a subscriber may lag before events to it are dropped.
const subscriberBuffer = 16

// settledTTL is how long the final event of a request stays readable through
// Settled after the request itself may have been deleted.
const settledTTL = 15 * time.Minute

// Filter selects which events a subscription receives. A nil filter receives everything.
type Filter func(domain.StatusEvent) bool

type subscription struct {
	ch     chan domain.StatusEvent
	filter Filter
	queue  *queue // set for subscriptions that must see every event
}

// queue is an unbounded hand-off between Publish and one reliable subscriber.
type queue struct {
	mu     sync.Mutex
	items  []domain.StatusEvent
	notify chan struct{}
	done   chan struct{}
}

func (q *queue) push(e domain.StatusEvent) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pump forwards queued events to out in publish order and closes out once the
// subscription is released.
func (q *queue) pump(out chan<- domain.StatusEvent) {
	defer close(out)
	for {
		q.mu.Lock()
		batch := q.items
		q.items = nil
		q.mu.Unlock()
		for _, e := range batch {
			select {
			case out <- e:
			case <-q.done:
				return
			}
		}
		select {
		case <-q.notify:
		case <-q.done:
			return
		}
	}
}

// Broker fans status events out to in-process subscribers.
// Publish never blocks. A Subscribe subscriber whose buffer is full misses the
// event; a SubscribeReliable subscriber queues it instead.
type Broker struct {
	mu      sync.RWMutex
	subs    map[string]*subscription
	closed  bool
	settled *gocache.Cache
}

func NewBroker() *Broker {
	return &Broker{
		subs:    make(map[string]*subscription),
		settled: gocache.New(settledTTL, settledTTL),
	}
}

func settledKey(kind domain.RequestKind, requestID string) string {
	return string(kind) + "/" + requestID
}

// Settled returns the terminal event last published for a request, if it was
// published within settledTTL.
func (b *Broker) Settled(kind domain.RequestKind, requestID string) (domain.StatusEvent, bool) {
	v, ok := b.settled.Get(settledKey(kind, requestID))
	if !ok {
		return domain.StatusEvent{}, false
	}
	return v.(domain.StatusEvent), true
}

// Subscribe registers a subscription and returns its event channel and a
// release func. Release is idempotent and closes the channel.
func (b *Broker) Subscribe(filter Filter) (<-chan domain.StatusEvent, func()) {
	sub := &subscription{ch: make(chan domain.StatusEvent, subscriberBuffer), filter: filter}
	subID := id.New()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[subID] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { b.unsubscribe(subID) })
	}
}

// SubscribeReliable is Subscribe without drops: events the subscriber has not
// taken yet are queued in memory, however far it lags.
func (b *Broker) SubscribeReliable(filter Filter) (<-chan domain.StatusEvent, func()) {
	out := make(chan domain.StatusEvent)
	q := &queue{notify: make(chan struct{}, 1), done: make(chan struct{})}
	sub := &subscription{filter: filter, queue: q}
	subID := id.New()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(out)
		return out, func() {}
	}
	b.subs[subID] = sub
	b.mu.Unlock()
	go q.pump(out)

	var once sync.Once
	return out, func() {
		once.Do(func() { b.unsubscribe(subID) })
	}
}

// ForRequest returns a filter matching events for a single request.
func ForRequest(kind domain.RequestKind, requestID string) Filter {
	return func(e domain.StatusEvent) bool {
		return e.Kind == kind && e.RequestID == requestID
	}
}

func (b *Broker) unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[subID]; ok {
		delete(b.subs, subID)
		sub.release()
	}
}

func (s *subscription) release() {
	if s.queue != nil {
		close(s.queue.done)
		return
	}
	close(s.ch)
}

// Publish delivers e to every matching subscriber. Terminal events are also
// kept for Settled before any subscriber sees them.
func (b *Broker) Publish(e domain.StatusEvent) {
	if e.Status.Terminal() {
		b.settled.SetDefault(settledKey(e.Kind, e.RequestID), e)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for subID, sub := range b.subs {
		if sub.filter != nil && !sub.filter(e) {
			continue
		}
		if sub.queue != nil {
			sub.queue.push(e)
			continue
		}
		select {
		case sub.ch <- e:
		default:
			slog.Warn("dropping status event for slow subscriber",
				"subscription_id", subID, "request_id", e.RequestID, "status", e.Status)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close releases every subscription. Later subscriptions receive a closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for subID, sub := range b.subs {
		delete(b.subs, subID)
		sub.release()
	}
}
