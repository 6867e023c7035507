package store

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription is a live listener on a single path. Updates carries the
// current value immediately on subscribe, then every subsequent change.
// Callers must Cancel when done to avoid listener accumulation.
type Subscription struct {
	id   string
	path string
	stop func()

	mu     sync.Mutex
	ch     chan Value
	closed bool
}

// NewSubscription builds a subscription delivering on a buffered channel.
// stop is invoked exactly once, on the first Cancel.
func NewSubscription(path string, buffer int, stop func()) *Subscription {
	if buffer <= 0 {
		buffer = 8
	}
	return &Subscription{
		id:   uuid.NewString(),
		path: path,
		ch:   make(chan Value, buffer),
		stop: stop,
	}
}

// ID is the unique handle identifier.
func (s *Subscription) ID() string { return s.id }

// Path is the subscribed path.
func (s *Subscription) Path() string { return s.path }

// Updates is the delivery channel; it closes on Cancel.
func (s *Subscription) Updates() <-chan Value { return s.ch }

// Cancel stops delivery and closes the channel. Safe to call repeatedly
// and safe against in-flight Deliver calls from store goroutines. stop
// runs outside the subscription lock; store implementations take their
// own locks in it.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
	if s.stop != nil {
		s.stop()
	}
}

// Deliver pushes a value without blocking: when the buffer is full the
// oldest pending value is dropped, so a slow consumer only ever lags, it
// never stalls the writer. After Cancel it is a silent no-op; store
// goroutines may race their last delivery against teardown. Intended for
// store implementations.
func (s *Subscription) Deliver(v Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- v:
	default:
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- v:
		default:
		}
	}
}

// SubscriptionSet tracks at most one subscription per path for a single
// consumer. Tracking a path that already has a live subscription cancels
// the old one first, preventing duplicate delivery.
type SubscriptionSet struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

func NewSubscriptionSet() *SubscriptionSet {
	return &SubscriptionSet{subs: make(map[string]*Subscription)}
}

// Track registers sub, cancelling any prior subscription on the same path.
func (set *SubscriptionSet) Track(sub *Subscription) {
	set.mu.Lock()
	prior := set.subs[sub.Path()]
	set.subs[sub.Path()] = sub
	set.mu.Unlock()
	if prior != nil {
		prior.Cancel()
	}
}

// CancelAll cancels every tracked subscription.
func (set *SubscriptionSet) CancelAll() {
	set.mu.Lock()
	subs := make([]*Subscription, 0, len(set.subs))
	for _, sub := range set.subs {
		subs = append(subs, sub)
	}
	set.subs = make(map[string]*Subscription)
	set.mu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}
}
