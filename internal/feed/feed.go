// Package feed bridges store change notifications into serialized
// snapshot callbacks.
//
// Every delivery carries the full current expense collection for one
// group, never a delta. Consumers recompute whatever they derive from
// scratch on each snapshot, so delivery order between writers does not
// matter and a subscription may coalesce: if snapshots arrive faster
// than the callback drains them, intermediate ones are replaced by the
// newest, which contains everything they did.
package feed

import (
	"errors"
	"sync"

	"github.com/splitledger/splitledger/internal/models"
)

// ErrSubscriptionLost is reported through Subscription.Err when a feed
// terminates without an explicit unsubscribe. Consumers should surface
// a stale-data warning rather than silently keep an outdated view.
var ErrSubscriptionLost = errors.New("change feed subscription lost")

// Snapshot is the complete expense collection of one group at a point
// in time.
type Snapshot struct {
	GroupID  string
	Expenses []models.Expense
}

// SnapshotFunc consumes snapshots. Calls on one subscription are
// serialized; the function must not block for long, it runs on the
// delivery goroutine.
type SnapshotFunc func(Snapshot)

// Subscription is the cancellable handle for one snapshot consumer.
// It must be released with Unsubscribe on every exit path; a leaked
// subscription keeps receiving and processing snapshots after its
// owner is gone.
type Subscription struct {
	fn SnapshotFunc

	ch   chan Snapshot
	stop chan struct{}
	done chan struct{}

	once sync.Once

	mu  sync.Mutex
	err error
}

// NewSubscription starts a subscription delivering snapshots to fn on
// a dedicated goroutine. Feed sources (hub, SSE client) push into it
// with Deliver and terminate it with Fail.
func NewSubscription(fn SnapshotFunc) *Subscription {
	s := &Subscription{
		fn:   fn,
		ch:   make(chan Snapshot, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Subscription) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case snap := <-s.ch:
			// Re-check stop so a pending snapshot cannot land after
			// Unsubscribe returns control to the owner.
			select {
			case <-s.stop:
				return
			default:
			}
			s.fn(snap)
		}
	}
}

// Deliver queues a snapshot, replacing any undelivered predecessor.
func (s *Subscription) Deliver(snap Snapshot) {
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}
		// Channel full: drop the stale pending snapshot and retry.
		select {
		case <-s.ch:
		default:
		}
	}
}

// Fail terminates the subscription with the given reason. Used by feed
// sources when the underlying stream dies.
func (s *Subscription) Fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.close()
}

// Unsubscribe stops delivery. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.close()
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.stop) })
}

// Done is closed once delivery has stopped, whether by Unsubscribe or
// by feed failure.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the failure reason, or nil after a clean unsubscribe.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Hub fans snapshots out to the subscriptions of each group. Stores
// publish into it after every successful write.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers fn for the group and immediately queues the
// provided current snapshot, so the first delivery happens without
// waiting for a change.
func (h *Hub) Subscribe(groupID string, current Snapshot, fn SnapshotFunc) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrSubscriptionLost
	}

	sub := NewSubscription(fn)
	if h.subs[groupID] == nil {
		h.subs[groupID] = make(map[*Subscription]struct{})
	}
	h.subs[groupID][sub] = struct{}{}
	sub.Deliver(current)

	// Reap the registration once the subscription ends.
	go func() {
		<-sub.Done()
		h.mu.Lock()
		delete(h.subs[groupID], sub)
		h.mu.Unlock()
	}()

	return sub, nil
}

// Publish delivers the snapshot to every subscription of its group,
// including the writer's own echoed back.
func (h *Hub) Publish(snap Snapshot) {
	h.mu.Lock()
	targets := make([]*Subscription, 0, len(h.subs[snap.GroupID]))
	for sub := range h.subs[snap.GroupID] {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.Deliver(snap)
	}
}

// Close terminates every subscription with ErrSubscriptionLost. Called
// when the owning store shuts down.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, group := range h.subs {
		for sub := range group {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		sub.Fail(ErrSubscriptionLost)
	}
}
