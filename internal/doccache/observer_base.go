package doccache

import "sync"

// SubscriptionID identifies one Observe subscription, returned so the
// caller can Unobserve later. It is just an opaque counter — nothing
// about it is meaningful beyond equality.
type SubscriptionID uint64

// observerSet is a subscription-id-keyed callback list, generalized from
// pkg/events/events.go's channel-based Broker/Subscriber pattern into a
// direct-callback form: spec.md §9's "observer pattern without heap
// cycles" note asks for callbacks invoked by value after the lock
// guarding the document is released, not a background broadcast loop, so
// there is no goroutine or buffered channel here — just a map and a
// counter, guarded by the set's own mutex rather than DocumentSnapshot's,
// so subscribe and fire can run while the document mutex is not held.
type observerSet struct {
	mu        sync.Mutex
	next      SubscriptionID
	callbacks map[SubscriptionID]func()
}

func newObserverSet() *observerSet {
	return &observerSet{callbacks: make(map[SubscriptionID]func())}
}

// subscribe registers fn and returns its subscription id.
func (o *observerSet) subscribe(fn func()) SubscriptionID {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next++
	id := o.next
	o.callbacks[id] = fn
	return id
}

// unsubscribe removes a previously registered callback. Unsubscribing an
// unknown or already-removed id is a no-op.
func (o *observerSet) unsubscribe(id SubscriptionID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.callbacks, id)
}

// snapshot returns a copy of the current callbacks, safe to invoke after
// releasing whatever lock triggered the notification — fire() is what
// DocumentSnapshot calls immediately after unlocking.
func (o *observerSet) snapshot() []func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]func(), 0, len(o.callbacks))
	for _, fn := range o.callbacks {
		out = append(out, fn)
	}
	return out
}

// fire invokes every currently registered callback. Callers must not hold
// the document's mutex when calling fire.
func (o *observerSet) fire() {
	for _, fn := range o.snapshot() {
		fn()
	}
}
