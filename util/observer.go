package util

import "sync"

// A list of callbacks notified synchronously, in subscription order.
//
// Callbacks run on the goroutine that calls Notify. They must not call back
// into the mutating operations of whatever owns the Observers, otherwise they
// may observe a half finished change or deadlock on its lock.
type Observers[T any] struct {
	mu     sync.Mutex
	nextId uint64
	subs   map[uint64]func(T)
	order  []uint64
}

// Returned by Subscribe, used to stop receiving notifications.
type Subscription struct {
	cancel func()
	once   sync.Once
}

func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}

	s.once.Do(s.cancel)
}

func (o *Observers[T]) Subscribe(fn func(T)) *Subscription {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.subs == nil {
		o.subs = make(map[uint64]func(T))
	}

	id := o.nextId
	o.nextId++

	o.subs[id] = fn
	o.order = append(o.order, id)

	return &Subscription{cancel: func() { o.remove(id) }}
}

func (o *Observers[T]) remove(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.subs, id)

	for i, v := range o.order {
		if v == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

// Calls every subscriber with v. The subscriber list is copied first, so a
// callback may unsubscribe itself.
func (o *Observers[T]) Notify(v T) {
	o.mu.Lock()
	fns := make([]func(T), 0, len(o.order))
	for _, id := range o.order {
		fns = append(fns, o.subs[id])
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (o *Observers[T]) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.order)
}
