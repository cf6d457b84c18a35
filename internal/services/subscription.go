package services

import (
	"context"
	"sync"

	"studio-board/internal/common"
	"studio-board/internal/interfaces"
)

// subscription re-runs its read after every write to its collection and
// delivers the result from its own goroutine. Pending notifications
// coalesce, so a burst of writes may produce a single delivery of the
// latest state.
type subscription struct {
	id         uint64
	collection string
	read       func()

	notify   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (sub *subscription) trigger() {
	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

func (sub *subscription) stop() {
	sub.stopOnce.Do(func() { close(sub.done) })
}

func (sub *subscription) stopped() bool {
	select {
	case <-sub.done:
		return true
	default:
		return false
	}
}

func (sub *subscription) loop() {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.notify:
			if sub.stopped() {
				return
			}
			sub.read()
		}
	}
}

func (s *documentStore) Subscribe(q interfaces.Query, onSnapshot interfaces.SnapshotFunc, onError interfaces.ErrorFunc) func() {
	sub := newSubscription(q.Collection)
	sub.read = func() {
		docs, err := s.Query(context.Background(), q)
		if sub.stopped() {
			return
		}
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		if docs == nil {
			docs = []interfaces.Document{}
		}
		onSnapshot(docs)
	}

	s.addSubscription(sub, onError)
	return func() { s.removeSubscription(sub) }
}

func (s *documentStore) SubscribeDocument(ref interfaces.DocumentRef, onSnapshot interfaces.DocumentFunc, onError interfaces.ErrorFunc) func() {
	sub := newSubscription(ref.Collection)
	sub.read = func() {
		doc, err := s.Get(context.Background(), ref)
		if sub.stopped() {
			return
		}
		if err != nil {
			if common.IsNotFound(err) {
				onSnapshot(nil)
				return
			}
			if onError != nil {
				onError(err)
			}
			return
		}
		onSnapshot(doc)
	}

	s.addSubscription(sub, onError)
	return func() { s.removeSubscription(sub) }
}

func newSubscription(collection string) *subscription {
	return &subscription{
		collection: collection,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

func (s *documentStore) addSubscription(sub *subscription, onError interfaces.ErrorFunc) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.stop()
		if onError != nil {
			onError(common.NewStorageError("STORE_CLOSED", "document store is closed"))
		}
		return
	}
	s.nextID++
	sub.id = s.nextID
	s.subs[sub.id] = sub
	s.mu.Unlock()

	sub.trigger()
	go sub.loop()
}

func (s *documentStore) removeSubscription(sub *subscription) {
	s.mu.Lock()
	delete(s.subs, sub.id)
	s.mu.Unlock()
	sub.stop()
}

func (s *documentStore) publish(collection string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.collection == collection {
			sub.trigger()
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (s *documentStore) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
