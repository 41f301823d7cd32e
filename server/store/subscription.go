package store

import "sync"

// subscription is an ordered, unbounded event buffer between a store
// mutation and a subscriber channel. Mutations push under the store lock
// without blocking; a dedicated goroutine drains the buffer in order, so a
// slow subscriber can never stall the store or reorder events.
type subscription struct {
	mu     sync.Mutex
	buf    []interface{}
	closed bool

	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newSubscription() *subscription {
	return &subscription{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *subscription) push(event interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.buf = append(s.buf, event)

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// loop delivers buffered events in order until the subscription is closed.
// It blocks and is meant to be run in its own goroutine.
func (s *subscription) loop(deliver func(event interface{}) bool) {
	for {
		s.mu.Lock()
		buf := s.buf
		s.buf = nil
		s.mu.Unlock()

		for _, event := range buf {
			if !deliver(event) {
				s.close()

				return
			}
		}

		select {
		case <-s.notify:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.done)
	})
}
