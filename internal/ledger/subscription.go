package ledger

import (
	"context"
	"sync"
)

// Snapshot is the full collection, newest first, at one point in time.
// Snapshots are shared between subscribers and must not be modified.
type Snapshot []Record

// Subscription delivers snapshots on C until it is closed or its context ends.
type Subscription struct {
	ID string
	C  <-chan Snapshot

	out    chan Snapshot
	wake   chan struct{}
	done   chan struct{}
	exited chan struct{}
	once   sync.Once

	mu    sync.Mutex
	queue []Snapshot
}

func newSubscription(id string) *Subscription {
	out := make(chan Snapshot)
	return &Subscription{
		ID:     id,
		C:      out,
		out:    out,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// push queues a snapshot without ever blocking the caller
func (s *Subscription) push(snap Snapshot) {
	s.mu.Lock()
	s.queue = append(s.queue, snap)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) next() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	snap := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return snap, true
}

// run drains the queue into C; detach is called once delivery stops
func (s *Subscription) run(ctx context.Context, detach func()) {
	defer close(s.exited)
	defer close(s.out)
	defer func() {
		detach()
		s.mu.Lock()
		s.queue = nil
		s.mu.Unlock()
	}()

	for {
		snap, ok := s.next()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}

		select {
		case s.out <- snap:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close unsubscribes. Once Close returns C is closed and no further
// snapshots are delivered.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.done) })
	<-s.exited
}
