package semaphore

import (
	"container/list"
	"context"
	"sync"
)

// Semaphore bounds how many callers may hold a permit at once. Waiters are
// served in arrival order: a released permit always goes to the longest
// waiting caller. The bound can be changed while permits are held; a smaller
// bound admits nobody new until enough holders have released.
type Semaphore struct {
	mu      sync.Mutex
	max     int
	inUse   int
	waiters list.List // of chan struct{}
}

func New(max int) *Semaphore {
	if max < 1 {
		max = 1
	}
	return &Semaphore{max: max}
}

// Acquire blocks until a permit is available. It fails only when ctx is done
// first, in which case the caller holds nothing and must not Release.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.inUse < s.max && s.waiters.Len() == 0 {
		s.inUse++
		s.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	elem := s.waiters.PushBack(ready)
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-ready:
			// Granted while cancelling: hand the permit on.
			s.inUse--
		default:
			s.waiters.Remove(elem)
		}
		s.grant()
		s.mu.Unlock()
		return ctx.Err()
	}
}

func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inUse <= 0 {
		panic("semaphore: released more than held")
	}
	s.inUse--
	s.grant()
}

// Resize changes the bound and reports whether it differed. Growing wakes
// queued waiters in order; shrinking never revokes a held permit.
func (s *Semaphore) Resize(max int) bool {
	if max < 1 {
		max = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if max == s.max {
		return false
	}
	s.max = max
	s.grant()
	return true
}

// grant hands free permits to waiters from the front. Caller holds s.mu.
func (s *Semaphore) grant() {
	for s.inUse < s.max {
		front := s.waiters.Front()
		if front == nil {
			return
		}
		s.waiters.Remove(front)
		s.inUse++
		close(front.Value.(chan struct{}))
	}
}

func (s *Semaphore) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}

// Waiting reports how many callers are queued.
func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}

func (s *Semaphore) Max() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max
}
