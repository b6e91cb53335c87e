package pool

import "sync"

// entityLocks hands out one mutex per entity id. Locks are never removed;
// the set of registered entities is small and bounded by operator action.
type entityLocks struct {
	locks sync.Map // string -> *sync.Mutex
}

func (l *entityLocks) lock(entity string) func() {
	v, _ := l.locks.LoadOrStore(entity, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
