package recipes

import "sync"

// recipeLocks hands out one mutex per recipe ID so mutations and rollbacks
// for the same recipe serialize while different recipes proceed in parallel.
// Mutexes are retained for the life of the process; the map is bounded by the
// number of recipes ever touched.
type recipeLocks struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func newRecipeLocks() *recipeLocks {
	return &recipeLocks{locks: make(map[uint]*sync.Mutex)}
}

func (r *recipeLocks) lock(recipeID uint) *sync.Mutex {
	r.mu.Lock()
	lock, ok := r.locks[recipeID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[recipeID] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock
}
