package occupancy

import (
	"errors"
	"sync"
)

// ErrLockQueueFull is returned when the total number of waiters across all
// vehicle locks has reached the configured bound.
var ErrLockQueueFull = errors.New("vehicle lock queue is full")

type vehicleLock struct {
	mutex sync.Mutex
	refs  int
}

// keyLock serialises state updates per vehicle id. Locks are created on
// demand and dropped once no holder or waiter remains, so the map only ever
// holds vehicles with in-flight updates. The pending bound fails new
// arrivals fast instead of queueing unbounded memory behind a stuck vehicle.
type keyLock struct {
	mutex      sync.Mutex
	locks      map[string]*vehicleLock
	pending    int
	maxPending int
}

func newKeyLock(maxPending int) *keyLock {
	return &keyLock{
		locks:      map[string]*vehicleLock{},
		maxPending: maxPending,
	}
}

// Acquire blocks until the vehicle's lock is held and returns the release
// function. Fails fast with ErrLockQueueFull beyond the pending bound.
func (k *keyLock) Acquire(vehicleID string) (func(), error) {
	k.mutex.Lock()

	if k.pending >= k.maxPending {
		k.mutex.Unlock()
		return nil, ErrLockQueueFull
	}

	entry := k.locks[vehicleID]
	if entry == nil {
		entry = &vehicleLock{}
		k.locks[vehicleID] = entry
	}
	entry.refs++
	k.pending++

	k.mutex.Unlock()

	entry.mutex.Lock()

	k.mutex.Lock()
	k.pending--
	k.mutex.Unlock()

	release := func() {
		entry.mutex.Unlock()

		k.mutex.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, vehicleID)
		}
		k.mutex.Unlock()
	}

	return release, nil
}
