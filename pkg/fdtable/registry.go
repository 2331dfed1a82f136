package fdtable

import (
	"fmt"
	"sync"
)

// cage is one cage's slot table plus the lock that serializes every
// operation against it. Mirrors the teacher's registryEntry: a sync.Map
// entry per logical unit, each carrying its own RWMutex so that cages
// never block each other (spec section 5).
type cage struct {
	mu    sync.RWMutex
	slots *slotArray
}

// registry is the process-wide cage directory (C3): cageid -> *cage.
// sync.Map is the right shape here the same way it is in the teacher's
// lock.go fileRegistry: the key set churns (cages come and go via
// InitEmptyCage/Fork/Exit) far more often than any single entry is
// contended, which is the access pattern sync.Map is tuned for.
var registry sync.Map // map[uint64]*cage

// registryInsertNew installs a brand new, empty cage under cageid. It
// panics if cageid is already present: double-registering a cage is a
// caller bug (double init, or fork onto a live cageid), not a recoverable
// runtime condition.
func registryInsertNew(cageid uint64) *cage {
	c := &cage{slots: newSlotArray()}

	_, loaded := registry.LoadOrStore(cageid, c)
	if loaded {
		panic(fmt.Sprintf("fdtable: cage %d already exists", cageid))
	}

	return c
}

// registryInsert installs c under cageid, used by Fork to publish an
// already-populated child cage. Panics under the same conditions as
// registryInsertNew.
func registryInsert(cageid uint64, c *cage) {
	_, loaded := registry.LoadOrStore(cageid, c)
	if loaded {
		panic(fmt.Sprintf("fdtable: cage %d already exists", cageid))
	}
}

// registryLookup returns the cage for cageid, or panics if it doesn't
// exist: every exported operation below takes a cageid the host claims is
// live, and an unknown cageid means the host's own bookkeeping has
// diverged from the table's.
func registryLookup(cageid uint64) *cage {
	v, ok := registry.Load(cageid)
	if !ok {
		panic(fmt.Sprintf("fdtable: unknown cage %d", cageid))
	}

	return v.(*cage)
}

// registryRemove deletes cageid from the registry and returns the cage
// that was removed, or (nil, false) if it wasn't present.
func registryRemove(cageid uint64) (*cage, bool) {
	v, ok := registry.LoadAndDelete(cageid)
	if !ok {
		return nil, false
	}

	return v.(*cage), true
}

// registryContains reports whether cageid currently has a cage, without
// panicking. Used by Fork to pre-check the target cageid is free before
// doing any cloning work.
func registryContains(cageid uint64) bool {
	_, ok := registry.Load(cageid)

	return ok
}

// resetRegistryForTest discards every cage. Exercised only from tests; the
// running process never has a legitimate reason to forget every cage at
// once, mirroring the teacher's model/testutil reset helpers rather than
// anything the production API exposes.
func resetRegistryForTest() {
	registry.Range(func(key, _ any) bool {
		registry.Delete(key)

		return true
	})
}
