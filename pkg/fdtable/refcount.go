package fdtable

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// refcounts is the process-wide realfd -> open-count map (C4). A real
// descriptor is shared across cages (dup-like SetSpecific, fork) without
// multiplying kernel descriptors, so closing it for real must wait until
// every cage referencing it has let go.
//
// Modeled on the teacher's fileRegistry/fileRegistryEntry.openCount idiom
// (pkg/slotcache/lock.go): a sync.Map of *atomic.Int64 entries, with the
// same CAS-retry create loop and CompareAndDelete-guarded removal, so
// that a count reaching zero and being deleted can never race with a
// fresh increment on the same key resurrecting it under a stale entry.
var refcounts sync.Map // map[uint64]*atomic.Int64

// incrementRealFD records a new reference to fd. It is a no-op for every
// sentinel value (NoRealFD, EpollFD, InvalidFD): none of them denote a
// real descriptor shared underneath the table, so none of them are
// counted. This matters for CreateEpoll, which allocates a slot holding
// EpollFD through the same Allocate path as any other fd and must not
// have that turn into a tracked "reference" to the sentinel.
//
// Mirrors getOrCreateRegistryEntry's loop: an entry whose count has
// already been decremented to zero is in the process of being removed by
// some decrementRealFD call, so CompareAndSwap-ing it back up is wrong
// (that caller may delete it out from under us); instead we fall through
// and either adopt the next live entry or install a brand new one.
func incrementRealFD(fd uint64) {
	if isSentinel(fd) {
		return
	}

	for {
		if val, loaded := refcounts.Load(fd); loaded {
			entry := val.(*atomic.Int64)

			for {
				old := entry.Load()
				if old <= 0 {
					// Zero or being zeroed: this entry is mid-removal by a
					// concurrent decrementRealFD. Don't resurrect it;
					// retry the outer loop to race for a fresh one.
					break
				}

				if entry.CompareAndSwap(old, old+1) {
					return
				}
			}

			continue
		}

		fresh := new(atomic.Int64)
		fresh.Store(1)

		if _, loaded := refcounts.LoadOrStore(fd, fresh); !loaded {
			return
		}
		// Another goroutine stored first; retry and adopt whatever is there.
	}
}

// decrementRealFD drops a reference to fd and reports the count
// afterward. It panics if fd is a sentinel or isn't currently tracked:
// retire() (fdtable.go) special-cases all three sentinels before ever
// calling decrementRealFD, so reaching here with one, or with an fd this
// counter never saw an increment for, means the table's own bookkeeping
// is broken.
//
// The zero-count removal uses CompareAndDelete(fd, entry) rather than a
// plain Delete, exactly as releaseRegistryEntry does: Delete would remove
// whatever entry currently sits at fd even if a concurrent
// incrementRealFD had already replaced it, losing that fresh reference
// (RC-2) and letting a later decrement panic as "untracked". A racing
// incrementRealFD either lands on this same entry after it has already
// read <= 0 (and so takes the create-fresh path above instead of
// reviving it) or happens-before this decrement entirely, so
// CompareAndDelete here never removes a count a fresh reference just
// established.
func decrementRealFD(fd uint64) int64 {
	if isSentinel(fd) {
		panic(fmt.Sprintf("fdtable: attempted to decrement sentinel realfd %#x", fd))
	}

	val, ok := refcounts.Load(fd)
	if !ok {
		panic(fmt.Sprintf("fdtable: decrement of untracked realfd %d", fd))
	}

	entry := val.(*atomic.Int64)

	n := entry.Add(-1)
	if n <= 0 {
		refcounts.CompareAndDelete(fd, val)
	}

	return n
}

// countOfRealFD returns the current reference count for fd, or 0 if it
// isn't tracked. Exercised by tests to assert C4's bookkeeping directly
// rather than only through its externally visible effects.
func countOfRealFD(fd uint64) int64 {
	v, ok := refcounts.Load(fd)
	if !ok {
		return 0
	}

	return v.(*atomic.Int64).Load()
}

func resetRefcountsForTest() {
	refcounts.Range(func(key, _ any) bool {
		refcounts.Delete(key)

		return true
	})
}
