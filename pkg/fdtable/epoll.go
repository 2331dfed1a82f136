package fdtable

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Epoll control-operation codes, re-exported from golang.org/x/sys/unix so
// that callers never need their own import of the package just to name an
// op. Values match epoll_ctl(2) (and the Rust ancestor's
// commonconstants.rs, which hand-copied the same libc constants).
const (
	EpollCtlAdd = unix.EPOLL_CTL_ADD
	EpollCtlMod = unix.EPOLL_CTL_MOD
	EpollCtlDel = unix.EPOLL_CTL_DEL
)

// Event mirrors the fields of epoll_event that matter to callers of this
// package: the interest/readiness bitmask (unix.EPOLLIN, unix.EPOLLOUT,
// unix.EPOLLET, ...) and an opaque payload the host round-trips.
type Event struct {
	Events uint32
	Data   uint64
}

// epollEntry is one CreateEpoll instance's bookkeeping: the real kernel
// epoll fd backing it, and the shadow interest set for unreal virtfds
// watched through it, since the kernel epoll instance has no way to know
// about a descriptor that isn't real.
//
// refs counts how many EpollFD slots (across however many cages Fork has
// spread them to) currently reference this entry, mirroring C4's realfd
// refcounting: Fork deep-clones a cage's slot array, including any EpollFD
// slot, so a side-table entry can end up referenced by more than one
// cage's Aux just like a real descriptor can. Only the last slot to retire
// actually removes the entry and reports the real epoll fd for closing.
type epollEntry struct {
	realFD uint64
	refs   atomic.Int64

	mu      sync.Mutex
	watched map[uint64]Event // unreal virtfd -> registered event
}

var (
	epollSideTable   sync.Map // map[uint64]*epollEntry, keyed by Aux
	epollSideTableID atomic.Uint64
)

// CreateEpoll allocates a new virtual descriptor in cageid backed by the
// sentinel EpollFD, and registers a fresh side-table entry recording
// realEpollFD as the underlying kernel epoll instance. Returns the new
// virtual descriptor.
func CreateEpoll(cageid uint64, realEpollFD uint64, cloexec bool) (uint64, error) {
	id := epollSideTableID.Add(1)

	ent := &epollEntry{realFD: realEpollFD, watched: make(map[uint64]Event)}
	ent.refs.Store(1)
	epollSideTable.Store(id, ent)

	v, err := Allocate(cageid, EpollFD, cloexec, id)
	if err != nil {
		epollSideTable.Delete(id)

		return 0, err
	}

	return v, nil
}

// EpollCtl performs one epoll_ctl-shaped operation against epollV (a
// virtual descriptor previously returned by CreateEpoll) on behalf of v.
//
//   - If v resolves to a real descriptor, EpollCtl returns the pair
//     (realEpollFD, realfd) and performs no shadow bookkeeping: the host
//     is expected to call the kernel's epoll_ctl itself with these two
//     real descriptors and op/event untouched.
//   - If v resolves to NoRealFD, EpollCtl maintains epollV's shadow
//     interest set and returns (realEpollFD, NoRealFD); the host is
//     responsible for delivering readiness for unreal descriptors out of
//     band (see ToRealSelect/ToRealPoll's unreal result sets for the
//     same pattern).
func EpollCtl(cageid uint64, epollV uint64, v uint64, op int, event Event) (realEpollFD uint64, realfd uint64, err error) {
	if epollV == v {
		return 0, 0, ErrInval
	}

	epollRec, err := lookupRecord(cageid, epollV)
	if err != nil {
		return 0, 0, ErrBadF
	}

	if epollRec.RealFD != EpollFD {
		return 0, 0, ErrInval
	}

	entry, ok := epollSideTable.Load(epollRec.Aux)
	if !ok {
		return 0, 0, ErrBadF
	}

	ent := entry.(*epollEntry)

	rec, err := lookupRecord(cageid, v)
	if err != nil {
		return 0, 0, ErrBadF
	}

	if rec.RealFD != NoRealFD {
		switch op {
		case EpollCtlAdd, EpollCtlMod, EpollCtlDel:
			return ent.realFD, rec.RealFD, nil
		default:
			return 0, 0, ErrInval
		}
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	switch op {
	case EpollCtlAdd:
		if _, exists := ent.watched[v]; exists {
			return 0, 0, ErrExist
		}

		ent.watched[v] = event

	case EpollCtlMod:
		if _, exists := ent.watched[v]; !exists {
			return 0, 0, ErrNoEnt
		}

		ent.watched[v] = event

	case EpollCtlDel:
		if _, exists := ent.watched[v]; !exists {
			return 0, 0, ErrNoEnt
		}

		delete(ent.watched, v)

	default:
		return 0, 0, ErrInval
	}

	return ent.realFD, NoRealFD, nil
}

// EpollWaitData returns epollV's underlying real kernel epoll fd (which
// the host passes to its own epoll_wait) together with the set of unreal
// virtfds currently registered with epollV and their interest events, so
// the host can fold its own readiness tracking for unreal objects into an
// epoll_wait result alongside the kernel's answer for the real
// descriptors it was handed directly by EpollCtl.
func EpollWaitData(cageid uint64, epollV uint64) (realEpollFD uint64, shadow map[uint64]Event, err error) {
	epollRec, err := lookupRecord(cageid, epollV)
	if err != nil {
		return 0, nil, ErrBadF
	}

	if epollRec.RealFD != EpollFD {
		return 0, nil, ErrInval
	}

	entry, ok := epollSideTable.Load(epollRec.Aux)
	if !ok {
		return 0, nil, ErrBadF
	}

	ent := entry.(*epollEntry)

	ent.mu.Lock()
	defer ent.mu.Unlock()

	out := make(map[uint64]Event, len(ent.watched))
	for k, v := range ent.watched {
		out[k] = v
	}

	return ent.realFD, out, nil
}

// epollSideTableAcquire records a new EpollFD slot referencing the
// side-table entry at id, called by Fork when it clones a slot holding
// EpollFD into a new cage. Mirrors incrementRealFD: without this, a forked
// cage's EpollFD slot would share id with the parent's but leave the
// side-table entry refcounted as if only one slot in the world pointed at
// it, so whichever cage retired its slot first would tear the entry down
// out from under the other.
func epollSideTableAcquire(id uint64) {
	v, ok := epollSideTable.Load(id)
	if !ok {
		panic("fdtable: epollSideTableAcquire on untracked side-table entry")
	}

	v.(*epollEntry).refs.Add(1)
}

// epollSideTableRelease drops one EpollFD slot's reference to the
// side-table entry at id, called when that slot is retired (Close/Exit/Exec
// on the slot holding it). Only the reference that brings the count to
// zero actually removes the entry and reports its real epoll fd for
// closing; every other caller is told closed=false and must not act on
// realFD, since some other cage (this one's parent or a sibling from Fork)
// still has a live EpollFD slot pointing at it.
func epollSideTableRelease(id uint64) (realFD uint64, closed bool) {
	v, ok := epollSideTable.Load(id)
	if !ok {
		panic("fdtable: epollSideTableRelease on untracked side-table entry")
	}

	ent := v.(*epollEntry)

	if ent.refs.Add(-1) > 0 {
		return 0, false
	}

	epollSideTable.CompareAndDelete(id, v)

	return ent.realFD, true
}

func resetEpollSideTableForTest() {
	epollSideTable.Range(func(key, _ any) bool {
		epollSideTable.Delete(key)

		return true
	})

	epollSideTableID.Store(0)
}

// lookupRecord is the package-internal counterpart to Translate that
// returns the whole Record instead of just RealFD, used by the epoll and
// select/poll translators which need to branch on sentinels.
func lookupRecord(cageid uint64, v uint64) (Record, error) {
	c := registryLookup(cageid)

	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.slots.lookup(v)
	if !ok {
		return Record{}, ErrBadFD
	}

	return r, nil
}
