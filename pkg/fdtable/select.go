package fdtable

import "golang.org/x/sys/unix"

// UnrealWaiter identifies one unreal descriptor selected in a select()
// request: v is the virtual descriptor, aux is the Record's opaque
// payload the host uses to find its own readiness state for it.
type UnrealWaiter struct {
	V   uint64
	Aux uint64
}

// SelectRequest bundles a translated select() call's three interest sets.
// Any of the three may be nil, matching select(2)'s own convention of a
// nil fd_set meaning "not interested in this category". Mapping is the
// combined realfd -> v reverse mapping captured across all three masks at
// translation time, to be handed unchanged to FromRealSelect once the
// kernel replies.
type SelectRequest struct {
	Read, Write, Except *unix.FdSet
	Nfds                int
	UnrealRead          []UnrealWaiter
	UnrealWrite         []UnrealWaiter
	UnrealExcept        []UnrealWaiter
	Mapping             map[uint64]uint64
}

// ToRealSelect translates one virtual fd_set (as selected on cageid) into
// the real fd_set the host should actually pass to select(2), the set of
// unreal descriptors pulled out of it, and the realfd -> v reverse mapping
// spec section 4.4 requires be captured at translation time. The real
// mask is indexed by each real descriptor's own numeric value, not by its
// position among the virtual descriptors selected, matching what
// select(2) itself requires.
//
// The mapping must be captured now and threaded through to FromRealSelect
// rather than re-derived from the cage's live state once the kernel
// replies: select(2) can block arbitrarily long, and an intervening Close
// or SetSpecific on this cage would otherwise make FromRealSelect attribute
// a stale or reused virtual descriptor to a ready realfd.
//
// A nil virtual mask translates to a nil real mask and no unreal entries.
// An empty (unoccupied) slot named by a set bit is ErrInval: the caller
// asked to wait on a descriptor the table doesn't have. nfds >=
// FDPerProcessMax is also ErrInval (spec section 4.4), checked even for a
// nil mask since select(2) validates nfds regardless of which sets are
// given.
func ToRealSelect(cageid uint64, virtual *unix.FdSet, nfds int) (real *unix.FdSet, realNfds int, unreal []UnrealWaiter, mapping map[uint64]uint64, err error) {
	if nfds >= FDPerProcessMax {
		return nil, 0, nil, nil, ErrInval
	}

	if virtual == nil {
		return nil, 0, nil, nil, nil
	}

	real = &unix.FdSet{}
	mapping = make(map[uint64]uint64)

	for v := 0; v < nfds && v < FDPerProcessMax; v++ {
		if !fdIsSet(virtual, v) {
			continue
		}

		rec, err := lookupRecord(cageid, uint64(v))
		if err != nil {
			return nil, 0, nil, nil, ErrInval
		}

		switch rec.RealFD {
		case NoRealFD:
			unreal = append(unreal, UnrealWaiter{V: uint64(v), Aux: rec.Aux})

		case EpollFD, InvalidFD:
			return nil, 0, nil, nil, ErrInval

		default:
			fdSet(real, int(rec.RealFD))
			mapping[rec.RealFD] = uint64(v)

			if int(rec.RealFD)+1 > realNfds {
				realNfds = int(rec.RealFD) + 1
			}
		}
	}

	return real, realNfds, unreal, mapping, nil
}

// FromRealSelect translates select(2)'s result mask back into a virtual
// fd_set, using mapping (as captured by ToRealSelect/ToRealSelectAll at
// translation time) to recover each ready realfd's virtual descriptor. It
// never re-reads the cage's current state: by the time select(2) replies
// the cage may have moved on (closed or reassigned the same slot), and
// mapping is the only record of what realfd meant what at the moment the
// kernel was actually asked. The ready unreal waiters (determined by the
// host, out of band, since select(2) never saw them) are OR'd in directly
// by virtual descriptor number.
//
// The returned set holds each distinct ready virtual descriptor once, even
// when it is both set in realResult and listed in readyUnreal. FromRealSelect
// translates one result mask per call, so the set covers only that mask: it
// does not combine read, write and except, and a descriptor ready in more
// than one category appears in the set of each call.
func FromRealSelect(realResult *unix.FdSet, mapping map[uint64]uint64, readyUnreal []UnrealWaiter) (*unix.FdSet, map[uint64]bool, error) {
	out := &unix.FdSet{}
	seen := make(map[uint64]bool)

	if realResult != nil {
		for realfd, v := range mapping {
			if fdIsSet(realResult, int(realfd)) {
				fdSet(out, int(v))
				seen[v] = true
			}
		}
	}

	for _, w := range readyUnreal {
		fdSet(out, int(w.V))
		seen[w.V] = true
	}

	return out, seen, nil
}

// ToRealSelectAll translates all three of select(2)'s interest sets
// together against cageid, exactly matching spec section 4.4's documented
// input/output shape: one call taking up to three virtual bitmasks and
// nfds, returning a single new nfds (the max real fd across all three
// masks, plus one) and the three translated masks and unreal sets bundled
// into one SelectRequest. Any of read/write/except may be nil. The first
// mask that names an empty slot fails the whole call with ErrInval,
// exactly as a single ToRealSelect call would.
func ToRealSelectAll(cageid uint64, nfds int, read, write, except *unix.FdSet) (*SelectRequest, error) {
	realRead, n1, unrealRead, mapRead, err := ToRealSelect(cageid, read, nfds)
	if err != nil {
		return nil, err
	}

	realWrite, n2, unrealWrite, mapWrite, err := ToRealSelect(cageid, write, nfds)
	if err != nil {
		return nil, err
	}

	realExcept, n3, unrealExcept, mapExcept, err := ToRealSelect(cageid, except, nfds)
	if err != nil {
		return nil, err
	}

	maxNfds := n1
	if n2 > maxNfds {
		maxNfds = n2
	}

	if n3 > maxNfds {
		maxNfds = n3
	}

	mapping := make(map[uint64]uint64, len(mapRead)+len(mapWrite)+len(mapExcept))
	for _, m := range []map[uint64]uint64{mapRead, mapWrite, mapExcept} {
		for realfd, v := range m {
			mapping[realfd] = v
		}
	}

	return &SelectRequest{
		Read:         realRead,
		Write:        realWrite,
		Except:       realExcept,
		Nfds:         maxNfds,
		UnrealRead:   unrealRead,
		UnrealWrite:  unrealWrite,
		UnrealExcept: unrealExcept,
		Mapping:      mapping,
	}, nil
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= int64(1) << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(int64(1)<<(uint(fd)%64)) != 0
}
