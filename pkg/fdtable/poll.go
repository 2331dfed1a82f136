package fdtable

import "golang.org/x/sys/unix"

// ToRealPoll translates a virtual pollfd vector into the shape poll(2)
// itself expects, entry by entry, exactly mirroring spec section 4.5's
// to_real contract rather than failing the whole call on one bad entry
// (unlike select, which treats any empty-slot bit as ErrInval for the
// entire mask):
//
//   - occupied, real: real[i] is the slot's realfd, and mapping records
//     realfd -> v so FromRealPoll can look up the matching virtual fd.
//   - occupied, unreal: real[i] is NoRealFD, and (v, aux) is appended to
//     unreal; the host tracks readiness for it out of band.
//   - empty: real[i] is InvalidFD, and v is appended to invalid; poll(2)
//     itself reports this as POLLNVAL rather than failing the syscall.
//
// Duplicate entries in virt are permitted and produce duplicate entries
// in the output, preserving order and multiplicity (spec section 4.5).
func ToRealPoll(cageid uint64, virt []uint64) (real []uint64, unreal []UnrealWaiter, invalid []uint64, mapping map[uint64]uint64) {
	real = make([]uint64, len(virt))
	mapping = make(map[uint64]uint64, len(virt))

	for i, v := range virt {
		rec, err := lookupRecord(cageid, v)
		if err != nil {
			real[i] = InvalidFD
			invalid = append(invalid, v)

			continue
		}

		switch rec.RealFD {
		case NoRealFD:
			real[i] = NoRealFD
			unreal = append(unreal, UnrealWaiter{V: v, Aux: rec.Aux})

		case EpollFD, InvalidFD:
			real[i] = InvalidFD
			invalid = append(invalid, v)

		default:
			real[i] = rec.RealFD
			mapping[rec.RealFD] = v
		}
	}

	return real, unreal, invalid, mapping
}

// FromRealPoll looks up each entry of real (as returned by poll(2), or by
// a host emulating it) in mapping to recover the virtual descriptor it
// corresponds to. A real fd absent from mapping is a programming error:
// it means the caller passed back a descriptor ToRealPoll never handed
// out for this mapping (spec section 4.5).
func FromRealPoll(real []uint64, mapping map[uint64]uint64) []uint64 {
	virt := make([]uint64, len(real))

	for i, r := range real {
		v, ok := mapping[r]
		if !ok {
			panic("fdtable: FromRealPoll given a realfd absent from its mapping")
		}

		virt[i] = v
	}

	return virt
}

// Poll event bitmask constants, re-exported from golang.org/x/sys/unix so
// callers don't need a parallel import of it.
const (
	PollIn  = unix.POLLIN
	PollOut = unix.POLLOUT
	PollErr = unix.POLLERR
	PollHup = unix.POLLHUP
)
