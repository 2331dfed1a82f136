package fdtable

import "errors"

// Sentinel errors returned by fdtable operations.
//
// Callers should use [errors.Is] to classify them; operations may wrap a
// sentinel with extra context via fmt.Errorf's %w verb.
var (
	// ErrBadFD indicates a lookup of an empty slot (translate, close, ...).
	ErrBadFD = errors.New("fdtable: bad fd")

	// ErrBadF indicates an out-of-range virtual fd was given to an
	// operation that requires one in range, or an empty slot named as the
	// epoll descriptor or the target descriptor of an epoll operation.
	ErrBadF = errors.New("fdtable: bad f")

	// ErrMFile indicates a cage's slot array is full.
	ErrMFile = errors.New("fdtable: too many open files")

	// ErrInval indicates an illegal argument: a bad nfds, an empty slot
	// selected by a select() bitmask, an unrecognized epoll_ctl op, an
	// epoll_ctl self-reference, or an epoll operation on a slot that isn't
	// an epoll slot.
	ErrInval = errors.New("fdtable: invalid argument")

	// ErrNoEnt indicates an epoll_ctl MOD/DEL against a virtual fd that
	// isn't currently watched.
	ErrNoEnt = errors.New("fdtable: no such entry")

	// ErrExist indicates an epoll_ctl ADD against a virtual fd that is
	// already watched.
	ErrExist = errors.New("fdtable: entry exists")

	// ErrLind is returned by legacy set_specific variants that refuse to
	// overwrite an occupied slot. The current SetSpecific always silently
	// evicts the prior occupant (spec's resolved Open Question) and never
	// returns ErrLind; it is kept only for API/error-alphabet completeness.
	ErrLind = errors.New("fdtable: refused to overwrite occupied slot")
)
