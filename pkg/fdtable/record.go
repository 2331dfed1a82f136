package fdtable

// Record is the per-slot descriptor record (C1): the realfd a virtual
// descriptor resolves to, whether it is discarded on exec, and an opaque
// host-controlled datum.
type Record struct {
	// RealFD is either a real descriptor owned by the layer below, or one
	// of the reserved sentinel values below.
	RealFD uint64

	// Cloexec marks the slot for removal on Exec.
	Cloexec bool

	// Aux is an opaque 64-bit datum for the host, e.g. an index into its
	// own pipe/epoll bookkeeping. For an EpollFD slot this is the index
	// into the process-wide epoll side table (see epoll.go).
	Aux uint64
}

// Sentinel RealFD values (spec section 3).
//
// Their numeric values are copied verbatim from the Rust ancestor
// (commonconstants.rs) so that a host migrating data between the two stays
// bit-compatible; beyond equality/inequality checks, the exact values are
// not part of the package's contract.
const (
	// NoRealFD marks a purely in-memory/unreal descriptor: the host
	// manages the underlying object itself (e.g. a pipe buffer).
	NoRealFD uint64 = 0xffabcdef01

	// EpollFD marks a slot that is an epoll aggregator; its Aux field
	// indexes an entry in the epoll side table (C9).
	EpollFD uint64 = 0xffabcdef02

	// InvalidFD is returned only by ToRealPoll, to mark an entry poll(2)
	// cannot be handed (an empty slot or an epoll slot); ToRealSelect
	// rejects such a slot with ErrInval instead. It is never stored in a
	// Record.
	InvalidFD uint64 = 0xffabcdef00
)

// isSentinel reports whether fd is one of the three reserved values above.
// Sentinel fds are never counted by the real-fd reference counter (RC-3).
func isSentinel(fd uint64) bool {
	return fd == NoRealFD || fd == EpollFD || fd == InvalidFD
}
