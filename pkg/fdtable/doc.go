// Package fdtable provides a process-wide virtual file-descriptor table.
//
// fdtable maps per-cage virtual descriptor numbers to underlying real
// descriptors (or to sentinel values marking in-memory/unreal objects and
// epoll aggregators). It is the substrate a multi-cage POSIX-like runtime
// uses to implement open/close/dup/fork/exec/select/poll/epoll without
// cages seeing each others' kernel descriptors, and without the kernel
// close(2) being called while another cage still references the same
// underlying descriptor.
//
// # Basic usage
//
//	fdtable.InitEmptyCage(1)
//
//	v, err := fdtable.Allocate(1, realfd, false, 0)
//	if err != nil {
//	    // ErrMFile: cage's descriptor table is full
//	}
//
//	realfd, err := fdtable.Translate(1, v)
//
//	err = fdtable.Close(1, v)
//
// # Concurrency
//
//   - Operations on different cages never block each other.
//   - Operations on the same cage are serialized with respect to each
//     other; each call is atomic from the caller's perspective.
//   - Close handlers (see [RegisterCloseHandlers]) are invoked only after
//     the triggering mutation has been committed and no fdtable lock is
//     held, so a handler may safely re-enter the table (e.g. to close a
//     companion descriptor).
//
// # Error handling
//
// Recoverable conditions (full table, empty slot, bad arguments) are
// returned as one of the sentinel errors in this package and are safe to
// check with [errors.Is]. Violations of the table's contract by the host
// (unknown cageid, double-init, double-fork-target) are panics: they
// indicate a bug in the caller, not a recoverable runtime condition.
package fdtable
