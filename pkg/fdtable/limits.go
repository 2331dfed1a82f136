package fdtable

// Hardcoded implementation limits.
//
// These mirror the Rust ancestor's commonconstants.rs: generous enough to
// never be a practical constraint, small enough to keep the per-cage slot
// array a plain fixed-size value instead of a growable structure.
const (
	// FDPerProcessMax is the number of virtual descriptor slots available
	// to a single cage (spec section 3). Slot indices are in
	// [0, FDPerProcessMax).
	FDPerProcessMax = 1024
)
