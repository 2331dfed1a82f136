package fdtable

// InitEmptyCage registers a brand new cage with an empty slot array. It
// panics if cageid is already registered (see registryInsertNew).
func InitEmptyCage(cageid uint64) {
	registryInsertNew(cageid)
}

// Allocate installs a Record wrapping realfd at the lowest unused virtual
// descriptor number in cageid's table (first-fit, spec's I5) and returns
// that number. It increments realfd's reference count on success; on
// ErrMFile no state changes.
func Allocate(cageid uint64, realfd uint64, cloexec bool, aux uint64) (uint64, error) {
	c := registryLookup(cageid)

	c.mu.Lock()
	defer c.mu.Unlock()

	v, err := c.slots.allocate(Record{RealFD: realfd, Cloexec: cloexec, Aux: aux})
	if err != nil {
		return 0, err
	}

	incrementRealFD(realfd)

	return v, nil
}

// SetSpecific installs a Record wrapping realfd at the caller-chosen
// virtual descriptor number v, evicting and retiring whatever was there
// before (the table's resolved reading of the legacy "refuse to overwrite"
// behavior: see ErrLind and DESIGN.md). v must be < FDPerProcessMax.
//
// The new reference is counted before the old one is dropped (spec's
// increment-before-decrement protocol), so a realfd that happens to equal
// its own prior occupant's realfd never transits through zero and fires a
// spurious Final.
func SetSpecific(cageid uint64, v uint64, realfd uint64, cloexec bool, aux uint64) error {
	c := registryLookup(cageid)

	c.mu.Lock()

	if v >= FDPerProcessMax {
		c.mu.Unlock()

		return ErrBadF
	}

	incrementRealFD(realfd)

	prior, err := c.slots.setSpecific(v, Record{RealFD: realfd, Cloexec: cloexec, Aux: aux})
	if err != nil {
		c.mu.Unlock()

		return err
	}

	c.mu.Unlock()

	if prior != nil {
		retire(*prior)
	}

	return nil
}

// SetCloexec updates the cloexec flag of the Record at v, leaving its
// realfd and reference count untouched.
func SetCloexec(cageid uint64, v uint64, cloexec bool) error {
	c := registryLookup(cageid)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.slots.update(v, func(r *Record) { r.Cloexec = cloexec }) {
		return ErrBadFD
	}

	return nil
}

// GetAux returns the Aux value stored at v.
func GetAux(cageid uint64, v uint64) (uint64, error) {
	c := registryLookup(cageid)

	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.slots.lookup(v)
	if !ok {
		return 0, ErrBadFD
	}

	return r.Aux, nil
}

// SetAux overwrites the Aux value stored at v, leaving realfd and cloexec
// untouched.
func SetAux(cageid uint64, v uint64, aux uint64) error {
	c := registryLookup(cageid)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.slots.update(v, func(r *Record) { r.Aux = aux }) {
		return ErrBadFD
	}

	return nil
}

// Translate returns the realfd stored at v. Callers that need the whole
// Record (e.g. to branch on a sentinel) should prefer the lower-level
// lookup done internally; Translate is the narrow, common-case accessor
// spec section 4.3 names explicitly.
func Translate(cageid uint64, v uint64) (uint64, error) {
	c := registryLookup(cageid)

	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.slots.lookup(v)
	if !ok {
		return 0, ErrBadFD
	}

	return r.RealFD, nil
}

// Close retires the Record at v and frees the slot for reuse.
func Close(cageid uint64, v uint64) error {
	c := registryLookup(cageid)

	c.mu.Lock()

	prior, ok := c.slots.clear(v)
	if !ok {
		c.mu.Unlock()

		return ErrBadFD
	}

	c.mu.Unlock()

	retire(*prior)

	return nil
}

// Fork clones cageid's entire slot table into a brand new cage registered
// under childCageID, incrementing the reference count of every real fd
// the child inherits. childCageID must not already be registered; cageid
// must already be registered. Both panic if violated (via registryLookup,
// and via a registryContains pre-check made before any reference is
// counted), matching the contract that fork targets are chosen by the host
// and never collide with a live cage.
func Fork(cageid uint64, childCageID uint64) {
	c := registryLookup(cageid)

	if registryContains(childCageID) {
		panic("fdtable: fork target cage already exists")
	}

	c.mu.RLock()
	clone := c.slots.deepClone()
	c.mu.RUnlock()

	for _, r := range clone.slots {
		if r != nil {
			switch r.RealFD {
			case EpollFD:
				epollSideTableAcquire(r.Aux)
			default:
				incrementRealFD(r.RealFD)
			}
		}
	}

	registryInsert(childCageID, &cage{slots: clone})
}

// Exec retires every cloexec-marked slot in cageid, leaving the rest of
// the table untouched. This is the in-place analogue of what the Rust
// ancestor calls empty_fds_for_exec.
func Exec(cageid uint64) {
	c := registryLookup(cageid)

	c.mu.Lock()

	var retired []Record

	for idx := range FDPerProcessMax {
		r := c.slots.slots[idx]
		if r != nil && r.Cloexec {
			prior, _ := c.slots.clear(uint64(idx))
			retired = append(retired, *prior)
		}
	}

	c.mu.Unlock()

	for _, r := range retired {
		retire(r)
	}
}

// Exit retires every slot in cageid and removes the cage from the
// registry entirely. It panics if cageid isn't registered.
func Exit(cageid uint64) {
	c, ok := registryRemove(cageid)
	if !ok {
		panic("fdtable: exit of unknown cage")
	}

	c.mu.Lock()

	var retired []Record

	for idx := range FDPerProcessMax {
		if r := c.slots.slots[idx]; r != nil {
			retired = append(retired, *r)
		}
	}

	c.mu.Unlock()

	for _, r := range retired {
		retire(r)
	}
}

// Snapshot returns a copy of cageid's entire virtfd -> Record mapping, for
// inspection or debugging. Mutating the returned map has no effect on the
// table.
func Snapshot(cageid uint64) map[uint64]Record {
	c := registryLookup(cageid)

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.slots.snapshot()
}

// retire performs the single piece of logic every close-like path
// (Close, SetSpecific's eviction, Exec, Exit) converges on: deciding what
// "this slot is gone now" means for the realfd it held, and firing the
// matching handler with no fdtable lock held.
func retire(r Record) {
	switch r.RealFD {
	case NoRealFD:
		if h := currentHandlers().Unreal; h != nil {
			h(r.Aux)
		}

	case EpollFD:
		realEpollFD, closed := epollSideTableRelease(r.Aux)
		if closed {
			if h := currentHandlers().Final; h != nil {
				h(realEpollFD)
			}
		}

	case InvalidFD:
		panic("fdtable: retired a slot holding InvalidFD; this sentinel must never be stored")

	default:
		n := decrementRealFD(r.RealFD)

		hs := currentHandlers()
		if n > 0 {
			if hs.Intermediate != nil {
				hs.Intermediate(r.RealFD)
			}
		} else {
			if hs.Final != nil {
				hs.Final(r.RealFD)
			}
		}
	}
}

// resetForTest discards all registered cages, all tracked reference
// counts, all registered close handlers, and the epoll side table. It
// gives every test a clean process-wide slate without requiring a real
// process restart, the same role the teacher's testutil reset helpers
// play for pkg/slotcache.
func resetForTest() {
	resetRegistryForTest()
	resetRefcountsForTest()
	resetHandlersForTest()
	resetEpollSideTableForTest()
}
