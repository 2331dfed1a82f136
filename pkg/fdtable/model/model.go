// Package model provides a deliberately simple, in-memory state model of
// fdtable's publicly observable behavior.
//
// The model favors clarity over performance: first-fit allocation is a
// plain linear scan with no watermark optimization, and retirement never
// bothers with lock-free handler dispatch. It exists so property tests can
// compare the real package's behavior against a second, independently
// written implementation of the same rules.
package model

import "github.com/JustinCappos/fdtables/pkg/fdtable"

// CageState is one cage's slot table in the model.
type CageState struct {
	Slots map[uint64]fdtable.Record
}

// Clone makes a deep copy, so a test can fork the exact same state into
// two branches (e.g. to model Fork) without aliasing.
func (c *CageState) Clone() *CageState {
	slots := make(map[uint64]fdtable.Record, len(c.Slots))
	for k, v := range c.Slots {
		slots[k] = v
	}

	return &CageState{Slots: slots}
}

// State is the whole process's modeled state: every live cage plus the
// shared realfd reference counts.
type State struct {
	Cages     map[uint64]*CageState
	Refcounts map[uint64]int64
}

// NewState returns an empty model, the modeled equivalent of a process
// that has never touched the table.
func NewState() *State {
	return &State{
		Cages:     make(map[uint64]*CageState),
		Refcounts: make(map[uint64]int64),
	}
}

func (s *State) incr(fd uint64) {
	if fd == fdtable.NoRealFD || fd == fdtable.EpollFD || fd == fdtable.InvalidFD {
		return
	}

	s.Refcounts[fd]++
}

// decr returns the count after decrementing, and deletes the entry once
// it reaches zero, matching the real package's delete-on-zero bookkeeping
// so a Clone-then-diff check doesn't see stale zero entries linger.
func (s *State) decr(fd uint64) int64 {
	s.Refcounts[fd]--
	n := s.Refcounts[fd]

	if n <= 0 {
		delete(s.Refcounts, fd)
	}

	return n
}

func (s *State) InitEmptyCage(cageid uint64) {
	if _, ok := s.Cages[cageid]; ok {
		panic("model: cage already exists")
	}

	s.Cages[cageid] = &CageState{Slots: make(map[uint64]fdtable.Record)}
}

func (s *State) Allocate(cageid uint64, realfd uint64, cloexec bool, aux uint64) (uint64, error) {
	c := s.Cages[cageid]

	for v := uint64(0); v < fdtable.FDPerProcessMax; v++ {
		if _, occupied := c.Slots[v]; !occupied {
			c.Slots[v] = fdtable.Record{RealFD: realfd, Cloexec: cloexec, Aux: aux}
			s.incr(realfd)

			return v, nil
		}
	}

	return 0, fdtable.ErrMFile
}

func (s *State) SetSpecific(cageid uint64, v uint64, realfd uint64, cloexec bool, aux uint64) error {
	c := s.Cages[cageid]

	if v >= fdtable.FDPerProcessMax {
		return fdtable.ErrBadF
	}

	s.incr(realfd)

	prior, hadPrior := c.Slots[v]
	c.Slots[v] = fdtable.Record{RealFD: realfd, Cloexec: cloexec, Aux: aux}

	if hadPrior {
		s.retire(prior)
	}

	return nil
}

func (s *State) SetCloexec(cageid uint64, v uint64, cloexec bool) error {
	c := s.Cages[cageid]

	r, ok := c.Slots[v]
	if !ok {
		return fdtable.ErrBadFD
	}

	r.Cloexec = cloexec
	c.Slots[v] = r

	return nil
}

func (s *State) GetAux(cageid uint64, v uint64) (uint64, error) {
	c := s.Cages[cageid]

	r, ok := c.Slots[v]
	if !ok {
		return 0, fdtable.ErrBadFD
	}

	return r.Aux, nil
}

func (s *State) SetAux(cageid uint64, v uint64, aux uint64) error {
	c := s.Cages[cageid]

	r, ok := c.Slots[v]
	if !ok {
		return fdtable.ErrBadFD
	}

	r.Aux = aux
	c.Slots[v] = r

	return nil
}

func (s *State) Translate(cageid uint64, v uint64) (uint64, error) {
	c := s.Cages[cageid]

	r, ok := c.Slots[v]
	if !ok {
		return 0, fdtable.ErrBadFD
	}

	return r.RealFD, nil
}

func (s *State) Close(cageid uint64, v uint64) error {
	c := s.Cages[cageid]

	r, ok := c.Slots[v]
	if !ok {
		return fdtable.ErrBadFD
	}

	delete(c.Slots, v)
	s.retire(r)

	return nil
}

func (s *State) Fork(cageid uint64, childCageID uint64) {
	c := s.Cages[cageid]
	clone := c.Clone()

	for _, r := range clone.Slots {
		s.incr(r.RealFD)
	}

	s.Cages[childCageID] = clone
}

func (s *State) Exec(cageid uint64) {
	c := s.Cages[cageid]

	for v, r := range c.Slots {
		if r.Cloexec {
			delete(c.Slots, v)
			s.retire(r)
		}
	}
}

func (s *State) Exit(cageid uint64) {
	c := s.Cages[cageid]

	for _, r := range c.Slots {
		s.retire(r)
	}

	delete(s.Cages, cageid)
}

func (s *State) Snapshot(cageid uint64) map[uint64]fdtable.Record {
	c := s.Cages[cageid]

	out := make(map[uint64]fdtable.Record, len(c.Slots))
	for k, v := range c.Slots {
		out[k] = v
	}

	return out
}

// RetiredEvent records one handler firing the model would have performed,
// so a test can assert on the exact sequence/set of handler calls, not
// just the resulting table state.
type RetiredEvent struct {
	Kind string // "intermediate", "final", or "unreal"
	Arg  uint64
}

// lastEvents accumulates retirement events across calls; DrainEvents reads
// and clears it.
var lastEvents []RetiredEvent

func (s *State) retire(r fdtable.Record) {
	switch r.RealFD {
	case fdtable.NoRealFD:
		lastEvents = append(lastEvents, RetiredEvent{Kind: "unreal", Arg: r.Aux})
	case fdtable.EpollFD:
		lastEvents = append(lastEvents, RetiredEvent{Kind: "final", Arg: r.Aux})
	case fdtable.InvalidFD:
		panic("model: retired a slot holding InvalidFD")
	default:
		n := s.decr(r.RealFD)
		if n > 0 {
			lastEvents = append(lastEvents, RetiredEvent{Kind: "intermediate", Arg: r.RealFD})
		} else {
			lastEvents = append(lastEvents, RetiredEvent{Kind: "final", Arg: r.RealFD})
		}
	}
}

// DrainEvents returns every retirement event recorded since the last
// drain and resets the log.
func DrainEvents() []RetiredEvent {
	out := lastEvents
	lastEvents = nil

	return out
}
