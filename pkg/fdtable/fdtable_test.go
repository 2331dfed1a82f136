// Allocate/translate/close lifecycle: unit tests for the basic C1-C4 path.
//
// Oracle: direct assertions on return values and on the reference counter
// exposed via CountOfRealFDForTesting.
// Technique: table-driven and scripted sequences.
//
// Failures here mean: "the core allocate/translate/close path regressed".
package fdtable_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JustinCappos/fdtables/pkg/fdtable"
)

func Test_Allocate_Returns_Lowest_Unused_Index(t *testing.T) {
	fdtable.ResetForTesting()

	fdtable.InitEmptyCage(1)

	v0, err := fdtable.Allocate(1, 10, false, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(0), v0)

	realfd, err := fdtable.Translate(1, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(10), realfd)

	for i, want := range []uint64{1, 2, 3} {
		v, err := fdtable.Allocate(1, 10, false, 100)
		require.NoError(t, err, "allocate #%d", i)
		require.Equal(t, want, v)
	}
}

func Test_Allocate_Reuses_Lowest_Hole_After_Close(t *testing.T) {
	fdtable.ResetForTesting()

	fdtable.InitEmptyCage(1)

	for range 4 {
		_, err := fdtable.Allocate(1, 10, false, 0)
		require.NoError(t, err)
	}

	require.NoError(t, fdtable.Close(1, 1))

	v, err := fdtable.Allocate(1, 10, false, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), v, "first-fit must reuse the lowest hole, not bump past it")
}

func Test_Allocate_Returns_ErrMFile_When_Table_Is_Full(t *testing.T) {
	fdtable.ResetForTesting()

	fdtable.InitEmptyCage(1)

	for range fdtable.FDPerProcessMax {
		_, err := fdtable.Allocate(1, 10, false, 0)
		require.NoError(t, err)
	}

	_, err := fdtable.Allocate(1, 10, false, 0)
	require.ErrorIs(t, err, fdtable.ErrMFile)
}

func Test_Translate_Returns_ErrBadFD_For_Empty_Slot(t *testing.T) {
	fdtable.ResetForTesting()

	fdtable.InitEmptyCage(1)

	_, err := fdtable.Translate(1, 5)
	require.ErrorIs(t, err, fdtable.ErrBadFD)
}

func Test_Close_Fires_Intermediate_Then_Final(t *testing.T) {
	fdtable.ResetForTesting()

	var events []string

	fdtable.RegisterCloseHandlers(fdtable.CloseHandlers{
		Intermediate: func(realfd uint64) { events = append(events, "intermediate") },
		Final:        func(realfd uint64) { events = append(events, "final") },
	})

	fdtable.InitEmptyCage(1)

	v0, err := fdtable.Allocate(1, 57, false, 0)
	require.NoError(t, err)

	v1, err := fdtable.Allocate(1, 57, false, 0)
	require.NoError(t, err)

	require.NoError(t, fdtable.Close(1, v0))
	require.Equal(t, []string{"intermediate"}, events)

	require.NoError(t, fdtable.Close(1, v1))
	require.Equal(t, []string{"intermediate", "final"}, events)
}

func Test_Close_Of_Unreal_Slot_Fires_Unreal_Handler(t *testing.T) {
	fdtable.ResetForTesting()

	var gotAux uint64

	fdtable.RegisterCloseHandlers(fdtable.CloseHandlers{
		Unreal: func(aux uint64) { gotAux = aux },
	})

	fdtable.InitEmptyCage(1)

	v, err := fdtable.Allocate(1, fdtable.NoRealFD, false, 42)
	require.NoError(t, err)

	require.NoError(t, fdtable.Close(1, v))
	require.Equal(t, uint64(42), gotAux)
	require.Equal(t, int64(0), fdtable.CountOfRealFDForTesting(fdtable.NoRealFD),
		"sentinel realfds must never be counted")
}

func Test_SetCloexec_Leaves_RealFD_And_Refcount_Untouched(t *testing.T) {
	fdtable.ResetForTesting()

	fdtable.InitEmptyCage(1)

	v, err := fdtable.Allocate(1, 57, false, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), fdtable.CountOfRealFDForTesting(57))

	require.NoError(t, fdtable.SetCloexec(1, v, true))
	require.Equal(t, int64(1), fdtable.CountOfRealFDForTesting(57))

	realfd, err := fdtable.Translate(1, v)
	require.NoError(t, err)
	require.Equal(t, uint64(57), realfd)
}

func Test_GetAux_SetAux_Round_Trip(t *testing.T) {
	fdtable.ResetForTesting()

	fdtable.InitEmptyCage(1)

	v, err := fdtable.Allocate(1, 57, false, 10)
	require.NoError(t, err)

	aux, err := fdtable.GetAux(1, v)
	require.NoError(t, err)
	require.Equal(t, uint64(10), aux)

	require.NoError(t, fdtable.SetAux(1, v, 20))

	aux, err = fdtable.GetAux(1, v)
	require.NoError(t, err)
	require.Equal(t, uint64(20), aux)
}

func Test_Fork_Produces_An_Independent_Cage(t *testing.T) {
	fdtable.ResetForTesting()

	fdtable.InitEmptyCage(1)

	v, err := fdtable.Allocate(1, 57, false, 1)
	require.NoError(t, err)

	fdtable.Fork(1, 2)

	require.NoError(t, fdtable.SetAux(1, v, 999))

	childAux, err := fdtable.GetAux(2, v)
	require.NoError(t, err)
	require.Equal(t, uint64(1), childAux, "mutating the source cage must not affect the forked child")
}

func Test_Exec_Removes_Only_Cloexec_Slots(t *testing.T) {
	fdtable.ResetForTesting()

	fdtable.InitEmptyCage(1)

	keep, err := fdtable.Allocate(1, 57, false, 0)
	require.NoError(t, err)

	drop, err := fdtable.Allocate(1, 58, true, 0)
	require.NoError(t, err)

	fdtable.Exec(1)

	_, err = fdtable.Translate(1, keep)
	require.NoError(t, err, "non-cloexec slot must survive exec")

	_, err = fdtable.Translate(1, drop)
	require.ErrorIs(t, err, fdtable.ErrBadFD, "cloexec slot must be removed by exec")
}

func Test_SetSpecific_Over_Same_Occupant_Fires_Intermediate_Not_Final(t *testing.T) {
	fdtable.ResetForTesting()

	var events []string

	fdtable.RegisterCloseHandlers(fdtable.CloseHandlers{
		Intermediate: func(realfd uint64) { events = append(events, "intermediate") },
		Final:        func(realfd uint64) { events = append(events, "final") },
	})

	fdtable.InitEmptyCage(1)

	// Two slots share realfd 57, so the counter never reaches zero while
	// overwriting one of them (I7).
	v, err := fdtable.Allocate(1, 57, false, 0)
	require.NoError(t, err)

	_, err = fdtable.Allocate(1, 57, false, 0)
	require.NoError(t, err)

	require.NoError(t, fdtable.SetSpecific(1, v, 57, false, 0))
	require.Equal(t, []string{"intermediate"}, events)
}
