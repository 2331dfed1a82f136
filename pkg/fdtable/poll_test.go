// poll translation: unit tests for ToRealPoll/FromRealPoll (C8).
//
// Oracle: hand-computed expected translations, and I6 (round trip on an
// all-real vector is identity and order-preserving).
package fdtable_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JustinCappos/fdtables/pkg/fdtable"
)

func Test_Poll_RoundTrip_Is_Identity_For_Real_Only_Vector(t *testing.T) {
	fdtable.ResetForTesting()

	fdtable.InitEmptyCage(1)

	var virt []uint64
	for _, realfd := range []uint64{11, 22, 33} {
		v, err := fdtable.Allocate(1, realfd, false, 0)
		require.NoError(t, err)
		virt = append(virt, v)
	}

	real, unreal, invalid, mapping := fdtable.ToRealPoll(1, virt)
	require.Empty(t, unreal)
	require.Empty(t, invalid)
	require.Equal(t, []uint64{11, 22, 33}, real)

	// Simulate the kernel echoing back exactly what was requested, in the
	// same order.
	back := fdtable.FromRealPoll(real, mapping)
	require.Equal(t, virt, back)
}

func Test_ToRealPoll_Separates_Unreal_Entries(t *testing.T) {
	fdtable.ResetForTesting()

	fdtable.InitEmptyCage(1)

	vReal, err := fdtable.Allocate(1, 11, false, 0)
	require.NoError(t, err)

	vUnreal, err := fdtable.Allocate(1, fdtable.NoRealFD, false, 99)
	require.NoError(t, err)

	real, unreal, invalid, mapping := fdtable.ToRealPoll(1, []uint64{vReal, vUnreal})
	require.Empty(t, invalid)
	require.Equal(t, []uint64{11, fdtable.NoRealFD}, real)
	require.Equal(t, []fdtable.UnrealWaiter{{V: vUnreal, Aux: 99}}, unreal)
	require.Equal(t, map[uint64]uint64{11: vReal}, mapping)

	require.Equal(t, []uint64{vReal}, fdtable.FromRealPoll([]uint64{11}, mapping))
}

func Test_ToRealPoll_Marks_Empty_Slots_Invalid_Without_Failing_The_Call(t *testing.T) {
	fdtable.ResetForTesting()

	fdtable.InitEmptyCage(1)

	vReal, err := fdtable.Allocate(1, 11, false, 0)
	require.NoError(t, err)

	real, unreal, invalid, mapping := fdtable.ToRealPoll(1, []uint64{vReal, 9})
	require.Empty(t, unreal)
	require.Equal(t, []uint64{11, fdtable.InvalidFD}, real)
	require.Equal(t, []uint64{9}, invalid)
	require.Equal(t, map[uint64]uint64{11: vReal}, mapping)
}

func Test_ToRealPoll_Preserves_Duplicates_And_Order(t *testing.T) {
	fdtable.ResetForTesting()

	fdtable.InitEmptyCage(1)

	v, err := fdtable.Allocate(1, 11, false, 0)
	require.NoError(t, err)

	real, _, _, _ := fdtable.ToRealPoll(1, []uint64{v, v, v})
	require.Equal(t, []uint64{11, 11, 11}, real)
}

func Test_FromRealPoll_Panics_On_Unmapped_RealFD(t *testing.T) {
	fdtable.ResetForTesting()

	fdtable.InitEmptyCage(1)

	require.Panics(t, func() {
		fdtable.FromRealPoll([]uint64{42}, map[uint64]uint64{})
	})
}
