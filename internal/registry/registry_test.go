package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func echo(args []uint64) (uint64, error) { return args[0], nil }

func TestRegisterAndCall(t *testing.T) {
	r := New(4)
	require.NoError(t, r.Register(0, "posix_mq_open", []Descriptor{
		{Mode: ArgReadOnlyPointer},
		{Mode: ArgValue},
	}, echo))

	got, err := r.Call(0, []uint64{42})
	require.NoError(t, err)
	require.Equal(t, uint64(42), got)
}

func TestRegisterRejectsOccupiedSlot(t *testing.T) {
	r := New(2)
	require.NoError(t, r.Register(0, "a", nil, echo))
	err := r.Register(0, "b", nil, echo)
	require.Error(t, err)
}

func TestRegisterRejectsOutOfRange(t *testing.T) {
	r := New(2)
	err := r.Register(5, "a", nil, echo)
	require.Error(t, err)
}

func TestRegisterNextFindsFreeSlotThenExhausts(t *testing.T) {
	r := New(2)
	i0, err := r.RegisterNext("a", nil, echo)
	require.NoError(t, err)
	i1, err := r.RegisterNext("b", nil, echo)
	require.NoError(t, err)
	require.NotEqual(t, i0, i1)

	_, err = r.RegisterNext("c", nil, echo)
	require.Error(t, err)
}

func TestUnregisterVacatesSlotForReuse(t *testing.T) {
	r := New(1)
	require.NoError(t, r.Register(0, "a", nil, echo))
	require.NoError(t, r.Unregister(0))
	require.NoError(t, r.Register(0, "b", nil, echo))
}

func TestDescribeReturnsArgDescriptors(t *testing.T) {
	r := New(1)
	descs := []Descriptor{
		{Mode: ArgWritablePointer},
		{Mode: ArgSizedByArg, SizeArgIndex: 2},
		{Mode: ArgValue},
	}
	require.NoError(t, r.Register(0, "netrpc_call", descs, echo))

	got, err := r.Describe(0)
	require.NoError(t, err)
	require.Equal(t, descs, got)
}

func TestCallOnUnoccupiedSlotErrors(t *testing.T) {
	r := New(1)
	_, err := r.Call(0, nil)
	require.Error(t, err)
}

func TestOccupiedTracksLiveSlots(t *testing.T) {
	r := New(3)
	require.Equal(t, 0, r.Occupied())
	require.NoError(t, r.Register(0, "a", nil, echo))
	require.NoError(t, r.Register(1, "b", nil, echo))
	require.Equal(t, 2, r.Occupied())
	require.NoError(t, r.Unregister(0))
	require.Equal(t, 1, r.Occupied())
}
