package tcb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArenaAllocFreeReuse(t *testing.T) {
	a := NewArena(4)

	id1 := a.Alloc()
	id2 := a.Alloc()
	require.NotEqual(t, id1, id2)
	require.Equal(t, 2, a.Len())

	require.NoError(t, a.Free(id1))
	require.Equal(t, 1, a.Len())

	_, err := a.Get(id1)
	require.Error(t, err)

	id3 := a.Alloc()
	require.Equal(t, id1, id3, "freed slot should be reused LIFO")
	require.Equal(t, 2, a.Len())

	_, err = a.Get(id2)
	require.NoError(t, err)
}

func TestArenaGetRejectsZeroAndOutOfRange(t *testing.T) {
	a := NewArena(0)
	_, err := a.Get(0)
	require.Error(t, err)
	_, err = a.Get(99)
	require.Error(t, err)
}

func TestArenaEachVisitsAllLive(t *testing.T) {
	a := NewArena(0)
	ids := []ID{a.Alloc(), a.Alloc(), a.Alloc()}
	require.NoError(t, a.Free(ids[1]))

	seen := map[ID]bool{}
	a.Each(func(tk *Task) { seen[tk.ID] = true })

	require.True(t, seen[ids[0]])
	require.False(t, seen[ids[1]])
	require.True(t, seen[ids[2]])
	require.Len(t, seen, 2)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "NONE", State(0).String())
	require.Equal(t, "READY", Ready.String())
	require.Contains(t, (Ready | Delayed).String(), "READY")
	require.Contains(t, (Ready | Delayed).String(), "DELAYED")
}
