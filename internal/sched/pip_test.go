package sched

import (
	"testing"

	"github.com/joeycumines/go-rtexec/internal/tcb"
	"github.com/stretchr/testify/require"
)

func TestInheritRaisesPriorityAndFollowsChain(t *testing.T) {
	s, cpu := newTestScheduler(t)
	grand := mkTask(t, s.Arena, 10)
	owner := mkTask(t, s.Arena, 8)
	s.Arena.MustGet(owner).PassedTo = grand

	s.Inherit(cpu, owner, 2)
	require.Equal(t, 2, s.Arena.MustGet(owner).Priority)
	require.Equal(t, 2, s.Arena.MustGet(grand).Priority)
}

func TestInheritNoOpWhenAlreadyFavourable(t *testing.T) {
	s, cpu := newTestScheduler(t)
	owner := mkTask(t, s.Arena, 1)
	s.Inherit(cpu, owner, 5)
	require.Equal(t, 1, s.Arena.MustGet(owner).Priority)
}

func TestRestoreReturnsToBaseWhenNoContention(t *testing.T) {
	s, cpu := newTestScheduler(t)
	owner := mkTask(t, s.Arena, 8)
	s.Inherit(cpu, owner, 2)
	require.Equal(t, 2, s.Arena.MustGet(owner).Priority)

	s.Restore(cpu, owner, -1)
	require.Equal(t, 8, s.Arena.MustGet(owner).Priority)
}

func TestRestoreUsesRemainingTopWaiter(t *testing.T) {
	s, cpu := newTestScheduler(t)
	owner := mkTask(t, s.Arena, 8)
	s.Inherit(cpu, owner, 2)
	s.Restore(cpu, owner, 4)
	require.Equal(t, 4, s.Arena.MustGet(owner).Priority)
}
