package irqtab

import (
	"testing"

	"github.com/joeycumines/go-rtexec/internal/pipeline"
	"github.com/stretchr/testify/require"
)

type fakePIC struct {
	acked []int
}

func (f *fakePIC) Start(vec int)    {}
func (f *fakePIC) Shutdown(vec int) {}
func (f *fakePIC) Enable(vec int)   {}
func (f *fakePIC) Disable(vec int)  {}
func (f *fakePIC) MaskAck(vec int)  {}
func (f *fakePIC) Unmask(vec int)   {}
func (f *fakePIC) Ack(vec int)      { f.acked = append(f.acked, vec) }

func TestRequestIRQRejectsOutOfRange(t *testing.T) {
	tab := New(pipeline.NewSoftware(1, nil), nil)
	err := tab.RequestIRQ(-1, nil, nil)
	require.Error(t, err)
	err = tab.RequestIRQ(maxVectors, nil, nil)
	require.Error(t, err)
}

func TestRequestIRQRejectsBusy(t *testing.T) {
	tab := New(pipeline.NewSoftware(1, nil), nil)
	require.NoError(t, tab.RequestIRQ(3, func(int, any) bool { return false }, nil))
	err := tab.RequestIRQ(3, func(int, any) bool { return false }, nil)
	require.Error(t, err)
}

func TestReleaseIRQAllowsReRegistration(t *testing.T) {
	tab := New(pipeline.NewSoftware(1, nil), nil)
	require.NoError(t, tab.RequestIRQ(3, func(int, any) bool { return false }, nil))
	require.NoError(t, tab.ReleaseIRQ(3))
	require.NoError(t, tab.RequestIRQ(3, func(int, any) bool { return false }, nil))
}

func TestDispatchAcksThenRoutesToRTHandler(t *testing.T) {
	pic := &fakePIC{}
	dom := pipeline.NewSoftware(1, nil)
	tab := New(dom, pic)

	var called bool
	require.NoError(t, tab.RequestIRQ(9, func(vec int, cookie any) bool {
		called = true
		return true
	}, nil))

	tab.Dispatch(0, 9)
	require.True(t, called)
	require.Equal(t, []int{9}, pic.acked)
	require.Zero(t, dom.PendedMask(0))
}

func TestDispatchFallsThroughToGPOS(t *testing.T) {
	pic := &fakePIC{}
	dom := pipeline.NewSoftware(1, nil)
	tab := New(dom, pic)

	tab.Dispatch(0, 12)
	require.Equal(t, uint64(1<<12), dom.PendedMask(0))
}

func TestPICWrappersRestoreStallAndDoNotAck(t *testing.T) {
	pic := &fakePIC{}
	dom := pipeline.NewSoftware(1, nil)
	tab := New(dom, pic)

	tab.PICEnable(0, 5)
	require.Empty(t, pic.acked)

	// the wrapper's critical section was exited and the stall state restored
	prev := dom.CriticalEnter()
	require.Zero(t, prev)
	dom.CriticalExit(prev)
}
