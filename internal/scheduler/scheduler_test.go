package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestMain catches a leaked Driver ticker goroutine from any test that
// grows to exercise StartDriver/Stop alongside today's synchronous
// ProcessTasks tests.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// clock is a manually-advanced time source for deterministic tests.
type clock struct{ ms int64 }

func (c *clock) now() int64      { return c.ms }
func (c *clock) advance(d int64) { c.ms += d }

func TestAdd_RejectsZeroPeriod(t *testing.T) {
	s := New(0)
	_, err := s.Add(0, func() {}, nil)
	require.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestAdd_RejectsBeyondMaxTasks(t *testing.T) {
	s := New(1)
	_, err := s.Add(10, func() {}, nil)
	require.NoError(t, err)
	_, err = s.Add(10, func() {}, nil)
	require.ErrorIs(t, err, ErrTooManyTasks)
}

func TestProcessTasks_FiresOnlyWhenDue(t *testing.T) {
	c := &clock{}
	s := New(0)
	s.SetTimeSource(c.now)

	var fired int
	_, err := s.Add(100, func() { fired++ }, nil)
	require.NoError(t, err)

	s.ProcessTasks()
	require.Equal(t, 0, fired)

	c.advance(100)
	s.ProcessTasks()
	require.Equal(t, 1, fired)

	s.ProcessTasks()
	require.Equal(t, 1, fired, "must not re-fire before the next period elapses")
}

func TestProcessTasks_OrdersByDueThenID(t *testing.T) {
	c := &clock{}
	s := New(0)
	s.SetTimeSource(c.now)

	var order []string
	idA, err := s.Add(50, func() { order = append(order, "a") }, nil)
	require.NoError(t, err)
	idB, err := s.Add(50, func() { order = append(order, "b") }, nil)
	require.NoError(t, err)
	require.Less(t, idA, idB)

	c.advance(50)
	s.ProcessTasks()
	require.Equal(t, []string{"a", "b"}, order)
}

func TestProcessTasks_SkipsMissedPeriodsRatherThanCatchUp(t *testing.T) {
	c := &clock{}
	s := New(0)
	s.SetTimeSource(c.now)

	var fired int
	_, err := s.Add(10, func() { fired++ }, nil)
	require.NoError(t, err)

	c.advance(1000)
	s.ProcessTasks()
	require.Equal(t, 1, fired, "a long idle gap must fire the task once, not catch up every missed tick")

	s.ProcessTasks()
	require.Equal(t, 1, fired)
}

func TestRemove_RunsDropImmediately(t *testing.T) {
	s := New(0)
	var dropped bool
	id, err := s.Add(10, func() {}, func() { dropped = true })
	require.NoError(t, err)

	s.Remove(id)
	require.True(t, dropped)
	require.Equal(t, 0, s.Len())
}

func TestRemove_Unknown_IsNoop(t *testing.T) {
	s := New(0)
	require.NotPanics(t, func() { s.Remove(999) })
}

func TestSelfRemoveDuringOwnCallback(t *testing.T) {
	c := &clock{}
	s := New(0)
	s.SetTimeSource(c.now)

	var dropped bool
	var id uint64
	var err error
	id, err = s.Add(10, func() { s.Remove(id) }, func() { dropped = true })
	require.NoError(t, err)

	c.advance(10)
	require.NotPanics(t, func() { s.ProcessTasks() })
	require.True(t, dropped)
	require.Equal(t, 0, s.Len())
}

func TestRemovePeerDuringCallback_RunsPeerDropBeforeItWouldHaveFired(t *testing.T) {
	c := &clock{}
	s := New(0)
	s.SetTimeSource(c.now)

	var peerFired, peerDropped bool
	var peerID uint64
	// The remover is added first so its lower id runs it first in the round.
	_, err := s.Add(10, func() { s.Remove(peerID) }, nil)
	require.NoError(t, err)

	peerID, err = s.Add(10, func() { peerFired = true }, func() { peerDropped = true })
	require.NoError(t, err)

	c.advance(10)
	s.ProcessTasks()

	require.True(t, peerDropped)
	require.False(t, peerFired, "a task removed by a peer during this round must not also fire")
}

func TestClear_InvokesEveryDropExactlyOnce(t *testing.T) {
	s := New(0)
	var drops int
	_, err := s.Add(10, func() {}, func() { drops++ })
	require.NoError(t, err)
	_, err = s.Add(20, func() {}, func() { drops++ })
	require.NoError(t, err)

	s.Clear()
	require.Equal(t, 2, drops)
	require.Equal(t, 0, s.Len())

	s.Clear()
	require.Equal(t, 2, drops, "clearing an already-empty scheduler must not re-invoke drops")
}

func TestTimeRegression_DoesNotFireFutureDueTasks(t *testing.T) {
	c := &clock{ms: 1000}
	s := New(0)
	s.SetTimeSource(c.now)

	var fired int
	_, err := s.Add(10, func() { fired++ }, nil)
	require.NoError(t, err)

	c.ms = 500
	s.ProcessTasks()
	require.Equal(t, 0, fired)
}
