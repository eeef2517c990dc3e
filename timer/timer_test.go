package timer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AquaEngineering/os/heap"
	"github.com/AquaEngineering/os/tick"
)

func setup(t *testing.T) (*Scheduler, *tick.Source) {
	t.Helper()
	heap.Init(8192)
	t.Cleanup(heap.Deinit)
	src := &tick.Source{}
	return New(src), src
}

func TestCreateFiresOnlyAfterPeriodElapses(t *testing.T) {
	s, src := setup(t)

	var runs int
	s.Create(func(*Timer) { runs++ }, 100, nil)

	s.Dispatch()
	assert.Zero(t, runs, "a timer waits out its first period before firing")

	src.Inc(50)
	s.Dispatch()
	assert.Zero(t, runs, "runs before period elapsed")

	src.Inc(60) // total elapsed since creation: 110 >= 100
	s.Dispatch()
	assert.Equal(t, 1, runs)
}

func TestRepeatCountStopsAfterNFirings(t *testing.T) {
	s, src := setup(t)

	var runs int
	timer := s.Create(func(*Timer) { runs++ }, 10, nil)
	s.SetRepeatCount(timer, 3)

	for i := 0; i < 5; i++ {
		src.Inc(10)
		s.Dispatch()
	}

	require.Equal(t, 3, runs)
	assert.Nil(t, s.GetNext(nil), "timer should have been deleted once its repeat count reached 0")
}

func TestInfiniteRepeatKeepsFiring(t *testing.T) {
	s, src := setup(t)

	var runs int
	s.Create(func(*Timer) { runs++ }, 10, nil)

	for i := 0; i < 10; i++ {
		src.Inc(10)
		s.Dispatch()
	}

	assert.Equal(t, 10, runs)
}

func TestPauseDoesNotResetLastRun(t *testing.T) {
	s, src := setup(t)

	var runs int
	timer := s.Create(func(*Timer) { runs++ }, 100, nil)

	src.Inc(60)
	s.Dispatch() // not yet due (60 < 100)
	require.Zero(t, runs)

	s.Pause(timer)
	src.Inc(60) // now 120 ticks since creation would be due, but it's paused
	s.Dispatch()
	require.Zero(t, runs, "paused timer must not fire")

	s.Resume(timer)
	s.Dispatch()
	assert.Equal(t, 1, runs, "pause must not reset last_run, so resuming finds it already overdue")
}

func TestReadyMakesTimerDueImmediately(t *testing.T) {
	s, src := setup(t)

	timer := s.Create(func(*Timer) {}, 1000, nil)
	src.Inc(5) // far short of the 1000-tick period

	var runs int
	s.SetCB(timer, func(*Timer) { runs++ })
	s.Ready(timer)
	s.Dispatch()
	assert.Equal(t, 1, runs)
}

func TestSelfDeleteFromCallback(t *testing.T) {
	s, src := setup(t)

	var timer *Timer
	var runs int
	timer = s.Create(func(t *Timer) {
		runs++
		s.Del(timer)
	}, 10, nil)

	src.Inc(10)
	s.Dispatch()
	require.Equal(t, 1, runs)
	assert.Nil(t, s.GetNext(nil), "self-deleted timer should no longer be registered")
}

func TestDeleteOtherTimerFromCallback(t *testing.T) {
	s, src := setup(t)

	var victim *Timer
	var victimRan bool
	victim = s.Create(func(*Timer) { victimRan = true }, 10, nil)
	s.Create(func(*Timer) { s.Del(victim) }, 10, nil)

	src.Inc(10)
	s.Dispatch()

	assert.False(t, victimRan, "victim timer should not run after being deleted mid-pass")

	count := 0
	for n := s.GetNext(nil); n != nil; n = s.GetNext(n) {
		count++
	}
	assert.Equal(t, 1, count, "exactly one timer should remain registered")
}

func TestCreateNewTimerFromCallback(t *testing.T) {
	s, src := setup(t)

	var innerRan bool
	s.Create(func(*Timer) {
		s.Create(func(*Timer) { innerRan = true }, 5, nil)
	}, 10, nil)

	src.Inc(10)
	s.Dispatch() // outer fires, creates the inner timer; inner is not yet due
	require.False(t, innerRan, "inner timer should not fire before its own period elapses")

	src.Inc(5)
	s.Dispatch() // inner's period has now elapsed
	assert.True(t, innerRan, "inner timer created mid-dispatch should fire on a later pass")
}

func TestCreateZeroPeriodTimerFromCallbackFiresSamePass(t *testing.T) {
	s, src := setup(t)

	var innerRan bool
	s.Create(func(*Timer) {
		s.Create(func(*Timer) { innerRan = true }, 0, nil)
	}, 10, nil)

	src.Inc(10)
	s.Dispatch() // outer fires; inner is created with period=0, already due at its own creation tick
	assert.True(t, innerRan, "a zero-period timer created mid-dispatch is due immediately, within the same pass")
}

func TestReentrantDispatchIsIgnored(t *testing.T) {
	s, src := setup(t)

	var inner uint32
	reentered := false
	s.Create(func(*Timer) {
		inner = s.Dispatch()
		reentered = true
	}, 10, nil)

	src.Inc(10)
	s.Dispatch()

	require.True(t, reentered, "callback should have run")
	assert.Equal(t, uint32(1), inner, "reentrant Dispatch should be coalesced, returning 1")
}

func TestDisabledSchedulerDoesNothing(t *testing.T) {
	s, src := setup(t)

	var runs int
	s.Create(func(*Timer) { runs++ }, 10, nil)
	s.Enable(false)

	src.Inc(50)
	s.Dispatch()

	assert.Zero(t, runs)
}

func TestDispatchReturnsTimeTillNextOrNoTimerReady(t *testing.T) {
	s, _ := setup(t)

	assert.Equal(t, uint32(NoTimerReady), s.Dispatch(), "no timers registered")

	s.Create(func(*Timer) {}, 200, nil)

	got := s.Dispatch() // not yet due; should report its full remaining period
	assert.Greater(t, got, uint32(0))
	assert.LessOrEqual(t, got, uint32(200))
}

func TestUserDataRoundTrip(t *testing.T) {
	s, _ := setup(t)

	type payload struct{ n int }
	want := &payload{n: 42}
	timer := s.Create(func(*Timer) {}, 100, want)

	got, ok := s.UserData(timer).(*payload)
	require.True(t, ok)
	assert.Same(t, want, got)
}
