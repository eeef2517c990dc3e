// Package timer implements a cooperative, non-preemptive timer scheduler:
// callers register callbacks with a period and repeat count, then drive
// everything forward by calling Dispatch from a single loop or task.
package timer

import (
	"unsafe"

	"github.com/AquaEngineering/os/internal/logx"
	"github.com/AquaEngineering/os/llist"
	"github.com/AquaEngineering/os/tick"
)

var log = logx.NewPrefixed("timer")

// NoTimerReady is returned by Dispatch when no unpaused timer is
// registered, meaning the caller may sleep indefinitely until something external
// wakes it (a new timer, an IRQ, etc).
const NoTimerReady = 0xFFFFFFFF

// defaultIdleMeasPeriod is the default window, in ticks, over which
// Dispatch recomputes GetIdle's busy/idle percentage. Override with
// WithIdleMeasPeriod.
const defaultIdleMeasPeriod = 500

// defaultPeriod is used by CreateBasic, matching an "empty" timer that the
// caller still needs to configure with SetCB/SetPeriod. Override with
// WithDefPeriod.
const defaultPeriod = 500

// Config bundles the scheduler's tunables, in place of the reference
// scheduler's compile-time IDLE_MEAS_PERIOD/DEF_PERIOD #defines.
type Config struct {
	IdleMeasPeriod uint32
	DefPeriod      uint32
}

// Option customizes a Config away from its defaults.
type Option func(*Config)

func defaultConfig() Config {
	return Config{IdleMeasPeriod: defaultIdleMeasPeriod, DefPeriod: defaultPeriod}
}

// WithIdleMeasPeriod overrides the idle/busy measurement window.
func WithIdleMeasPeriod(ticks uint32) Option {
	return func(c *Config) { c.IdleMeasPeriod = ticks }
}

// WithDefPeriod overrides the period CreateBasic assigns to an
// unconfigured timer.
func WithDefPeriod(ticks uint32) Option {
	return func(c *Config) { c.DefPeriod = ticks }
}

// Callback is called once per due invocation of a Timer.
type Callback func(*Timer)

// Timer holds only plain scalar fields: it is physically allocated inside
// heap-owned memory by the list that tracks it (see Scheduler.list), and
// Go's garbage collector does not scan that memory for pointers. The
// callback and user data a caller attaches to a Timer therefore live in
// the owning Scheduler's side tables instead, keyed by the Timer's
// address, which only ever needs identity comparison.
type Timer struct {
	period      uint32
	lastRun     uint32
	repeatCount int32
	paused      bool
}

// Scheduler owns a list of timers and dispatches them against a tick
// source. The zero value is not usable; construct one with New.
type Scheduler struct {
	tick *tick.Source
	list *llist.List

	enabled        bool
	alreadyRunning bool
	timerCreated   bool
	timerDeleted   bool

	idlePeriodStart uint32
	busyTime        uint32
	idleLast        uint8

	runInPeriodLastTick uint32

	cfg Config

	callbacks map[*Timer]Callback
	userData  map[*Timer]interface{}
}

// New creates a Scheduler driven by src, with handling initially enabled.
func New(src *tick.Source, opts ...Option) *Scheduler {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Scheduler{
		tick:      src,
		list:      llist.Init(unsafe.Sizeof(Timer{})),
		enabled:   true,
		cfg:       cfg,
		callbacks: make(map[*Timer]Callback),
		userData:  make(map[*Timer]interface{}),
	}
}

// CreateBasic creates an "empty" timer with the default period and no
// callback; the caller must still configure it with SetCB and usually
// SetPeriod.
func (s *Scheduler) CreateBasic() *Timer {
	return s.Create(nil, s.cfg.DefPeriod, nil)
}

// Create registers a new timer that calls cb every period ticks,
// indefinitely, until paused, deleted, or its repeat count is changed.
func (s *Scheduler) Create(cb Callback, period uint32, data interface{}) *Timer {
	p := s.list.InsHead()
	if p == nil {
		log.BUG("Create: heap out of memory, timer not registered")
		return nil
	}
	t := (*Timer)(p)
	t.period = period
	t.repeatCount = -1
	t.paused = false
	t.lastRun = s.tick.Get()

	if cb != nil {
		s.callbacks[t] = cb
	}
	if data != nil {
		s.userData[t] = data
	}

	s.timerCreated = true
	return t
}

// Del removes timer from the scheduler and releases its storage.
func (s *Scheduler) Del(timer *Timer) {
	s.list.Remove(unsafe.Pointer(timer))
	s.timerDeleted = true
	delete(s.callbacks, timer)
	delete(s.userData, timer)
}

// Pause suspends timer without resetting its last-run time: resuming it
// later does not grant it a fresh full period.
func (s *Scheduler) Pause(timer *Timer) { timer.paused = true }

// Resume un-suspends a previously paused timer.
func (s *Scheduler) Resume(timer *Timer) { timer.paused = false }

// SetCB replaces timer's callback.
func (s *Scheduler) SetCB(timer *Timer, cb Callback) {
	if cb == nil {
		delete(s.callbacks, timer)
		return
	}
	s.callbacks[timer] = cb
}

// UserData returns the custom data associated with timer, if any.
func (s *Scheduler) UserData(timer *Timer) interface{} { return s.userData[timer] }

// SetPeriod changes how often timer fires.
func (s *Scheduler) SetPeriod(timer *Timer, period uint32) { timer.period = period }

// Ready makes timer due immediately, without waiting out the rest of its
// current period.
func (s *Scheduler) Ready(timer *Timer) {
	timer.lastRun = s.tick.Get() - timer.period - 1
}

// SetRepeatCount sets how many more times timer will fire: -1 for
// indefinitely, 0 to stop it (it is deleted the next time Dispatch runs),
// n > 0 for exactly n more firings.
func (s *Scheduler) SetRepeatCount(timer *Timer, repeatCount int32) {
	timer.repeatCount = repeatCount
}

// Reset restarts timer's period, as if it had just fired.
func (s *Scheduler) Reset(timer *Timer) { timer.lastRun = s.tick.Get() }

// Enable turns the whole scheduler's dispatching on or off. Disabling it
// does not drop any timers; Dispatch simply becomes a no-op until
// re-enabled.
func (s *Scheduler) Enable(en bool) { s.enabled = en }

// GetIdle returns the percentage of the most recent idleMeasPeriod-tick
// measurement window that was not spent inside Dispatch.
func (s *Scheduler) GetIdle() uint8 { return s.idleLast }

// GetNext iterates registered timers: pass nil to get the first, or a
// previously returned Timer to get the one after it. Returns nil past the
// last timer.
func (s *Scheduler) GetNext(cur *Timer) *Timer {
	var p unsafe.Pointer
	if cur == nil {
		p = s.list.GetHead()
	} else {
		p = s.list.GetNext(unsafe.Pointer(cur))
	}
	if p == nil {
		return nil
	}
	return (*Timer)(p)
}

// Dispatch runs every timer that is currently due, and returns the number
// of ticks until the next one will be (or NoTimerReady if none are
// pending). It is reentrancy-guarded: a call made while another is
// already in progress (e.g. from within a callback) returns immediately.
func (s *Scheduler) Dispatch() uint32 {
	if s.alreadyRunning {
		log.WARN("Dispatch: reentrant call ignored")
		return 1
	}
	s.alreadyRunning = true
	defer func() { s.alreadyRunning = false }()

	if !s.enabled {
		return 1
	}

	handlerStart := s.tick.Get()

	// Run every due timer. If a callback created or deleted a timer mid
	// pass, the list (or the "next" pointer already in hand) may no
	// longer be trustworthy, so the whole pass restarts from the head;
	// it only stops once a full pass completes without any mutation.
	var act *Timer
	for {
		s.timerCreated = false
		s.timerDeleted = false
		act = s.GetNext(nil)
		for act != nil {
			next := s.GetNext(act)

			if s.timerExec(act) {
				if s.timerCreated || s.timerDeleted {
					break
				}
			}

			act = next
		}
		if act == nil {
			break
		}
	}

	timeTillNext := uint32(NoTimerReady)
	for next := s.GetNext(nil); next != nil; next = s.GetNext(next) {
		if !next.paused {
			if delay := s.timeRemaining(next); delay < timeTillNext {
				timeTillNext = delay
			}
		}
	}

	s.busyTime += s.tick.Elapsed(handlerStart)
	idlePeriodTime := s.tick.Elapsed(s.idlePeriodStart)
	if idlePeriodTime >= s.cfg.IdleMeasPeriod {
		busyPct := (s.busyTime * 100) / idlePeriodTime
		if busyPct > 100 {
			s.idleLast = 0
		} else {
			s.idleLast = uint8(100 - busyPct)
		}
		s.busyTime = 0
		s.idlePeriodStart = s.tick.Get()
	}

	return timeTillNext
}

// RunInPeriod calls Dispatch no more often than once every ms ticks,
// returning 1 (meaning "check back soon") on calls it rate-limits away.
// It is meant to be called from a tight loop so callers don't need their
// own rate-limiting logic.
func (s *Scheduler) RunInPeriod(ms uint32) uint32 {
	cur := s.tick.Get()
	if cur-s.runInPeriodLastTick >= ms {
		s.runInPeriodLastTick = cur
		return s.Dispatch()
	}
	return 1
}

// timerExec runs timer's callback if it is due, returning whether it ran.
func (s *Scheduler) timerExec(timer *Timer) bool {
	if timer.paused {
		return false
	}

	exec := false
	if s.timeRemaining(timer) == 0 {
		// The repeat count is decremented before invoking the callback so
		// that even if the callback deletes this or another timer, the
		// count already reflects this firing.
		originalRepeatCount := timer.repeatCount
		if timer.repeatCount > 0 {
			timer.repeatCount--
		}
		timer.lastRun = s.tick.Get()
		if cb, ok := s.callbacks[timer]; ok && originalRepeatCount != 0 {
			cb(timer)
		}
		exec = true
	}

	if !s.timerDeleted {
		if timer.repeatCount == 0 {
			s.Del(timer)
		}
	}

	return exec
}

// timeRemaining returns how many ticks remain before timer is next due,
// or 0 if it is due now.
func (s *Scheduler) timeRemaining(timer *Timer) uint32 {
	elapsed := s.tick.Elapsed(timer.lastRun)
	if elapsed >= timer.period {
		return 0
	}
	return timer.period - elapsed
}
