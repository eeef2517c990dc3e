// Package tick provides a monotonic millisecond counter that can be advanced
// from one goroutine (typically the platform's periodic driver) and read
// from others without tearing.
package tick

import "sync/atomic"

// Source is a monotonic millisecond counter. The zero value starts at 0ms.
//
// Inc is meant to be called by a single periodic driver; Get may be called
// concurrently from any number of readers. The torn-read protection mirrors
// a microcontroller's volatile re-read loop: a reader marks itself "in
// progress", takes the value, then checks whether a concurrent Inc disturbed
// it, retrying if so.
type Source struct {
	millis atomic.Uint32
	flag   atomic.Uint32
}

// Inc advances the counter by periodMs. Called by the tick driver.
func (s *Source) Inc(periodMs uint32) {
	s.flag.Store(0)
	s.millis.Add(periodMs)
}

// Get returns the current counter value, retrying if a concurrent Inc
// interleaved with the read.
func (s *Source) Get() uint32 {
	var result uint32
	for {
		s.flag.Store(1)
		result = s.millis.Load()
		if s.flag.Load() != 0 {
			break
		}
	}
	return result
}

// Elapsed returns the number of milliseconds since prev, a value previously
// returned by Get. Wraps correctly across the uint32 rollover at 2^32ms
// because unsigned subtraction already wraps the way the elapsed-time
// calculation needs.
func (s *Source) Elapsed(prev uint32) uint32 {
	return s.Get() - prev
}
