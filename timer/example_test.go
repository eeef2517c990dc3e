package timer

import (
	"fmt"

	"github.com/AquaEngineering/os/heap"
	"github.com/AquaEngineering/os/tick"
)

// Example demonstrates registering a periodic timer and driving it
// through Dispatch from a manually advanced tick source. A freshly
// created timer only becomes due once a full period has elapsed from
// its creation tick, so the first Dispatch call (at tick 0) fires
// nothing.
func Example() {
	heap.Init(4096)
	defer heap.Deinit()

	src := &tick.Source{}
	sched := New(src)

	fires := 0
	sched.Create(func(*Timer) { fires++ }, 10, nil)

	sched.Dispatch()
	fmt.Println(fires)

	src.Inc(10)
	sched.Dispatch()
	fmt.Println(fires)
	// Output:
	// 0
	// 1
}
