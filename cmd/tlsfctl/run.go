package main

import (
	"fmt"
	"time"

	"github.com/AquaEngineering/os/heap"
	"github.com/AquaEngineering/os/tick"
	"github.com/AquaEngineering/os/timer"
	"github.com/spf13/cobra"
)

var (
	runSize     uint32
	runDuration time.Duration
	runPeriod   uint32
	runTimers   int
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the tick/timer loop for a given duration, printing each fire",
		Long: `run initializes a heap and a timer scheduler, registers a handful of
demo timers, and then drives the scheduler from a real-time loop for the
given duration, printing every time a timer fires.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun()
		},
	}
	cmd.Flags().Uint32Var(&runSize, "size", heap.DefaultSize, "heap size in bytes")
	cmd.Flags().DurationVar(&runDuration, "duration", 2*time.Second, "how long to run the loop")
	cmd.Flags().Uint32Var(&runPeriod, "period", 200, "demo timer period in ms")
	cmd.Flags().IntVar(&runTimers, "timers", 3, "number of demo timers to create")
	rootCmd.AddCommand(cmd)
}

func runRun() error {
	heap.Init(runSize)
	defer heap.Deinit()

	src := &tick.Source{}
	sched := timer.New(src)

	fires := make([]int, runTimers)
	for i := 0; i < runTimers; i++ {
		id := i
		period := runPeriod * uint32(i+1)
		sched.Create(func(*timer.Timer) {
			fires[id]++
			printInfo("tick=%-6d timer[%d] fired (period=%dms, count=%d)\n", src.Get(), id, period, fires[id])
		}, period, nil)
	}

	const stepMs = 10
	deadline := time.Now().Add(runDuration)
	for time.Now().Before(deadline) {
		src.Inc(stepMs)
		sched.Dispatch()
		time.Sleep(stepMs * time.Millisecond)
	}

	if jsonOut {
		return printJSON(map[string]interface{}{
			"duration_ms": runDuration.Milliseconds(),
			"fires":       fires,
			"idle_pct":    sched.GetIdle(),
		})
	}

	printInfo("ran for %s, idle=%d%%\n", runDuration, sched.GetIdle())
	for i, n := range fires {
		fmt.Printf("  timer[%d]: %d fires\n", i, n)
	}
	return nil
}
