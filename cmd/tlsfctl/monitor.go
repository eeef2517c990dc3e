package main

import (
	"github.com/AquaEngineering/os/heap"
	"github.com/spf13/cobra"
)

var monitorSize uint32

func init() {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Allocate a few blocks and print a heap monitor snapshot",
		Long: `monitor initializes a heap, allocates a handful of differently sized
blocks to leave some used and some free capacity, then prints the resulting
occupancy and fragmentation snapshot.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor()
		},
	}
	cmd.Flags().Uint32Var(&monitorSize, "size", heap.DefaultSize, "heap size in bytes")
	rootCmd.AddCommand(cmd)
}

func runMonitor() error {
	heap.Init(monitorSize)
	defer heap.Deinit()

	sizes := []uint32{16, 64, 256, 32}
	ptrs := make([]interface{}, 0, len(sizes))
	for i, sz := range sizes {
		p := heap.Alloc(sz)
		printVerbose("alloc[%d] = %d bytes -> %p\n", i, sz, p)
		if i%2 == 0 {
			heap.Free(p)
		} else {
			ptrs = append(ptrs, p)
		}
	}

	mon := heap.GetMonitor()
	if jsonOut {
		return printJSON(mon)
	}

	printInfo("heap monitor:\n")
	printInfo("  total size:        %d\n", mon.TotalSize)
	printInfo("  used blocks:       %d\n", mon.UsedCnt)
	printInfo("  free blocks:       %d\n", mon.FreeCnt)
	printInfo("  free bytes:        %d\n", mon.FreeSize)
	printInfo("  largest free run:  %d\n", mon.FreeBiggestSize)
	printInfo("  max used:          %d\n", mon.MaxUsed)
	printInfo("  used percentage:   %d%%\n", mon.UsedPct)
	printInfo("  fragmentation:     %d%%\n", mon.FragPct)
	return nil
}
