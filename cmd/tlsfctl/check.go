package main

import (
	"fmt"

	"github.com/AquaEngineering/os/heap"
	"github.com/spf13/cobra"
)

var checkSize uint32

func init() {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the heap's internal consistency self-checks",
		Long: `check initializes a heap, performs a handful of allocations and frees
to exercise the allocator, then runs the same test() the runtime itself
would run, reporting OK or INVALID.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck()
		},
	}
	cmd.Flags().Uint32Var(&checkSize, "size", heap.DefaultSize, "heap size in bytes")
	rootCmd.AddCommand(cmd)
}

func runCheck() error {
	heap.Init(checkSize)
	defer heap.Deinit()

	// Exercise split/coalesce/realloc paths before checking, so the test
	// is not just validating an untouched fresh pool.
	a := heap.Alloc(64)
	b := heap.Alloc(128)
	heap.Free(a)
	c := heap.Realloc(b, 256)
	heap.Free(c)

	res := heap.Test()
	if jsonOut {
		return printJSON(map[string]interface{}{"result": resultString(res)})
	}

	printInfo("check: %s\n", resultString(res))
	if res != heap.ResOK {
		return fmt.Errorf("consistency check failed")
	}
	return nil
}
