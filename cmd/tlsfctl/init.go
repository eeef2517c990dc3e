package main

import (
	"fmt"

	"github.com/AquaEngineering/os/heap"
	"github.com/spf13/cobra"
)

var initSize uint32

func init() {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a heap of the given size and verify it",
		Long: `init carves a heap out of a freshly allocated buffer and runs the
internal consistency self-test against it, reporting whether the pool came
up clean.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
	cmd.Flags().Uint32Var(&initSize, "size", heap.DefaultSize, "heap size in bytes")
	rootCmd.AddCommand(cmd)
}

func runInit() error {
	heap.Init(initSize)
	defer heap.Deinit()

	printVerbose("heap initialized: %d bytes\n", initSize)

	res := heap.Test()
	if jsonOut {
		return printJSON(map[string]interface{}{
			"size":   initSize,
			"result": resultString(res),
		})
	}

	printInfo("heap of %d bytes initialized: %s\n", initSize, resultString(res))
	if res != heap.ResOK {
		return fmt.Errorf("heap self-test failed")
	}
	return nil
}

func resultString(r heap.Result) string {
	if r == heap.ResOK {
		return "OK"
	}
	return "INVALID"
}
