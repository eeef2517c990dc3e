// Command tlsfctl is a small harness that exercises the heap and timer
// runtime from outside a Go program: initialize a heap, drive the timer
// loop for a given duration, dump a monitor snapshot, or run the internal
// consistency self-checks.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	jsonOut bool
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tlsfctl",
	Short: "Drive and inspect a TLSF-backed heap and timer runtime",
	Long: `tlsfctl initializes a heap of a given size, runs the cooperative
timer scheduler against it for a given duration, and reports monitor
snapshots and consistency check results.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printInfo(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, format, args...)
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	execute()
}
