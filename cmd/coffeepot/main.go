// Command coffeepot fuzzes a single RV64GC ELF binary: mutate a corpus
// entry into guest memory, run to a configured snapshot/restore window,
// record coverage growth and crashes, repeat.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
