// vt is the village field-tracking console: offline-first capture of
// awareness sessions and child screenings, with opportunistic sync to the
// field sync server.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
