// Command plural-refactor is the refactoring sidecar spawned by an editor
// host. It speaks a line-oriented JSON protocol on stdin and stdout and logs
// to a file.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
