// ./main.go
package main

import (
	"github.com/nv4re/tabpilot/cmd"
)

// main is the entry point for the tabpilot CLI.
func main() {
	// Execute the root command defined in the cmd package. This handles all
	// command-line parsing, configuration, and execution.
	cmd.Execute()
}
