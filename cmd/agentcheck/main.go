// Command agentcheck orchestrates multi-participant agent debates that
// transform a task description into verified repository changes.
package main

import (
	"fmt"
	"os"

	"github.com/awe-dev/agentcheck/cmd/agentcheck/cmd"
)

var (
	version = "dev"
)

func main() {
	cmd.SetVersion(version)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
