// Command aethel runs the local assistant: a control loop that turns user
// requests into file, search and application actions.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
