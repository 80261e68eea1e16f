// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// logiq-call makes a single JSON-RPC call on a LogIQ appliance.
package main

import (
	"fmt"
	"os"

	"github.com/juju/logiq/cmd"
)

func main() {
	os.Exit(Main(os.Args))
}

// Main runs the command with the given arguments, including the
// program name, and returns the exit code.
func Main(args []string) int {
	dir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR %v\n", err)
		return 2
	}
	ctx := &cmd.Context{
		Dir:    dir,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
	return cmd.Main(newCallCommand(), ctx, args[1:])
}
