// Package main is the entry point for flowctl.
// flowctl is the operator terminal tool for the ticketflow API.
package main

import (
	"os"

	"ticketflow/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
