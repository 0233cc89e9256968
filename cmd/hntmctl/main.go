// Package main provides hntmctl, a command-line tool for HNTM frame files
// and Gaussian mixture models.
//
// Usage:
//
//	hntmctl [--config project.toml] <group> <command> [args]
//
// Groups:
//
//	gmm     - train, inspect and score Gaussian mixture models
//	frames  - inspect frame sequences and convert their noise representation
package main

import (
	"fmt"
	"os"
)

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
