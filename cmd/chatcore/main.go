// Package main is the entry point for the chatcore CLI.
package main

import (
	"fmt"
	"os"

	"github.com/planboard/chatcore/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
