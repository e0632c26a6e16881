// Package main provides the entry point for the addongit CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Sumatoshi-tech/addongit/cmd/addongit/commands"
)

func main() {
	err := commands.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
