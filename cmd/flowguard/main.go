package main

import (
	"os"

	"github.com/telhawk-systems/flowguard/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
