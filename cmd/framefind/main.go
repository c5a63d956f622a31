package main

import (
	"os"

	"github.com/framefind/framefind/cmd/framefind/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
