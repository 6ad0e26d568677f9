package main

import (
	"os"

	"github.com/bianoble/refpin/cmd/refpin/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
