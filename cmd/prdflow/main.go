package main

import (
	"os"

	"github.com/prdflow/prdflow/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
