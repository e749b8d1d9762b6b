// Package main is the entry point for restock-sentinel.
package main

import (
	"os"

	"github.com/mgrabowski/restock-sentinel/cmd/restock-sentinel/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
