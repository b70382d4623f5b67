// Package main provides the entry point for the scenedex CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/scenedex/cmd/scenedex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
