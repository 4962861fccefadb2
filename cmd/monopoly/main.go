package main

import (
	"os"

	"github.com/nipunasudha/monopoly-polymarket-agent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
