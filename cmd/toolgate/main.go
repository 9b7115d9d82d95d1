package main

import (
	"os"

	"github.com/calder/toolgate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
