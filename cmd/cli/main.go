package main

import (
	"os"

	"github.com/stashd-dev/stashd/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
