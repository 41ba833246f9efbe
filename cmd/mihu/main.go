package main

import (
	"os"

	"github.com/mihulabs/mihu/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
