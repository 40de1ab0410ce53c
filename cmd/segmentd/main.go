package main

import (
	"os"

	"github.com/donorhub/segmentd/cmd/segmentd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
