package main

import (
	"os"

	"github.com/h2oai/h2o-3-sub001/cmd/h2otest/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
