// Command poolbet is the entry point for the pari-mutuel pool engine.
package main

import (
	"os"

	"github.com/alanyoungcy/poolbet/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
