// main.go
//
// Minimal entry point that delegates CLI handling to the Cobra root command in internal/cli.

package main

import (
	"github.com/thalesfsp/hpsearch/internal/cli"
)

func main() {
	cli.Execute()
}
