package main

import (
	"fmt"
	"os"

	"github.com/rsepassi/rebuild/internal/cli"
)

var version = "0.1.0"

// main is a deterministic boundary: it hands off to cobra and maps
// whatever error comes back to the spec's exit-code taxonomy.
func main() {
	cli.SetVersion(version)
	err := cli.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(cli.ExitCode(err))
}
