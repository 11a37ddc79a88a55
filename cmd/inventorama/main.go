// Command inventorama scans IPv4 targets and collects host inventory.
package main

import "github.com/anstrom/inventorama/cmd/cli"

// Set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
