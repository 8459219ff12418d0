// Command neteye is a concurrent TCP/UDP port scanner with banner based
// service detection.
package main

import "github.com/anstrom/neteye/cmd/cli"

// Build information, set by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
