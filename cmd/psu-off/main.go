// Command psu-off switches a 3D printer's power supply off through a GPIO
// relay once the printer has been idle and its hot ends have cooled, then
// shuts the host down.
package main

import "os"

// Set at build time with -ldflags "-X main.version=...".
var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
