// Package main is the entry point for the cfmctl CLI
package main

import (
	"os"

	"github.com/circlesfundme/cfmctl/cmd"
)

// Set at build time via ldflags
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	cmd.SetVersion(version)
	cmd.SetBuildInfo(commit, buildTime)
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
