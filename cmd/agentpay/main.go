package main

import (
	"fmt"
	"os"

	"github.com/agentpay/agentpay/internal/cli"
)

// Build-time version information, set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := cli.NewRootCommand(cli.VersionInfo{Version: version, Commit: commit, Date: date})
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "agentpay: %v\n", err)
		os.Exit(1)
	}
}
