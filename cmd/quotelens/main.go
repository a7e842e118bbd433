package main

import (
	"github.com/quotelens/quotelens/internal/cmd"
	"github.com/quotelens/quotelens/internal/server/handlers"
)

// Set via ldflags, e.g.
// go build -ldflags="-X main.version=0.4.0 -X main.commit=abc123 -X main.buildDate=2026-01-05"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	handlers.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		cmd.ExitOnError(err)
	}
}
