// Command httpobserve runs a demo HTTP server behind a capture pipeline.
//
// Telemetry, redaction and capture are configured from OBSERVE_*,
// OBSERVE_REDACT_* and OBSERVE_HTTP_* environment variables.
package main

import (
	"context"
	"os"
)

// Version information, set through -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
