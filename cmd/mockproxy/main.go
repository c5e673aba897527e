// mockproxy CLI - intercepting HTTP/HTTPS proxy that answers matching requests with mock responses
package main

import (
	"github.com/getmockd/mockproxy/pkg/cli"
)

// Build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cli.Version = Version
	cli.Commit = Commit
	cli.BuildDate = BuildDate
	cli.Execute()
}
