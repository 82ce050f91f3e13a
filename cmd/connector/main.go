// Command connector runs the ERP side of catalog exchange: it mirrors
// entity collections into a local SQLite database and pushes local changes
// back as batches.
package main

import "os"

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
