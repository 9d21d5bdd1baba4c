// forge-release is the release orchestration engine for the monorepo:
// it analyzes change impact, resolves versions, publishes artifacts, and
// enforces retention.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
