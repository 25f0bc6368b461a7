package main

import (
	"errors"
	"fmt"
	"os"

	migrate "github.com/getpup/migrate-orchestrator"
	"github.com/getpup/migrate-orchestrator/descriptor"
)

// Exit codes per the CLI contract: 0 full completion, 1 failure
// requiring attention, 2 invalid invocation.
const (
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var incomplete *migrate.DescriptorIncompleteError
	if errors.As(err, &incomplete) ||
		errors.Is(err, descriptor.ErrInvalidName) ||
		errors.Is(err, errUsage) {
		return exitUsage
	}
	return exitFailure
}
