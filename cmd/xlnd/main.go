// Command xlnd runs the entity replication layer's Runtime Kernel: a
// cobra CLI wrapping the tick loop, replay-from-snapshot, and snapshot
// inspection, grounded in the teacher's cmd/empower1d/main.go +
// cmd/empower1d/cli/cli.go split between process wiring and command
// definitions.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/xlnfinance/xln/cmd/xlnd/cli"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "xlnd: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := cli.NewRootCmd(logger).Execute(); err != nil {
		logger.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
