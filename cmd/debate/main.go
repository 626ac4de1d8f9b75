// Command debate runs two-sided LLM debates as checkpointed, resumable
// sessions. An interrupted debate continues from its last completed stage
// with `debate run --session <id>`.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
