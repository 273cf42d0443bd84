package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/PatchLens/go-page-wrap/wrap/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.NewRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
