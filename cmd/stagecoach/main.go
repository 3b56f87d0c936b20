package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/stagecoach-run/stagecoach/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}
