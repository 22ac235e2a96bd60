package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pagewire/livesync/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Main(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "livesync:", err)
		stop()
		os.Exit(1)
	}
}
