package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"storyforge/backend/services/credits-service/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "creditsctl:", err)
		stop()
		os.Exit(1)
	}
}
