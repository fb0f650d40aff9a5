package main

import (
	"context"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := newApp()
	err := app.root.ExecuteContext(ctx)
	app.shutdown()
	if err != nil {
		os.Exit(1)
	}
}
