package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sandeepkv93/secure-session-core/internal/di"
)

func main() {
	a, cleanup, err := di.InitializeApp()
	if err != nil {
		log.Fatal(err)
	}
	a.OnStop(cleanup)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := a.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
