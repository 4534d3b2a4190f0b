package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"binstore/cmd/binstore/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx); err != nil {
		log.Fatal(err)
	}
}
