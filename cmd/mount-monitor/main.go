// mount-monitor shows live mountd status from the snapshot stream.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/unklstewy/mountcore/internal/api"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "mountd address")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := NewApp(api.NewClient(*addr))
	if err := app.Run(ctx); err != nil {
		log.Fatalf("mount-monitor: %v", err)
	}
}
