package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// CreateContextWithShutdown returns a context that is cancelled on SIGINT or SIGTERM so the
// dispatcher and background loops can drain before the process exits.
func CreateContextWithShutdown() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(signals)
		select {
		case sig := <-signals:
			log.Infof("Received %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
