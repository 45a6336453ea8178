// Command wsrelayd runs the two-endpoint WebSocket relay described in
// spec.md: it pairs at most two authenticated clients inside a named
// channel and forwards application-level frames between them without
// interpreting, persisting, or routing beyond the peer pair.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-errors/errors"

	"github.com/lightningnetwork/wsrelayd/internal/appctx"
	"github.com/lightningnetwork/wsrelayd/internal/log"
)

var ltndLog = log.Get(log.Server)

// wsrelaydMain is the true entry point, mirroring lnd.go's lndMain:
// kept separate from main() so deferred cleanup runs even when a
// fatal condition calls for a non-zero exit, since defers in main()'s
// own scope wouldn't fire before os.Exit.
func wsrelaydMain() error {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	if cfg.LogDir != "" {
		if err := log.InitLogRotator(cfg.LogDir+"/wsrelayd.log", 10, 3); err != nil {
			return errors.WrapPrefix(err, "unable to init log rotator", 0)
		}
	}
	log.SetLevel(cfg.LogLevel)
	defer log.Flush()

	ltndLog.Infof("wsrelayd starting: port=%d maxChannels=%d maxMessageSize=%d secret=%s",
		cfg.Port, cfg.MaxChannels, cfg.MaxMessageSize, cfg.redactedSecret())

	actx := appctx.New(appctx.Config{
		ServerSecret:       cfg.ServerSecret,
		MaxMessageSize:     int(cfg.MaxMessageSize),
		MaxChannels:        cfg.MaxChannels,
		RateLimitMax:       cfg.RateLimitMax,
		RateLimitWindowSec: cfg.RateLimitWindowSec,
		Compression:        cfg.Compression,
	})

	srv := newServer(cfg, actx)
	if err := srv.Start(); err != nil {
		return errors.WrapPrefix(err, "unable to start server", 0)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	ltndLog.Infof("shutdown signal received, draining connections")
	if err := srv.Shutdown(context.Background()); err != nil {
		ltndLog.Errorf("shutdown did not complete cleanly: %v", err)
	}
	ltndLog.Info("shutdown complete")

	return nil
}

func main() {
	if err := wsrelaydMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
