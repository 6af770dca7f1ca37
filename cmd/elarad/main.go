// Command elarad runs a single ELARA host process: one identity, one
// Badger-backed store, and a tick-driven session joined to a reality
// space named on the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/fx"

	"github.com/elara-net/elara/internal/config"
	"github.com/elara-net/elara/internal/runtime"
	"github.com/elara-net/elara/pkg/ids"
	"github.com/elara-net/elara/pkg/log"
)

var (
	dataDir   = flag.String("data-dir", "./data", "directory for identity and state storage")
	sessionID = flag.Uint64("session", 1, "reality space session id to join")
	logLevel  = flag.String("log-level", "info", "log level: debug, info, warn, error")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "elarad: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()
	setupLogging(*logLevel)

	logger := log.Logger("elarad")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var host *runtime.Host
	app := fx.New(
		fx.WithLogger(runtime.NewFxLogger),
		runtime.Module(*dataDir),
		fx.Populate(&host),
	)

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start host: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
		defer cancel()
		if err := app.Stop(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	// A stub transport stands in for the out-of-scope signaling layer
	// this binary has no peer discovery for: it refuses every send with
	// an error, so the joined session ticks locally but reaches no peer.
	session, err := host.StartSession(ids.SessionId(*sessionID), runtime.TransportFunc(loopbackSend), config.Default())
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	logger.Info("session joined", "session", session.ID(), "node", session.Identity().NodeId())
	logger.Info("elarad running, press ctrl-c to exit")

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func loopbackSend(_ context.Context, peer ids.NodeId, _ []byte) error {
	return fmt.Errorf("elarad: no transport wired for peer %s", peer)
}

func setupLogging(level string) {
	switch level {
	case "debug":
		log.SetLevel(slog.LevelDebug)
	case "warn":
		log.SetLevel(slog.LevelWarn)
	case "error":
		log.SetLevel(slog.LevelError)
	default:
		log.SetLevel(slog.LevelInfo)
	}
}
