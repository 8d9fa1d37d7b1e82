// Command stanag5066d is the subnetwork daemon: it exposes SIS client
// ports, DTS peer ports, and an optional HTTP aux listener, bridging
// client UNIDATA traffic onto peer DTS sessions and back.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	charmlog "github.com/charmbracelet/log"

	"github.com/hfradio/stanag5066d/internal/config"
	"github.com/hfradio/stanag5066d/pkg/daemon"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if cfg.ConfigFile != "" {
		if err := config.Load(cfg, cfg.ConfigFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
	}

	logger := slog.New(newLogHandler(cfg.Verbosity))

	d := daemon.New(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		signal.Stop(sigChan)
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := d.Run(ctx); err != nil {
		logger.Error("daemon exited with error", "err", err)
		return 1
	}
	return 0
}

// newLogHandler builds the slog handler backing the root logger, using
// charmbracelet/log's handler (which itself implements slog.Handler) for
// the terminal-friendly level-colored output. verbosity is the number of
// repeated -v flags: 0 is info, 1 is debug.
func newLogHandler(verbosity int) slog.Handler {
	level := charmlog.InfoLevel
	if verbosity > 0 {
		level = charmlog.DebugLevel
	}
	return charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Level:           level,
	})
}
