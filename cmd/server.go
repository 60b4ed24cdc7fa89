package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-booking/internal/application"
	"github.com/iliyamo/cinema-seat-booking/internal/config"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the HTTP + WebSocket server",
	RunE:  runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	log := newLogger(cfg.Dev())
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := application.New(cfg, log)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	return app.Run(ctx)
}

// newLogger returns a development logger in dev and a JSON production
// logger otherwise.
func newLogger(dev bool) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if dev {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return log
}
