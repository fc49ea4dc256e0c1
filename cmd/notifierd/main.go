package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/kumona/notify-core/internal/app"
	"github.com/kumona/notify-core/internal/config"
	"github.com/kumona/notify-core/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet; exit immediately.
		_, _ = os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(2)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger init error: " + err.Error() + "\n")
		os.Exit(2)
	}
	// Ensure logger flush; ignore sync error (common on some platforms).
	defer func() { _ = log.Sync() }()

	// Push/email senders and the address resolver belong to the surrounding
	// backend; running standalone, those channels degrade to store-only.
	application := app.New(cfg, log, app.Collaborators{})

	if err := application.Run(context.Background()); err != nil {
		log.Fatal("app run failed", zap.Error(err))
	}
}
