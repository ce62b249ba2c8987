package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/contatto/internal/bootstrap"
	"github.com/turtacn/contatto/internal/config"
	"github.com/turtacn/contatto/internal/infrastructure/monitoring"
	"github.com/turtacn/contatto/pkg/logger"
)

func main() {
	// Load config; CONTATTO_CONFIG points at an explicit file
	loader := config.NewLoader(os.Getenv("CONTATTO_CONFIG"))
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	loader.WatchLogLevel(appLogger, appLogger.SetLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal(context.Background(), "Failed to assemble bridge", err)
	}

	appLogger.Info(ctx, "Contatto bridge starting",
		logger.String("config", loader.ConfigFileUsed()),
		logger.Bool("realtime", cfg.Realtime.Enabled),
		logger.Bool("http", cfg.Server.Enabled),
		logger.String("token_store", cfg.Token.Store),
	)
	runErr := app.Run(ctx)
	if err := app.Close(context.Background()); err != nil {
		appLogger.Error(context.Background(), "Failed to release resources", err)
	}
	if runErr != nil {
		appLogger.Error(context.Background(), "Bridge exited with error", runErr)
		stop()
		os.Exit(1)
	}
}
