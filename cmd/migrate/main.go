package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"bizledger/internal/config"
	"bizledger/internal/db"
	"bizledger/internal/logging"
)

// Usage: migrate [up|down|status|reset|version]
func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel)

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	database, err := db.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.Migrate(database.DB, command); err != nil {
		logger.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
	logger.Info("migration complete", "command", command)
}
