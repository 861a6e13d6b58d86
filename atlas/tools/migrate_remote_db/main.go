package main

import (
	"log/slog"
	"os"
	"os/exec"

	"signalbot/src/config"
	"signalbot/src/database"
)

// Applies atlas/migrations to the database named in the signalbot config.
func main() {
	appConfig, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	uri := database.MakeConnectionString(&appConfig.DatabaseConfig)
	slog.Info("Executing migrations", "host", appConfig.DatabaseConfig.Host, "database", appConfig.DatabaseConfig.Database)

	cmd := exec.Command("atlas", "migrate", "apply",
		"--url", uri,
		"--dir", "file://atlas/migrations",
	)
	output, err := cmd.CombinedOutput()
	os.Stdout.Write(output) //nolint:errcheck

	if err != nil {
		slog.Error("Failed to run atlas migrations", "error", err)
		os.Exit(1)
	}
}
