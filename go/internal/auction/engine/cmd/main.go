package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mcdev12/primegavel/go/internal/dbconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	config, err := loadConfig(getEnv("AUCTION_CONFIG", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(config.logLevel())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbCfg := dbconfig.NewConfigFromEnv()
	database, err := dbconfig.Open(ctx, dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	services, err := setupServices(ctx, config, database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup services")
	}

	log.Info().
		Str("database", dbCfg.Database).
		Str("auction_date", services.Lots.AuctionDate()).
		Int("start_threshold", config.Engine.StartThreshold).
		Int("countdown_seconds", config.Engine.CountdownSeconds).
		Str("port", config.Server.Port).
		Msg("starting auction engine")

	// Connection manager dispatch loop
	go services.Gateway.Start(ctx)

	server := setupServer(config, services)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	services.Close()
	cancel()

	log.Info().Msg("auction engine shutdown complete")
}
