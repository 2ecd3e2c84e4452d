package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load .env file: %v\n", err)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	config, err := loadConfig(os.Getenv("OBSERVER_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := setupServices(ctx, config)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}
	defer services.Close()

	go services.Observer.Start(ctx)

	if err := services.Controller.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial refresh failed, retry from the observer")
	}

	if config.Observer.ShowQR {
		printQRCode(config.observerURL())
	}

	server := setupServer(services, config)
	log.Info().Str("addr", server.Addr).Str("session_id", services.Controller.SessionID()).Msg("observer listening")
	if err := serve(ctx, server, 10*time.Second); err != nil {
		log.Error().Err(err).Msg("server failed")
	}
}

// printQRCode shows the observer URL so a phone on the same network can open it.
func printQRCode(url string) {
	q, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		log.Warn().Err(err).Msg("failed to render QR code")
		return
	}
	fmt.Fprintln(os.Stderr, q.ToSmallString(false))
	log.Info().Str("url", url).Msg("scan to open the observer")
}
