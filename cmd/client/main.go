package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/Boseong0902/webRtc-poc/internal/adapters/http"
	"github.com/Boseong0902/webRtc-poc/internal/adapters/presence"
	"github.com/Boseong0902/webRtc-poc/internal/adapters/rtc"
	"github.com/Boseong0902/webRtc-poc/internal/app"
	"github.com/Boseong0902/webRtc-poc/internal/config"
	"github.com/Boseong0902/webRtc-poc/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	directory, err := buildDirectory(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect presence directory")
	}

	fabric := rtc.NewFabric(rtc.Config{
		SignalURL:   cfg.Fabric.SignalURL,
		STUNServers: cfg.Fabric.STUNServers,
		TURN: rtc.TURNConfig{
			URL:        cfg.Fabric.TURN.URL,
			Username:   cfg.Fabric.TURN.Username,
			Credential: cfg.Fabric.TURN.Credential,
		},
	})

	media := rtc.NewRTPMediaProvider(rtc.MediaConfig{
		AudioPort: cfg.Media.AudioPort,
		VideoPort: cfg.Media.VideoPort,
	})

	coord := app.NewCoordinator(directory, fabric, media, app.Timings{
		SyncTimeout:     cfg.Probe.SyncTimeout,
		SettleDelay:     cfg.Probe.SettleDelay,
		RecoveryTimeout: cfg.Probe.RecoveryTimeout,
	})

	r := router.SetupRouter(cfg, coord)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("call client control surface started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	coord.Close(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Client exited gracefully")
}

func buildDirectory(cfg *config.Config) (core.DirectoryClient, error) {
	switch cfg.Directory.Driver {
	case "redis":
		return presence.NewRedisDirectory(presence.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	default:
		return presence.NewRealtimeDirectory(cfg.Directory.URL, cfg.Directory.Key), nil
	}
}
