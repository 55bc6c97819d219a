package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/MigueldsBatista/anyscreen/internal/adapters/http"
	"github.com/MigueldsBatista/anyscreen/internal/app"
	"github.com/MigueldsBatista/anyscreen/internal/app/orch"
	"github.com/MigueldsBatista/anyscreen/internal/config"
)

func main() {
	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "signal-server",
		Short:         "WebRTC signaling relay: rooms, presence and offer/answer/candidate routing",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				log.Error().Err(err).Msg("failed to load config")
				return err
			}
			if err := run(cmd.Context(), cfg); err != nil {
				log.Error().Err(err).Msg("server error")
				return err
			}
			return nil
		},
	}
	cmd.Flags().Int("port", 8080, "listen port")
	cmd.Flags().String("mode", "release", "release or debug")
	cmd.Flags().String("config-env", "", "loads config/config.<env>.yaml (default $CONFIG_ENV or dev)")
	return cmd
}

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		// JSON lines in production.
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	reg := app.NewRegistry()
	rooms := app.NewRoomManager(reg, app.WithMaxRooms(cfg.MaxRooms))
	rt := app.NewRouter(reg, rooms, app.RouterOptions{
		Policy:            app.SimplePolicy{},
		NotifyUnreachable: cfg.NotifyUnreachable,
		ICEServers:        cfg.WebRTCICEServers(),
		JoinLimiter:       app.NewRateLimiter(cfg.JoinLimit, cfg.JoinInterval),
	})
	o := orch.New(reg, rooms, rt, orch.Options{
		EmptyRoomTTL:      cfg.EmptyRoomTTL,
		JanitorPeriod:     cfg.JanitorPeriod,
		CreateRoomLimiter: app.NewRateLimiter(cfg.CreateRoomLimit, cfg.CreateRoomInterval),
	})
	o.Start()
	defer o.Stop()

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("signaling server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
