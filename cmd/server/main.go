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

	router "github.com/beacon-im/beacon/internal/adapters/http"
	wsignal "github.com/beacon-im/beacon/internal/adapters/signal"
	"github.com/beacon-im/beacon/internal/app"
	"github.com/beacon-im/beacon/internal/config"
	"github.com/beacon-im/beacon/internal/crypto"
	"github.com/beacon-im/beacon/internal/domain"
	"github.com/beacon-im/beacon/internal/store"
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
		log.Error().Err(err).Msg("failed to load config")
	}

	codec := crypto.NewCodecFromConfig(cfg.EncryptionKey)

	// Persistence and auth are external collaborators; the in-memory
	// stand-ins keep the binary self-contained.
	mem := store.NewMemory()
	if cfg.Mode == "debug" {
		seedFixtures(mem)
	}

	registry := app.NewRegistry()
	rooms := app.NewRoomManager()
	calls := app.NewCallCoordinator(registry, mem.Calls())
	relay := &app.MessageRelay{
		Registry: registry,
		Rooms:    rooms,
		Codec:    codec,
		Channels: mem,
		Messages: mem,
		Policy:   app.SimplePolicy{},
	}

	ctl := wsignal.NewController(registry, rooms, calls, relay)
	ctl.ReadLimit = cfg.ReadLimit
	ctl.PingPeriod = cfg.PingPeriod
	ctl.SendBuffer = cfg.SendBuffer

	r := router.SetupRouter(ctx, cfg, mem, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Beacon server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

// seedFixtures loads demo identities and one shared channel so a debug
// build is usable without the real collaborators.
func seedFixtures(mem *store.Memory) {
	mem.AddToken("alice-token", "alice")
	mem.AddToken("bob-token", "bob")
	mem.AddChannel(&domain.Channel{
		ID:      "general",
		Name:    "general",
		Members: []domain.UserID{"alice", "bob"},
	})
	log.Info().Msg("debug fixtures seeded: users alice/bob, channel general")
}
