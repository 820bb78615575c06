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

	router "github.com/rtcmeet/signaling/internal/adapters/http"
	sigws "github.com/rtcmeet/signaling/internal/adapters/signal"
	"github.com/rtcmeet/signaling/internal/adapters/sfu"
	"github.com/rtcmeet/signaling/internal/app"
	"github.com/rtcmeet/signaling/internal/config"
	"github.com/rtcmeet/signaling/internal/core"
	"github.com/rtcmeet/signaling/internal/directory"
	"github.com/rtcmeet/signaling/internal/domain"
	"github.com/rtcmeet/signaling/internal/identity"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	store := openStore(cfg)
	dir := directory.New(store, cfg.DirectoryTTL, cfg.ChatHistory)

	var resolver identity.Resolver
	if cfg.AuthSecret != "" {
		resolver = identity.NewSecretResolver(cfg.AuthSecret)
	} else {
		resolver = identity.NewStoreResolver(store, cfg.DirectoryTTL)
	}

	engine := sfu.NewEngine(cfg.ICEServers)
	defer engine.Close()

	manager := core.NewManager(engine, domain.RoomSettings{
		MaxParticipants:  cfg.Room.MaxParticipants,
		AllowScreenShare: cfg.Room.AllowScreenShare,
		AllowChat:        cfg.Room.AllowChat,
		RecordingEnabled: cfg.Room.RecordingEnabled,
	})

	orch := &app.Orchestrator{
		Rooms:     manager,
		Directory: dir,
		Registry:  app.NewRegistry(),
	}
	ctl := sigws.NewController(orch, resolver, cfg.ReadLimit, cfg.PingPeriod)

	r := router.SetupRouter(ctx, cfg, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	// Engine death is unrecoverable: room state would silently drift
	// from a dead media layer, so the process goes down with it.
	select {
	case err, ok := <-engine.Fatal():
		if ok {
			log.Error().Err(err).Msg("media engine died")
			cancel()
			shutdown(srv)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdown(srv)
	log.Info().Msg("Server exited gracefully")
}

func shutdown(srv *http.Server) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
}

// openStore connects the shared directory store, falling back to the
// in-process store when no redis address is configured or reachable.
// The fallback keeps single-node deployments and local runs working;
// multi-node room discovery needs the real store.
func openStore(cfg *config.Config) directory.Store {
	if cfg.Redis.Addr == "" {
		log.Warn().Msg("no redis configured, using in-process directory store")
		return directory.NewMemoryStore()
	}
	store, err := directory.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, using in-process directory store")
		return directory.NewMemoryStore()
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("directory store connected")
	return store
}
