package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/localforge/myllm/internal/config"
	"github.com/localforge/myllm/internal/engine"
	"github.com/localforge/myllm/internal/engine/llamacpp"
	"github.com/localforge/myllm/internal/httpapi"
	"github.com/localforge/myllm/internal/modelcache"
	"github.com/localforge/myllm/internal/modelregistry"
	"github.com/localforge/myllm/internal/observability"
	"github.com/localforge/myllm/internal/runtime"
	"github.com/localforge/myllm/internal/session"
)

// version is the server's reported build version; overridden at build
// time with -ldflags "-X main.version=...".
var version = "dev"

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	host := fs.String("host", "", "override host to bind to")
	port := fs.Int("port", 0, "override port to bind to")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	registry, cache, store, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	orch := runtime.New(registry, cache, store)
	server := httpapi.NewServer(orch, registry, cache, version)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: server}

	go retireStaleSessions(store, cfg.SessionRetentionDays)

	go func() {
		log.Info().Str("addr", addr).Msg("myllm server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("myllm server stopped")
	}
	return nil
}

// buildRuntime wires the Model Registry, Model Cache and Session Store
// from a loaded config. Shared by serve and run so both surfaces boot
// an identical stack.
func buildRuntime(cfg config.Config) (*modelregistry.Registry, *modelcache.Cache, *session.SQLiteStore, error) {
	registry := modelregistry.New(cfg.ModelsDir)
	if _, err := registry.Scan(); err != nil {
		return nil, nil, nil, fmt.Errorf("scan models dir: %w", err)
	}

	loader := func(ctx context.Context, name string) (engine.Engine, error) {
		path, err := registry.GetPath(name)
		if err != nil {
			return nil, err
		}
		modelCfg, err := registry.GetConfig(name)
		if err != nil {
			return nil, err
		}
		eng, err := llamacpp.Load(path, modelCfg.ContextSize, cfg.DefaultGPULayers, 0)
		if err != nil {
			return nil, err
		}
		_ = registry.MarkLoaded(name, true)
		return eng, nil
	}
	cache := modelcache.New(cfg.MaxLoadedModels, loader)

	store, err := session.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open session store: %w", err)
	}
	return registry, cache, store, nil
}

// retireStaleSessions periodically sweeps sessions older than
// retentionDays, matching spec §4.7's retention policy.
func retireStaleSessions(store *session.SQLiteStore, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		n, err := store.DeleteOlderThan(context.Background(), retentionDays)
		if err != nil {
			log.Warn().Err(err).Msg("session retention sweep failed")
			continue
		}
		if n > 0 {
			log.Info().Int("deleted", n).Msg("retired stale sessions")
		}
	}
}
