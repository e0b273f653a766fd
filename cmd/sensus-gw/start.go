package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattjoyce/sensus-gw/internal/api"
	"github.com/mattjoyce/sensus-gw/internal/auth"
	"github.com/mattjoyce/sensus-gw/internal/config"
	"github.com/mattjoyce/sensus-gw/internal/connection"
	"github.com/mattjoyce/sensus-gw/internal/dispatch"
	"github.com/mattjoyce/sensus-gw/internal/events"
	"github.com/mattjoyce/sensus-gw/internal/gateway"
	"github.com/mattjoyce/sensus-gw/internal/lock"
	"github.com/mattjoyce/sensus-gw/internal/log"
	"github.com/mattjoyce/sensus-gw/internal/plugin"
	"github.com/mattjoyce/sensus-gw/internal/storage"
	"github.com/mattjoyce/sensus-gw/internal/webhook"
)

const (
	watchDebounce = 500 * time.Millisecond
	stopTimeout   = 10 * time.Second
	eventBuffer   = 256
)

func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.Discover(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("sensus-gw starting", "version", version, "config", path)

	pidLock, err := lock.Acquire(cfg.LockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.LockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", cfg.LockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	var webhookConfig webhook.Config
	webhooksEnabled := cfg.Webhooks != nil && len(cfg.Webhooks.Endpoints) > 0
	if webhooksEnabled {
		if webhookConfig, err = webhook.FromGlobalConfig(cfg.Webhooks); err != nil {
			logger.Error("failed to configure webhooks", "error", err)
			return 1
		}
	}

	// Signals are registered before any unit can request an exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	hub := events.NewHub(eventBuffer)
	host := gateway.NewHost(db, hub, gateway.SignalSelf)

	registry := plugin.NewRegistry(nil, host, plugin.Options{
		FolderDir:    cfg.Plugins.FolderDir,
		FileDir:      cfg.Plugins.FileDir,
		SnapshotPath: cfg.Plugins.SnapshotPath,
		UnitConfig:   cfg.Plugins.Units,
	})
	if _, err := registry.Reload(ctx); err != nil {
		logger.Error("plugin discovery failed", "folder_dir", cfg.Plugins.FolderDir, "file_dir", cfg.Plugins.FileDir, "error", err)
		return 1
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		if err := registry.Stop(stopCtx); err != nil {
			logger.Warn("plugin shutdown incomplete", "error", err)
		}
	}()

	disp := dispatch.New(registry, cfg.Gateway.MaxConcurrency, hub)
	table := connection.NewTable()
	gw := gateway.New(gateway.Options{
		Listen:           cfg.Gateway.Listen,
		Path:             cfg.Gateway.Path,
		Token:            cfg.Gateway.Token,
		HandshakeTimeout: cfg.Gateway.HandshakeTimeout,
		WriteTimeout:     cfg.Gateway.WriteTimeout,
		ReadLimit:        cfg.Gateway.ReadLimit,
	}, table, disp, hub)

	errCh := make(chan error, 4)
	done := make(chan struct{}, 4)
	running := 0
	start := func(name string, run func(context.Context) error) {
		running++
		go func() {
			defer func() { done <- struct{}{} }()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	start("gateway", gw.Start)

	if cfg.Plugins.Watch {
		start("plugin watcher", func(ctx context.Context) error {
			return registry.Watch(ctx, watchDebounce)
		})
		logger.Info("plugin hot reload enabled")
	}

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		apiServer := api.New(api.Config{
			Listen:      cfg.API.Listen,
			APIKey:      cfg.API.Auth.APIKey,
			Tokens:      tokens,
			Fingerprint: cfg.Fingerprint(),
		}, api.Deps{
			Registry:    registry,
			Connections: table,
			Load:        disp,
			Exiter:      host,
			Events:      hub,
		}, log.WithComponent("api"))
		start("api", apiServer.Start)
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if webhooksEnabled {
		webhookServer := webhook.New(webhookConfig, registry, log.WithComponent("webhook"))
		start("webhook", webhookServer.Start)
		logger.Info("webhook server enabled", "listen", webhookConfig.Listen, "endpoints", len(webhookConfig.Endpoints))
	}

	logger.Info("sensus-gw running (press Ctrl+C to stop)", "listen", cfg.Gateway.Listen, "path", cfg.Gateway.Path)

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}
	cancel()

	for ; running > 0; running-- {
		<-done
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer waitCancel()
	if err := disp.Wait(waitCtx); err != nil {
		logger.Warn("in-flight handlers did not finish", "in_flight", disp.InFlight(), "error", err)
	}

	logger.Info("sensus-gw stopped")
	return code
}
