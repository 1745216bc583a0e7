package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"

	"github.com/lenslink/cloud/internal/auth"
	"github.com/lenslink/cloud/internal/catalog"
	"github.com/lenslink/cloud/internal/logger"
	"github.com/lenslink/cloud/internal/server"
	"github.com/lenslink/cloud/internal/session"
	"github.com/lenslink/cloud/pkg/config"
)

func main() {
	cfg := config.Load()

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	log.Info("starting lenslink cloud", "port", cfg.Port, "instance_id", logger.GetInstanceID())

	gin.SetMode(cfg.GinMode)

	validator, err := auth.NewJWTValidator(cfg.SessionJWTSecret)
	if err != nil {
		log.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	var apps catalog.Catalog
	if cfg.AppCatalogPath != "" {
		apps, err = catalog.LoadFile(cfg.AppCatalogPath)
		if err != nil {
			log.Error("failed to load app catalog", "path", cfg.AppCatalogPath, "error", err)
			os.Exit(1)
		}
	} else {
		log.Warn("no app catalog configured, starting with an empty catalog")
		apps = catalog.NewMemory()
	}

	registry := session.NewRegistry(session.Deps{
		Catalog:  apps,
		Launcher: session.NewWebhookLauncher(cfg.PublicURL, log),
		Log:      log,
	}, log)

	var release *session.ReleaseService
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL,
			nats.Name("lenslink-cloud-"+logger.GetInstanceID()),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			log.Error("failed to connect to NATS", "url", cfg.NatsURL, "error", err)
			os.Exit(1)
		}
		defer nc.Close()

		release = session.NewReleaseService(nc, registry, log, logger.GetInstanceID())
		if err := release.Start(); err != nil {
			log.Error("failed to start session release service", "error", err)
			os.Exit(1)
		}
		registry.SetReleaseService(release)
		log.Info("cross-instance session release enabled", "url", cfg.NatsURL)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.New(registry, validator, log).Handler(),
	}

	go func() {
		log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	if release != nil {
		release.Stop()
	}
	registry.DisposeAll()

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", "error", err)
	}

	log.Info("server stopped")
}
