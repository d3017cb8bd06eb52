package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/execution-hub/moldwatch/internal/api/http"
	"github.com/execution-hub/moldwatch/internal/application/notification"
	"github.com/execution-hub/moldwatch/internal/application/session"
	"github.com/execution-hub/moldwatch/internal/config"
	"github.com/execution-hub/moldwatch/internal/infrastructure/credential"
	"github.com/execution-hub/moldwatch/internal/infrastructure/memstore"
	"github.com/execution-hub/moldwatch/internal/infrastructure/metrics"
	"github.com/execution-hub/moldwatch/internal/infrastructure/sse"
	"github.com/execution-hub/moldwatch/internal/infrastructure/transport"
	"github.com/execution-hub/moldwatch/internal/protocol"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := zerolog.New(os.Stdout).Level(cfg.Level()).With().Timestamp().Logger()

	creds, err := credential.Open(cfg.CredentialFile, cfg.Password, logger)
	if err != nil {
		log.Fatalf("credential error: %v", err)
	}

	// infrastructure
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewProm(registry)

	store := memstore.New()
	sseHub := sse.NewHub(logger)
	link := transport.New(transport.Config{
		URL:                  cfg.ServerURL,
		ReconnectionInterval: cfg.ReconnectionInterval,
		TestingMode:          cfg.TestingMode,
	}, logger, transport.WithRecorder(prom))

	// services
	publisher := notification.NewPublisher(sseHub, store, logger)
	detach := publisher.Attach()
	defer detach()

	reconciler := session.NewReconciler(session.Config{
		RefreshInterval:    cfg.RefreshInterval,
		JoinRetryInterval:  cfg.JoinRetryInterval,
		AliveSendInterval:  cfg.AliveSendInterval,
		SyncInterval:       cfg.SyncInterval,
		ServerAliveTimeout: cfg.ServerAliveTimeout,
		Language:           cfg.Language,
		Version:            cfg.Version,
		OrgID:              cfg.OrgID,
		Filter:             cfg.EffectiveFilter(),
	}, link, store, creds, protocol.NewFactory(), logger,
		session.WithObserver(publisher),
		session.WithRecorder(prom),
	)

	// API server
	apiServer := httpapi.NewServer(reconciler, store, creds, link, sseHub, prom.Handler(), logger)

	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// background loops
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := link.Connect(); err != nil {
		log.Fatalf("connect error: %v", err)
	}
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := reconciler.Run(ctx, link.States(), link.Messages()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("session stopped")
		}
	}()

	// start server
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("server_url", cfg.ServerURL).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	sseHub.Stop()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(ctxShutdown)

	cancel()
	<-runDone
	if err := link.Close(); err != nil {
		logger.Warn().Err(err).Msg("transport close failed")
	}
}
