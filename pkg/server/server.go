// Package server provides the public entry point for initializing the
// Whisker response service.
//
// This package exists in pkg/ (not internal/) so that deployment wrappers
// can import it and compose the full server with their own middleware.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/smartcathome/whisker/internal/api"
	"github.com/smartcathome/whisker/internal/api/handlers"
	"github.com/smartcathome/whisker/internal/chat"
	"github.com/smartcathome/whisker/internal/config"
	"github.com/smartcathome/whisker/internal/gateway"
	"github.com/smartcathome/whisker/internal/promax"
	"github.com/smartcathome/whisker/internal/router"
	"github.com/smartcathome/whisker/internal/stats"
	"github.com/smartcathome/whisker/internal/stream"
	"github.com/smartcathome/whisker/internal/telemetry"
	"github.com/smartcathome/whisker/internal/tools"
	"github.com/smartcathome/whisker/internal/ultra"

	"github.com/rs/zerolog/log"
)

// recentInvocations bounds the rolling window exposed on /api/v1/stats.
const recentInvocations = 50

// Server holds the initialized Whisker response service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Streams is the SSE session pool. Exposed so wrappers can drain
	// sessions before stopping the HTTP server.
	Streams *stream.Pool

	// Config is the loaded service configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all service components and returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the service with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	// Initialize telemetry
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	if !cfg.Standard.Configured() && !cfg.Pro.Configured() {
		return nil, fmt.Errorf("no model tier configured: set STANDARD_MODEL_URL or PRO_MODEL_URL")
	}

	sink := stats.NewSink(recentInvocations)
	gw := gateway.New()
	tierRouter := router.New(gw, cfg.Standard, cfg.Pro, sink)
	log.Info().
		Bool("standard", cfg.Standard.Configured()).
		Bool("pro", cfg.Pro.Configured()).
		Msg("✅ Tier router initialized")

	// No device backend in this service. Hardware and task tools answer
	// with acknowledgements until an executor is wired in.
	var executor tools.Executor = tools.StubExecutor{}

	pool := stream.NewPool(
		cfg.Stream.MaxSessions,
		cfg.Stream.HeartbeatInterval,
		cfg.Stream.SweepInterval,
		cfg.Stream.IdleTimeout,
	)
	log.Info().Int("max_sessions", cfg.Stream.MaxSessions).Msg("✅ Stream pool initialized")

	chatSvc := chat.NewService(tierRouter, executor, sink, cfg.Orchestra)
	orchestrator := ultra.New(tierRouter, executor, sink, cfg.Orchestra, cfg.Stream.TokenDelay)
	proMax := promax.NewRunner(gw, cfg.Standard, cfg.Pro, sink)
	log.Info().Msg("✅ Chat, ultra and pro-max pipelines initialized")

	h := handlers.New(cfg, chatSvc, orchestrator, proMax, pool, sink)
	apiRouter := api.NewRouter(cfg, h)

	return &Server{
		Handler:      apiRouter,
		Streams:      pool,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
