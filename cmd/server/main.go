// Calldesk - call session and live widget server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/calldesk/internal/api"
	"github.com/ashureev/calldesk/internal/call"
	"github.com/ashureev/calldesk/internal/config"
	"github.com/ashureev/calldesk/internal/health"
	"github.com/ashureev/calldesk/internal/layout"
	"github.com/ashureev/calldesk/internal/media"
	"github.com/ashureev/calldesk/internal/metrics"
	"github.com/ashureev/calldesk/internal/middleware"
	"github.com/ashureev/calldesk/internal/store"
	"github.com/ashureev/calldesk/internal/surface"
	"github.com/ashureev/calldesk/internal/telephony"
	"github.com/ashureev/calldesk/internal/token"
	"github.com/ashureev/calldesk/internal/visualizer"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	m := metrics.New()

	// Call state and telephony.
	orch := call.New(call.WithCorner(layout.BottomRight), call.WithLogger(logger))

	monitor := media.NewMonitor(cfg.Call.CaptureRetryDelays, logger)
	monitor.SetRecorder(m)

	device := telephony.NewWSDevice(cfg.FrontendURL, cfg.IsDevelopment(), logger)
	bridge := telephony.NewBridge(orch, telephony.NewHTTPTokenSource(cfg.TokenURL), device.Factory(), monitor, telephony.Config{
		RecordingStartDelay: cfg.Call.RecordingStartDelay,
		RegisterTimeout:     cfg.Call.DeviceRegisterTimeout,
	}, logger)
	bridge.SetRecorder(m)

	history := call.NewHistory(repo, logger)
	detachHistory := history.Attach(orch)

	// Live widget.
	viz := visualizer.New(visualizer.WithFPS(cfg.Call.VisualizerFPS), visualizer.WithLogger(logger))
	drag := layout.NewDraggable(layout.BottomRight, layout.Viewport{
		Width:  cfg.Viewport.Width,
		Height: cfg.Viewport.Height,
	})
	hub := surface.NewHub(surface.Config{
		Orchestrator:  orch,
		Dialer:        bridge,
		Monitor:       monitor,
		Visualizer:    viz,
		Draggable:     drag,
		Recorder:      m,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		Logger:        logger,
	})

	grpcHealth := health.New(logger)
	bridge.OnReadyChange(func(ready bool) {
		grpcHealth.SetDeviceReady(ready)
		hub.DeviceChanged()
	})

	// Initialize handlers.
	contactHandler := api.NewContactHandler(repo, logger)
	orch.RegisterNotesCallback(contactHandler.PersistNotes)

	var issuer api.TokenIssuer
	if cfg.Voice.Enabled() {
		iss, err := token.NewIssuer(token.Config{
			AccountSID: cfg.Voice.AccountSID,
			APIKey:     cfg.Voice.APIKey,
			APISecret:  cfg.Voice.APISecret,
			AppSID:     cfg.Voice.AppSID,
			TTL:        cfg.Voice.TTL,
		})
		if err != nil {
			slog.Error("Failed to initialize voice token issuer", "error", err)
			os.Exit(1)
		}
		issuer = iss
	} else {
		slog.Warn("Voice credentials not set, /voice-token disabled")
	}

	healthHandler := api.NewHealthHandler(repo, func() bool { return bridge.Status().Initialized })
	sessionHandler := api.NewSessionHandler(orch, bridge, logger)
	callsHandler := api.NewCallsHandler(repo, logger)
	tokenHandler := api.NewTokenHandler(issuer, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	healthHandler.RegisterHealth(r)
	tokenHandler.RegisterRoutes(r)
	sessionHandler.RegisterRoutes(r)
	contactHandler.RegisterRoutes(r)
	callsHandler.RegisterRoutes(r)
	r.Handle("/metrics", m.Handler())

	// WebSocket endpoints.
	r.Get("/ws/surface", hub.ServeHTTP)
	r.Get("/ws/device", device.ServeHTTP)

	// WriteTimeout stays 0 so the websocket streams are never cut.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bind before initializing the device: its token comes from this listener.
	lis, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		slog.Error("Failed to listen", "addr", srv.Addr, "error", err)
		os.Exit(1)
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	if cfg.GRPCAddr != "" {
		go func() {
			if err := grpcHealth.Serve(ctx, cfg.GRPCAddr); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	go func() {
		if err := bridge.Start(ctx); err != nil {
			if ctx.Err() == nil {
				slog.Warn("Voice device not registered yet, dialing disabled until it does", "error", err)
			}
			return
		}
		slog.Info("Voice device initialized")
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	bridge.Close()
	hub.Close()
	viz.Close()
	detachHistory()
	history.Close()
	grpcHealth.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
