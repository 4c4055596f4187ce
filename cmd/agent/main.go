package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signpad-agent/internal/api"
	"signpad-agent/internal/config"
	"signpad-agent/internal/domain"
	"signpad-agent/internal/handler"
	"signpad-agent/internal/identity"
	"signpad-agent/internal/middleware"
	"signpad-agent/internal/notify"
	"signpad-agent/internal/service"
	"signpad-agent/internal/store"
	"signpad-agent/internal/websocket"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging.Level)

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open local store")
	}
	defer st.Close()

	if err := st.InitSchema(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to init local store schema")
	}

	identityProvider := identity.NewProvider(st, cfg.Backend.IPProbeAddr, cfg.Backend.IPProbeTimeout, logger)
	backend := api.NewClient(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout, logger)

	channel := websocket.NewChannel(cfg.Channel.URL, websocket.Options{
		HandshakeTimeout: cfg.Channel.HandshakeTimeout,
		WriteWait:        cfg.Channel.WriteWait,
		PongWait:         cfg.Channel.PongWait,
		PingPeriod:       cfg.Channel.PingPeriod,
		InvokeTimeout:    cfg.Channel.InvokeTimeout,
		MaxReconnects:    cfg.Channel.MaxReconnects,
		ReconnectBase:    cfg.Channel.ReconnectBase,
	}, logger)

	notifier := newNotifier(cfg, logger)

	tracker := service.NewTracker(
		service.ParsePolicy(cfg.Tracker.Policy),
		cfg.Tracker.HistorySize,
		st,
		notifier,
		logger,
	)
	tracker.BindChannel(channel)

	if err := tracker.LoadHistory(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("failed to load persisted request history")
	}

	submitter := service.NewSubmitter(backend, tracker, identityProvider, 2*time.Second, logger)

	orchestrator := service.NewOrchestrator(identityProvider, backend, channel, service.Options{
		AutoConnect:       true,
		AutoHeartbeat:     cfg.Heartbeat.Enabled,
		HeartbeatInterval: cfg.Heartbeat.Interval,
		RetryDelay:        2 * time.Second,
		BindTimeout:       cfg.Backend.RequestTimeout,
	}, service.Callbacks{
		OnRegistered: func(device *domain.RegisteredDevice) {
			if exp, ok := backend.TokenExpiry(); ok {
				logger.Info().
					Str("device_id", device.ID).
					Time("token_expiry", exp).
					Msg("device token issued; re-registration needed after expiry")
			}
		},
		OnReady: func() {
			logger.Info().Msg("kiosk ready for signature requests")
		},
		OnHeartbeatFailed: func(err error) {
			logger.Warn().Err(err).Msg("heartbeat reported failure")
		},
		OnDeviceOffline: func() {
			notifier.Notify("device_offline", "Kiosk no longer listed online by backend")
		},
	}, logger)

	validation := service.NewValidationClient(channel, logger)

	sessionHandler := handler.NewSessionHandler(orchestrator, identityProvider, logger)
	requestHandler := handler.NewRequestHandler(tracker)
	signatureHandler := handler.NewSignatureHandler(submitter)
	deviceHandler := handler.NewDeviceHandler(backend)
	validationHandler := handler.NewValidationHandler(validation)

	r := mux.NewRouter()
	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	r.HandleFunc("/health", healthHandler).Methods("GET")

	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(middleware.AuthMiddleware(cfg.Agent.AuthToken))

	apiRouter.HandleFunc("/session", sessionHandler.Get).Methods("GET", "OPTIONS")
	apiRouter.HandleFunc("/session/retry", sessionHandler.Retry).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/session/disconnect", sessionHandler.Disconnect).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/session/identity/reset", sessionHandler.ResetIdentity).Methods("POST", "OPTIONS")

	apiRouter.HandleFunc("/request", requestHandler.GetActive).Methods("GET", "OPTIONS")
	apiRouter.HandleFunc("/request/dismiss", requestHandler.Dismiss).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/history", requestHandler.History).Methods("GET", "OPTIONS")

	apiRouter.HandleFunc("/signature", signatureHandler.Submit).Methods("POST", "OPTIONS")

	apiRouter.HandleFunc("/devices", deviceHandler.OnlineDevices).Methods("GET", "OPTIONS")
	apiRouter.HandleFunc("/sign-review/{patronId}", deviceHandler.SignReview).Methods("GET", "OPTIONS")

	apiRouter.HandleFunc("/validate/patron", validationHandler.ValidatePatronData).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/validate/income-document", validationHandler.ValidateIncomeDocument).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/patron-status/{patronId}", validationHandler.PatronStatus).Methods("GET", "OPTIONS")

	addr := fmt.Sprintf("%s:%s", cfg.Agent.Host, cfg.Agent.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Str("env", cfg.Agent.Env).Msg("starting signpad agent")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("control api failed to start")
		}
	}()

	// Bring the session up in the background so the control API is
	// responsive even while the backend is unreachable.
	go func() {
		if _, err := orchestrator.RegisterDevice(context.Background()); err != nil {
			logger.Error().Err(err).Msg("initial registration failed; waiting for retry")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down agent")

	orchestrator.Disconnect()
	tracker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("control api forced to shutdown")
	}

	logger.Info().Msg("agent stopped gracefully")
}

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339

	return zerolog.New(os.Stdout).Level(parsed).With().Timestamp().Logger()
}

func newNotifier(cfg *config.Config, logger zerolog.Logger) notify.Notifier {
	if cfg.Notifier.Kind == "mqtt" {
		notifier, err := notify.NewMQTTNotifier(
			cfg.Notifier.BrokerURL,
			cfg.Notifier.ClientID,
			cfg.Notifier.Topic,
			cfg.Notifier.SendWait,
			logger,
		)
		if err == nil {
			return notifier
		}
		logger.Warn().Err(err).Msg("mqtt notifier unavailable; falling back to log notifier")
	}

	return notify.NewLogNotifier(logger)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"signpad-agent"}`))
}
