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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"attendance/internal/attendance"
	"attendance/internal/broadcast"
	"attendance/internal/config"
	"attendance/internal/handler"
	"attendance/internal/httpmiddleware"
	"attendance/internal/metrics"
	"attendance/internal/performance"
	"attendance/internal/session"
	"attendance/internal/store"
	"attendance/internal/timetable"
)

func main() {
	cfg := config.Load()
	log, err := cfg.Logger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	for _, w := range cfg.Warnings {
		log.Warn(w)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// The worker sweeps the same redis sessions, so redis-backed sessions lock in redis too.
	var (
		sessions session.Store  = session.NewRedisStore(redisClient.Client, "", cfg.SessionRetention)
		locker   session.Locker = session.NewRedisLocker(redisClient.Client, "", 0)
	)
	if cfg.SessionBackend == "memory" {
		sessions, locker = session.NewMemoryStore(), nil
	}
	var events broadcast.Broadcaster = broadcast.NewRedis(redisClient.Client, cfg.BroadcastChannel)
	if cfg.BroadcastBackend == "memory" {
		events = broadcast.NewInMemory(256)
	}

	engineMetrics := metrics.New(prometheus.DefaultRegisterer)
	resolver := timetable.NewResolver(timetable.NewRepository(db.Client), cfg.Location())
	recorder := attendance.NewRecorder(attendance.NewRepository(db.Client), log.Named("attendance"), engineMetrics)
	aggregator := performance.NewAggregator(recorder, performance.NewRepository(db.Client), log.Named("performance"))
	recorder.AddHook(aggregator)

	manager := session.NewManager(session.Deps{
		Store:       sessions,
		Timetables:  resolver,
		Recorder:    recorder,
		Broadcaster: events,
		Log:         log.Named("session"),
		Metrics:     engineMetrics,
		Locker:      locker,
	}, session.Config{
		PresenceThreshold:   cfg.PresenceThreshold,
		DefaultTimerSeconds: cfg.DefaultTimerSeconds,
		AuthorizedBSSIDs:    cfg.AuthorizedBSSIDs,
		StaleAfter:          cfg.StaleAfter,
		TimerTick:           time.Second,
	})
	defer manager.Close()

	hub := broadcast.NewHub(manager, log.Named("ws"))
	feed, err := events.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	go hub.Run(ctx, feed)

	h := handler.New(handler.Deps{
		Sessions:    manager,
		Timetables:  resolver,
		Recorder:    recorder,
		Performance: aggregator,
		Hub:         hub,
		Auth: handler.AuthConfig{
			Issuer:     cfg.JWTIssuer,
			SigningKey: cfg.JWTSigningKey,
			AdminKey:   cfg.AdminKey,
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
		},
		Checks: map[string]func(context.Context) bool{
			"db":    db.Healthy,
			"redis": redisClient.Healthy,
		},
		Log: log.Named("http"),
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS(cfg.CORSOrigins))
	r.Use(httpmiddleware.SecurityHeaders(cfg.IsProduction()))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	// Rate limiting keys on the authenticated principal, so it runs after the bearer check.
	h.Register(r, httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	log.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited", zap.Int("ws_clients", hub.Count()))
	return nil
}
