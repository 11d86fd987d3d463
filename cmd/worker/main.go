package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"attendance/internal/attendance"
	"attendance/internal/broadcast"
	"attendance/internal/config"
	"attendance/internal/metrics"
	"attendance/internal/performance"
	"attendance/internal/session"
	"attendance/internal/store"
	"attendance/internal/timetable"
)

const jobTimeout = 4 * time.Minute

// Worker runs scheduled maintenance: performance rebuilds and the stale-session sweep.
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis config invalid", zap.Error(err))
	}
	defer redisClient.Close()
	if cfg.SessionBackend == "memory" {
		// The sweep needs the sessions the api process holds; a private memory store would be empty.
		log.Warn("SESSION_BACKEND=memory, sweeping the redis store anyway")
	}

	engineMetrics := metrics.New(nil)
	recorder := attendance.NewRecorder(attendance.NewRepository(db.Client), log.Named("attendance"), engineMetrics)
	aggregator := performance.NewAggregator(recorder, performance.NewRepository(db.Client), log.Named("performance"))
	recorder.AddHook(aggregator)

	// Api instances subscribe to the same channel, so sweep-driven updates reach their websocket clients.
	manager := session.NewManager(session.Deps{
		Store:       session.NewRedisStore(redisClient.Client, "", cfg.SessionRetention),
		Timetables:  timetable.NewResolver(timetable.NewRepository(db.Client), cfg.Location()),
		Recorder:    recorder,
		Broadcaster: broadcast.NewRedis(redisClient.Client, cfg.BroadcastChannel),
		Log:         log.Named("session"),
		Metrics:     engineMetrics,
		Locker:      session.NewRedisLocker(redisClient.Client, "", 0),
	}, session.Config{
		PresenceThreshold:   cfg.PresenceThreshold,
		DefaultTimerSeconds: cfg.DefaultTimerSeconds,
		AuthorizedBSSIDs:    cfg.AuthorizedBSSIDs,
		StaleAfter:          cfg.StaleAfter,
	})
	defer manager.Close()

	c := cron.New(
		cron.WithLocation(cfg.Location()),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) (int, error)
	}{
		{"performance-rebuild", cfg.RebuildCron, aggregator.RebuildAll},
		{"session-sweep", cfg.SweepCron, manager.Sweep},
	}
	for _, j := range jobs {
		if _, err := c.AddFunc(j.schedule, func() { runJob(ctx, log, j.name, j.run) }); err != nil {
			log.Fatal("add cron job failed", zap.String("job", j.name), zap.String("schedule", j.schedule), zap.Error(err))
		}
		log.Info("job scheduled", zap.String("job", j.name), zap.String("schedule", j.schedule))
	}

	c.Start()
	log.Info("worker started")
	<-ctx.Done()

	log.Info("shutdown signal received, waiting for running jobs")
	<-c.Stop().Done()
	log.Info("worker stopped")
}

func runJob(parent context.Context, log *zap.Logger, name string, run func(context.Context) (int, error)) {
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()
	start := time.Now()
	n, err := run(ctx)
	if err != nil {
		log.Error("job failed", zap.String("job", name), zap.Int("processed", n), zap.Error(err))
		return
	}
	log.Info("job finished", zap.String("job", name), zap.Int("processed", n), zap.Duration("took", time.Since(start)))
}
