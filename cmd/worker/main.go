package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/phishsense/sendjobs/internal/config"
	"github.com/phishsense/sendjobs/internal/pkg/distlock"
	"github.com/phishsense/sendjobs/internal/pkg/logger"
	"github.com/phishsense/sendjobs/internal/repository/postgres"
	"github.com/phishsense/sendjobs/internal/worker"
)

func main() {
	log.Println("Starting PhishSense send worker...")

	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))

	if err := cfg.SMTP.Validate(); err != nil {
		log.Fatalf("SMTP misconfigured: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	pingCancel()
	log.Println("Connected to database")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		log.Println("Redis configured: wake-ups and recovery lock enabled")
	} else {
		log.Println("Redis not configured: polling only, recovery lock on Postgres")
	}

	jobs := postgres.NewSendJobRepo(db)
	targets := postgres.NewTargetRepo(db)
	projects := postgres.NewProjectRepo(db)

	metrics := worker.NewMetrics(prometheus.DefaultRegisterer)
	metricsSrv := &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server error: %v", err)
		}
	}()
	log.Printf("Metrics listening on %s", cfg.Worker.MetricsAddr)

	dispatcher := worker.NewDispatcher(jobs, targets, projects, worker.NewSMTPDialer(cfg.SMTP), worker.DispatcherConfig{
		FromName:    cfg.Mail.FromName,
		FromEmail:   cfg.Mail.FromEmail,
		BaseURL:     cfg.Mail.AppBaseURL,
		MaxAttempts: cfg.Worker.MaxAttempts,
		Pacer:       worker.NewPacer(cfg.Worker.DelayMin(), cfg.Worker.DelayMax()),
		Metrics:     metrics,
	})

	var wake <-chan struct{}
	if redisClient != nil {
		wake, err = worker.NewWakeListener(redisClient).Listen(ctx)
		if err != nil {
			log.Printf("Wake-up subscription failed, polling only: %v", err)
			wake = nil
		}
	}

	recovery := worker.NewQueueRecoveryWorker(jobs,
		distlock.NewLock(redisClient, db, "send-jobs:recovery", 30*time.Second),
		cfg.Worker.RecoveryInterval(), cfg.Worker.Lease(), cfg.Worker.MaxAttempts, metrics)
	sendWorker := worker.NewSendWorker(jobs, dispatcher, cfg.Worker.PollInterval(), wake)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		recovery.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		sendWorker.Run(ctx)
	}()
	log.Println("Send worker running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down send worker...")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Metrics server shutdown: %v", err)
	}
	log.Println("Send worker stopped")
}
