package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/phishsense/sendjobs/internal/api"
	"github.com/phishsense/sendjobs/internal/config"
	"github.com/phishsense/sendjobs/internal/pkg/logger"
	"github.com/phishsense/sendjobs/internal/repository/postgres"
	"github.com/phishsense/sendjobs/internal/service/sendjob"
)

func main() {
	log.Println("Starting PhishSense send API...")

	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	cancel()
	log.Println("Connected to database")

	var (
		redisClient *redis.Client
		notifier    sendjob.Notifier
	)
	if cfg.Redis.Enabled() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		notifier = sendjob.NewRedisNotifier(redisClient)
		log.Println("Redis configured: send workers are woken on enqueue")
	}

	jobs := postgres.NewSendJobRepo(db)
	targets := postgres.NewTargetRepo(db)
	projects := postgres.NewProjectRepo(db)
	svc := sendjob.NewService(jobs, targets, projects, notifier)

	origins := api.DefaultAllowedOrigins
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins = strings.Split(v, ",")
	}
	server := api.NewServer(cfg.Server, api.NewHandlers(svc), api.NewHealthChecker(db, redisClient), origins)

	go func() {
		log.Printf("Listening on %s", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done

	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
