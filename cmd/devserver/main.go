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
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"termchat/internal/db"
	"termchat/internal/logging"
	"termchat/internal/server"
)

type options struct {
	addr       string
	logLevel   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func main() {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Development backend for the termchat client",
		Long: `Serves the chat API and websocket the client talks to.

Environment:
  DB_DSN      Postgres DSN; in-memory store when unset
  JWT_SECRET  token signing secret (required)
  REDIS_ADDR  Redis address for multi-instance fan-out; local when unset`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", ":8000", "http service address")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level")
	cmd.Flags().DurationVar(&opts.accessTTL, "access-ttl", 15*time.Minute, "access token lifetime")
	cmd.Flags().DurationVar(&opts.refreshTTL, "refresh-ttl", 7*24*time.Hour, "refresh token lifetime")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func run(ctx context.Context, opts options) error {
	logger, err := logging.New(opts.logLevel, "")
	if err != nil {
		return err
	}
	defer logger.Sync()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}

	// 1. Storage
	var store server.Store
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		database, err := db.NewDatabase(ctx, dsn)
		if err != nil {
			return err
		}
		defer database.Close()
		log.Println("✅ Connected to PostgreSQL")

		if err := database.AutoMigrate(ctx); err != nil {
			return err
		}
		log.Println("✅ Database Schema Initialized")
		store = db.NewStore(database)
	} else {
		log.Println("⚠️  DB_DSN not set, using in-memory store")
		store = server.NewMemoryStore()
	}

	// 2. Fan-out
	var broker server.Broker
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer redisClient.Close()
		if _, err := redisClient.Ping(ctx).Result(); err != nil {
			return err
		}
		log.Println("✅ Connected to Redis")
		broker = server.NewRedisBroker(redisClient)
	} else {
		broker = server.NewLocalBroker()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := server.NewHub(store, broker, logger, reg)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	issuer := server.NewIssuer(jwtSecret, opts.accessTTL, opts.refreshTTL)
	handler := server.NewHandler(store, issuer, hub, 0, logger)
	router := server.NewRouter(handler, server.NewAuthMiddleware(issuer), reg, logger)

	srv := &http.Server{Addr: opts.addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Printf("🚀 Server starting on %s", opts.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	<-hubDone
	return nil
}
