package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"library_lending/pkg/circuitbreaker"
	"library_lending/pkg/config"
	"library_lending/pkg/database"
	"library_lending/pkg/idempotency"
	"library_lending/pkg/lending"
)

var (
	repo       *database.Repo
	service    *lending.Service
	redisStore *idempotency.RedisStore
	logger     = slog.Default()
	clock      = time.Now
)

func main() {
	if err := config.LoadEnv(); err != nil {
		logger.Error("failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger = config.NewLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	logger.Info("starting lending service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	repo = database.NewRepo(db)
	service = lending.NewService(repo, cfg.Policy, lending.WithLogger(logger), lending.WithClock(clock))

	var idem idempotency.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()

		breaker := circuitbreaker.New("redis", cfg.BreakerMaxFailures, cfg.BreakerCooldown,
			circuitbreaker.WithStateChange(func(name string, from, to circuitbreaker.State) {
				logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			}))
		redisStore = idempotency.NewRedisStore(rdb, breaker, cfg.IdempotencyTTL, cfg.IdempotencyLockTTL)
		if err := redisStore.Ping(ctx); err != nil {
			logger.Warn("redis not reachable, idempotency keys will be ignored until it is", "addr", cfg.RedisAddr, "error", err)
		}
		idem = redisStore
	} else {
		logger.Info("REDIS_ADDR not set, idempotency keys are ignored")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(cfg.CORSOrigins, idem),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("lending service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

func setupRouter(origins []string, idem idempotency.Store) *gin.Engine {
	server := gin.Default()
	server.Use(cors.New(corsConfig(origins)))
	if idem != nil {
		server.Use(idempotency.Middleware(idem, logger))
	}

	server.GET("/health", healthCheck)

	server.GET("/books", getBooks)
	server.GET("/books/available", getAvailableBooks)
	server.GET("/books/:id", getBook)
	server.POST("/books", createBook)
	server.PUT("/books/:id", updateBook)
	server.DELETE("/books/:id", deleteBook)

	server.GET("/members", getMembers)
	server.GET("/members/:id", getMember)
	server.GET("/members/:id/borrowed", getMemberBorrowed)
	server.POST("/members", createMember)
	server.PUT("/members/:id", updateMember)
	server.DELETE("/members/:id", deleteMember)

	server.GET("/transactions", getTransactions)
	server.GET("/transactions/overdue", getOverdueTransactions)
	server.GET("/transactions/:id", getTransaction)
	server.POST("/transactions/borrow", borrowBook)
	server.POST("/transactions/:id/return", returnBook)

	server.GET("/fines", getFines)
	server.GET("/fines/unpaid", getUnpaidFines)
	server.GET("/fines/member/:member_id", getMemberFines)
	server.GET("/fines/:id", getFine)
	server.POST("/fines/:id/pay", payFine)

	return server
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", idempotency.HeaderKey},
		ExposeHeaders: []string{idempotency.HeaderReplayed},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

func healthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK
	body := gin.H{"status": "ok", "database": "up", "redis": "disabled"}

	if err := repo.Ping(ctx); err != nil {
		logger.ErrorContext(ctx, "health check: database down", "error", err)
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
		body["database"] = "down"
	}
	if redisStore != nil {
		body["redis"] = "up"
		if err := redisStore.Ping(ctx); err != nil {
			// replay is best effort, the service still works without it
			body["redis"] = "down"
		}
	}
	c.JSON(status, body)
}
