package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diehardfans/raffle-api/api/routes"
	"github.com/diehardfans/raffle-api/internal/config"
	"github.com/diehardfans/raffle-api/internal/metrics"
	"github.com/diehardfans/raffle-api/internal/models"
	mongorepo "github.com/diehardfans/raffle-api/internal/repositories/mongodb"
	"github.com/diehardfans/raffle-api/internal/services"
	"github.com/diehardfans/raffle-api/pkg/events"
	"github.com/diehardfans/raffle-api/pkg/idempotency"
	"github.com/diehardfans/raffle-api/pkg/jwt"
	"github.com/diehardfans/raffle-api/pkg/logger"
	"github.com/diehardfans/raffle-api/pkg/mongodb"
	"github.com/diehardfans/raffle-api/pkg/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Setup("info", false)
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Setup(cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoClient, err := mongodb.NewClient(ctx, cfg.MongoDB.URI)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(disconnectCtx); err != nil {
			log.Error().Err(err).Msg("Error disconnecting from MongoDB")
		}
	}()
	db := mongoClient.Database(cfg.MongoDB.Database)
	if err := mongorepo.EnsureIndexes(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Failed to create MongoDB indexes")
	}

	// Repositories
	raffleRepo := mongorepo.NewRaffleRepository(db)
	ticketRepo := mongorepo.NewTicketRepository(db)
	entryRepo := mongorepo.NewRaffleEntryRepository(db)
	userRepo := mongorepo.NewUserRepository(db)
	transactionRepo := mongorepo.NewCoinTransactionRepository(db)
	settingsRepo := mongorepo.NewSystemSettingsRepository(db, models.SystemSettings{
		MaxQuantityPerPurchase: cfg.Raffle.MaxQuantityPerPurchase,
		PurchasesEnabled:       true,
	})

	// Infrastructure
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	publisher := newPublisher(cfg)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing event publisher")
		}
	}()

	images := newImageStore(ctx, cfg)

	var idemStore idempotency.Store
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable at startup, idempotency replay degrades until it recovers")
		}
		idemStore = idempotency.NewRedisStore(redisClient, cfg.Redis.IdempotencyTTL)
	} else {
		log.Info().Msg("Redis not configured, idempotency replay disabled")
	}

	// Services
	tokens := jwt.NewTokenService(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpiresIn)*time.Second)
	ledger := services.NewCoinLedger(userRepo, transactionRepo)
	raffleService := services.NewRaffleService(services.RaffleDependencies{
		Raffles:   raffleRepo,
		Tickets:   ticketRepo,
		Entries:   entryRepo,
		Settings:  settingsRepo,
		Ledger:    ledger,
		Publisher: publisher,
		Images:    images,
		Metrics:   m,
	}, services.RaffleOptions{
		RefundConcurrency: cfg.Raffle.RefundConcurrency,
		DrawAttempts:      cfg.Raffle.DrawAttempts,
		SettleWait:        cfg.Raffle.SettleWait,
		BackoutTimeout:    cfg.Raffle.BackoutTimeout,
		MaxImageBytes:     cfg.Storage.MaxImageBytes,
	})
	authService := services.NewAuthService(userRepo, ledger, tokens, cfg.Coins.SignupBonus)
	settingsService := services.NewSystemSettingsService(settingsRepo)

	if cfg.Scheduler.Enabled {
		scheduler, err := services.NewRaffleScheduler(raffleService, m, cfg.Scheduler.Interval)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create raffle scheduler")
		}
		scheduler.Start()
		defer func() {
			if err := scheduler.Shutdown(); err != nil {
				log.Error().Err(err).Msg("Error stopping raffle scheduler")
			}
		}()
	}

	router := routes.SetupRouter(routes.Dependencies{
		AllowedHosts:   cfg.Server.AllowedHosts,
		MaxUploadBytes: cfg.Storage.MaxImageBytes,
		Raffles:        raffleService,
		Ledger:         ledger,
		Auth:           authService,
		Settings:       settingsService,
		Tokens:         tokens,
		Idempotency:    idemStore,
		Metrics:        m,
		Gatherer:       registry,
		HealthCheck:    mongoClient.Ping,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		os.Exit(1)
	}
	log.Info().Msg("Server exiting")
}

func newPublisher(cfg *config.Config) events.Publisher {
	if len(cfg.Kafka.Brokers) == 0 {
		log.Info().Msg("Kafka not configured, raffle events are dropped")
		return events.NopPublisher{}
	}
	log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Publishing raffle events to Kafka")
	return events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
}

func newImageStore(ctx context.Context, cfg *config.Config) storage.ImageStore {
	store, err := storage.NewS3Store(ctx, storage.S3Options{
		Endpoint:        cfg.Storage.Endpoint,
		Region:          cfg.Storage.Region,
		Bucket:          cfg.Storage.Bucket,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		PublicBaseURL:   cfg.Storage.PublicBaseURL,
	})
	if err != nil {
		if !errors.Is(err, storage.ErrNotConfigured) {
			log.Error().Err(err).Msg("Failed to configure image storage")
		}
		log.Info().Msg("Image storage disabled")
		return storage.DisabledStore{}
	}
	return store
}
