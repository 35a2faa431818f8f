package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/petportrait/backend/internal/cache"
	"github.com/petportrait/backend/internal/config"
	"github.com/petportrait/backend/internal/database"
	"github.com/petportrait/backend/internal/kie"
	"github.com/petportrait/backend/internal/metrics"
	"github.com/petportrait/backend/internal/repository"
	"github.com/petportrait/backend/internal/server"
	"github.com/petportrait/backend/internal/service"
	"github.com/petportrait/backend/internal/storage"
	"github.com/petportrait/backend/internal/stripe"
	"github.com/petportrait/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	m := metrics.Registry("petportrait")

	var statusCache *cache.Redis
	if cfg.RedisAddr != "" {
		statusCache = cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logr)
		if err := statusCache.Ping(ctx); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		defer statusCache.Close()
	}

	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	kieClient := kie.NewClient(kie.Config{
		APIKey:  cfg.KIEAPIKey,
		BaseURL: cfg.KIEBaseURL,
		Timeout: cfg.RequestTimeout,
	}, logr)
	stripeClient := stripe.NewClient(cfg.StripeSecretKey, cfg.RequestTimeout)

	creditRepo := repository.NewCreditRepository(db)
	jobRepo := repository.NewJobRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	ledgerService := service.NewLedgerService(creditRepo)
	materializer := service.NewMaterializer(uploader, logr, m)
	generationService := service.NewGenerationService(cfg, logr, jobRepo, ledgerService, kieClient, materializer, statusCache, m)
	paymentService := service.NewPaymentService(cfg, logr, paymentRepo, ledgerService, stripeClient, m)

	srv := server.New(cfg, logr, generationService, paymentService, uploader)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("server stopped", "err", err)
	}
}
