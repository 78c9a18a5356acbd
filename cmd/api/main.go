package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bincheck-api/internal/application/lookup"
	"github.com/bincheck-api/internal/application/request"
	"github.com/bincheck-api/internal/application/sweep"
	"github.com/bincheck-api/internal/config"
	"github.com/bincheck-api/internal/domain"
	"github.com/bincheck-api/internal/infrastructure/binprovider"
	"github.com/bincheck-api/internal/infrastructure/dynamo"
	"github.com/bincheck-api/internal/infrastructure/events"
	jwtinfra "github.com/bincheck-api/internal/infrastructure/jwt"
	"github.com/bincheck-api/internal/infrastructure/memcache"
	s3infra "github.com/bincheck-api/internal/infrastructure/s3"
	"github.com/bincheck-api/internal/infrastructure/sns"
	"github.com/bincheck-api/internal/metrics"
	transporthttp "github.com/bincheck-api/internal/transport/http"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)

	// JWT provider (optional; lookup routes stay closed without it).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		jwtProvider = p
	} else {
		log.Printf("WARN: JWT provider not available: %v", err)
	}

	// Confirmation prompts go out through SNS (optional; submissions report delivery failure without it).
	var deliverer request.Deliverer
	if pub, err := sns.NewPromptPublisher(cfg); err == nil {
		deliverer = pub
	} else {
		log.Printf("WARN: confirmation publisher not available: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}

	known := loadKnownBINs(ctx, cfg)
	broker := events.NewBroker()
	defer broker.Close()
	requestRepo := dynamo.NewRequestRepo(dynamoClient, cfg.DynamoTables)
	sweeper := sweep.NewService(sweep.ServiceDeps{
		RequestRepo: requestRepo,
		Events:      broker,
		Interval:    cfg.SweepInterval,
		Metrics:     m,
	})

	deps := &transporthttp.Deps{
		UserRepo:     dynamo.NewUserRepo(dynamoClient, cfg.DynamoTables.Users),
		BindingRepo:  dynamo.NewBindingRepo(dynamoClient, cfg.DynamoTables.ChannelBindings),
		AccountRepo:  dynamo.NewAccountRepo(dynamoClient, cfg.DynamoTables),
		BINCacheRepo: dynamo.NewBINCacheRepo(dynamoClient, cfg.DynamoTables.BINCache),
		HistoryRepo:  dynamo.NewHistoryRepo(dynamoClient, cfg.DynamoTables.LookupHistory),
		RequestRepo:  requestRepo,
		BINProvider:  binprovider.NewClient(cfg),
		FrontCache:   memcache.NewBINs(cfg.BINFrontCacheTTL),
		Deliverer:    deliverer,
		Events:       broker,
		Sweeper:      sweeper,
		KnownBINs:    known,
		JWTProvider:  jwtProvider,
		Metrics:      m,
	}

	router := transporthttp.NewRouter(cfg, deps)

	// Both sweep triggers share one process-wide context.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); sweeper.Listen(ctx) }()
	go func() { defer wg.Done(); sweeper.Run(ctx) }()

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.AppPort),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: watch connections stay open until the request resolves.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s)", cfg.AppPort, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	broker.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
	wg.Wait()
	log.Println("Server stopped")
}

// loadKnownBINs reads the reference table from S3 when a bucket is configured,
// otherwise from the local file. A missing table is not fatal.
func loadKnownBINs(ctx context.Context, cfg *config.Config) []domain.KnownBIN {
	var (
		known []domain.KnownBIN
		err   error
	)
	if cfg.KnownBINsBucket != "" {
		store := s3infra.NewStore(s3infra.NewClient(cfg), cfg.KnownBINsBucket)
		known, err = lookup.ReadKnown(ctx, store, cfg.KnownBINsKey, "")
	} else {
		known, err = lookup.ReadKnown(ctx, nil, "", cfg.KnownBINsFile)
	}
	if err != nil {
		log.Printf("WARN: known BIN table not loaded: %v", err)
		return nil
	}
	log.Printf("Loaded %d known BINs", len(known))
	return known
}
