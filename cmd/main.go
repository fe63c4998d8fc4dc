/**
 * @description
 * This is the main entry point for the generation-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the chain RPC client, provider adapters, message broker, repositories,
 * the core application services, and the HTTP server. It wires everything together
 * and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: Loads a local .env file for development.
 * - internal/api, internal/app, internal/config, internal/provider, internal/store: Internal packages.
 * - pkg/ethrpc: JSON-RPC client for top-up verification.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/arcforge/generation-service/internal/api"
	"github.com/arcforge/generation-service/internal/app"
	"github.com/arcforge/generation-service/internal/config"
	"github.com/arcforge/generation-service/internal/provider"
	"github.com/arcforge/generation-service/internal/store"
	"github.com/arcforge/generation-service/pkg/ethrpc"
	"github.com/arcforge/generation-service/pkg/rabbitmq"
)

func main() {
	// Load a local .env file if present; real deployments set the environment.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecretKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET_KEY")
	}
	if strings.TrimSpace(cfg.TreasuryAddress) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"treasury address must be configured\" env=TREASURY_ADDRESS")
	}

	log.Printf("level=info component=bootstrap msg=\"starting generation-service\" port=%s default_provider=%s", cfg.ServerPort, cfg.DefaultProvider)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish lifecycle events. Events are
	// best-effort; an unreachable broker degrades to a no-op publisher.
	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Redis backs the per-user rate limiter. Missing Redis disables limiting
	// but never blocks startup.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer.
	repository := store.NewPostgresRepository(dbpool)
	jobStore := store.NewMemoryJobStore()

	// Build the provider registry. Adapters with missing credentials still
	// register; their requests fail at dispatch with a provider error and the
	// debit is refunded.
	providerTimeout := time.Duration(cfg.ProviderTimeoutSec) * time.Second
	registry := provider.NewRegistry(cfg.DefaultProvider,
		provider.NewMockAdapter(""),
		provider.NewReplicateAdapter(cfg.ReplicateAPIURL, cfg.ReplicateAPIToken, providerTimeout),
		provider.NewVeo3Adapter(cfg.Veo3APIURL, cfg.Veo3APIKey, providerTimeout),
		provider.NewSora2Adapter(cfg.Sora2APIURL, cfg.Sora2APIKey, providerTimeout),
		provider.NewKlingAdapter(cfg.KlingAPIURL, cfg.KlingAccessKey, cfg.KlingSecretKey, providerTimeout),
	)

	chainClient := ethrpc.NewClient(cfg.ChainRPCURL)

	// Initialize the core application services.
	brokerService := app.NewService(repository, jobStore, registry, producer)
	topupService := app.NewTopUpService(repository, chainClient, producer, cfg.TreasuryAddress, cfg.CoinsPerUSDC)
	authService := app.NewAuthService(
		repository,
		cfg.JWTSecretKey,
		time.Duration(cfg.AccessTokenTTLMin)*time.Minute,
		time.Duration(cfg.ResetTokenTTLMin)*time.Minute,
	)

	var limiter app.RateLimiter
	if redisClient != nil {
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the API handlers and router.
	handlers := api.NewGenerationHandlers(brokerService, topupService, limiter, api.RateLimits{
		GeneratePerMinute:   cfg.GenerateRateLimitPerMinute,
		TopUpClaimPerMinute: cfg.TopUpClaimRateLimitPerMinute,
	})
	authHandlers := api.NewAuthHandlers(authService)
	router := api.Routes(handlers, authHandlers, cfg.JWTSecretKey, cfg.CORSOrigins())

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
