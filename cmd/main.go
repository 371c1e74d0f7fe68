/**
 * @description
 * This is the main entry point for the donation-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, message brokers, the Redis processing guard, the cron scheduler,
 * repositories, the core application service, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, log/slog, net/http: Standard Go libraries for logging and the HTTP server.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for the processing guard.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sahyogfoundation/donation-service/internal/api"
	"github.com/sahyogfoundation/donation-service/internal/app"
	"github.com/sahyogfoundation/donation-service/internal/config"
	"github.com/sahyogfoundation/donation-service/internal/store"
	"github.com/sahyogfoundation/donation-service/pkg/notifyclient"
	dsrabbit "github.com/sahyogfoundation/donation-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting donation-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Pool sizing matches the foundation's other services; donation bursts
	// during campaign drives are the sizing case.
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer for distribution and progress events.
	// Event publication is advisory, so a missing broker degrades to the
	// no-op fallback instead of failing the boot.
	var rabbitProducer dsrabbit.Publisher
	producer, err := dsrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		rabbitProducer = &dsrabbit.EventProducerFallback{}
	} else {
		rabbitProducer = producer
		defer producer.Close()
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Parse the synthetic-root sentinel that terminates ancestor traversal.
	var syntheticRootID uuid.UUID
	if raw := strings.TrimSpace(cfg.SyntheticRootID); raw != "" {
		syntheticRootID, err = uuid.Parse(raw)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"synthetic root id parse failed\" value=%q err=%v", raw, err)
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	rates := app.CommissionRates{
		PersonalPercent:        cfg.PersonalPercent,
		VolunteerParentPercent: cfg.VolunteerParentPercent,
		AncestorLevelPercent:   cfg.AncestorLevelPercent,
	}
	donationService := app.NewService(repository, rabbitProducer, rates, cfg.MaxHierarchyDepth, syntheticRootID)

	// Optional Redis claim guard against duplicate event deliveries.
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; duplicate-delivery guard disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; duplicate-delivery guard disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; duplicate-delivery guard disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				claimTTL := time.Duration(cfg.RedisClaimTTLMinutes) * time.Minute
				donationService.SetProcessingGuard(app.NewRedisProcessingGuard(redisClient, cfg.RedisClaimPrefix, claimTTL))
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Optional notification sink for wallet-credit and target-completion notices.
	if strings.TrimSpace(cfg.NotificationServiceURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"notification service not configured; notices disabled\" env=NOTIFICATION_SERVICE_URL")
	} else {
		donationService.SetNotifier(notifyclient.NewClient(cfg.NotificationServiceURL, cfg.InternalAPIKey))
	}

	// Start the balance reconciliation scheduler.
	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	jobs := app.NewJobs(donationService, slogger)
	scheduler := app.NewScheduler(jobs, slogger, cfg.ReconcileJobSchedule)
	scheduler.Start()
	defer scheduler.Stop()

	// Wire up the donation event consumer.
	donationConsumer := donationService.DonationEventConsumer()

	rabbitConsumer, err := dsrabbit.NewConsumer(cfg.RabbitMQURL, "donation-service")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	donationBindings := map[string]func([]byte) bool{
		"donation.payment.verified": donationConsumer.HandleMessage,
	}

	if err := rabbitConsumer.ConsumeWithBindings("sahyog.events", cfg.DonationEventQueue, donationBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"donation consumer start failed\" err=%v", err)
	}

	// Set up the HTTP router and start the server.
	router := api.DonationRoutes(api.NewDonationHandlers(donationService), cfg.AdminJWKSURL, cfg.InternalAPIKey)

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
