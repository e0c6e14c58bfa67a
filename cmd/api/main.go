package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/memberhq/billing/broker"
	"github.com/memberhq/billing/checkout"
	"github.com/memberhq/billing/db"
	"github.com/memberhq/billing/external"
	"github.com/memberhq/billing/plan"
	"github.com/memberhq/billing/subscriber"
	"github.com/memberhq/billing/subscription"
	"github.com/memberhq/billing/webhook"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var dotFile string
	var err error

	// Determine running environment and initialize structural logger
	env := os.Getenv("API_ENV")
	if "production" == env {
		dotFile = ".env.production"
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))
	defer logger.Sync()

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: env,
		Debug:       "production" != env,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "api",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot initialize zap core for sentry",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	stripeClient := external.NewStripeClient(os.Getenv("STRIPE_KEY"))

	dbInstance, err := db.New(logger, os.Getenv("POSTGRES_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer rdb.Close()

	amqpBroker, err := broker.NewAMQPBroker(os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Message Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

	resolver, err := plan.NewResolverFromFile(os.Getenv("PRICE_TABLE_JSON"))
	if err != nil {
		logger.Fatal("Cannot load price table",
			zap.Error(err),
		)
	}

	subscriberManager, err := subscriber.NewManager(logger, dbInstance)
	if err != nil {
		logger.Fatal("Cannot initialize SubscriberManager",
			zap.Error(err),
		)
	}

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		DB:     dbInstance,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	verifier, err := webhook.NewVerifier(os.Getenv("STRIPE_WEBHOOK_SECRET"))
	if err != nil {
		logger.Fatal("Cannot initialize webhook Verifier",
			zap.Error(err),
		)
	}

	engine, err := webhook.NewEngine(webhook.EngineOptions{
		Billing:   external.NewStripeBilling(stripeClient),
		Directory: subscriberManager,
		Store:     subscriptionManager,
		Resolver:  resolver,
		Producer:  amqpBroker,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize ReconciliationEngine",
			zap.Error(err),
		)
	}

	webhookRouter, err := webhook.NewService(webhook.ServiceOptions{
		Verifier:  verifier,
		Processor: engine,
		Deduper:   webhook.NewRedisDeduper(logger, rdb, time.Hour*24),
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Webhook Service Router",
			zap.Error(err),
		)
	}

	checkoutRouter, err := checkout.NewService(checkout.ServiceOptions{
		StripeClient:   stripeClient,
		AllowedOrigins: []string{os.Getenv("SITE_URL")},
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Checkout Service Router",
			zap.Error(err),
		)
	}

	subscriptionRouter, err := subscription.NewService(subscription.ServiceOptions{
		SubscriptionManager: subscriptionManager,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Subscription Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()

	rootRouter.Mount("/webhook", webhookRouter.Router())
	rootRouter.Mount("/checkout", checkoutRouter.Router())
	rootRouter.Mount("/subscriptions", subscriptionRouter.Router())

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok")
	})

	srv := &http.Server{
		Handler: rootRouter,
		Addr:    ":42069",
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Cannot start API server",
				zap.Error(err),
			)
		}
	}()

	logger.Info("API server started")

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*15)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Cannot gracefully shutdown API server",
			zap.Error(err),
		)
	}
}
