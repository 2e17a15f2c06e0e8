package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"pos-service/config"
	"pos-service/internal/api"
	"pos-service/internal/broker"
	"pos-service/internal/feed"
	"pos-service/internal/redisclient"
	"pos-service/internal/service"
	"pos-service/internal/store"
	"pos-service/internal/store/memory"
	"pos-service/internal/util"
	"pos-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// backend is what every store driver provides
type backend interface {
	service.Store
	feed.OrderLister
	Ping(ctx context.Context) error
	Close() error
}

// topic is one event stream: Kafka or the in-process bus
type topic struct {
	publisher broker.Publisher
	source    worker.Source
	close     func() error
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting POS service")

	tp, err := util.InitTracer(util.TracerOptions{
		ServiceName:    "pos-service",
		Environment:    cfg.Server.Env,
		JaegerEndpoint: cfg.Observ.JaegerEndpoint,
		SampleRatio:    cfg.Observ.TraceSampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()
	checks := map[string]api.Pinger{"store": db}

	var redisClient *redisclient.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			// checkouts still serialize through the intent table
			logger.Warn("Redis unavailable, running without checkout lock and replay cache", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
			checks["redis"] = redisClient
			log.Println("Redis connected")
		}
	}

	events, invoiceQueue := openTopics(cfg.Kafka)
	defer events.close()
	defer invoiceQueue.close()

	eventPublisher := broker.NewEventPublisher(events.publisher, invoiceQueue.publisher)
	taxRates := service.StaticTaxRates{
		Default: cfg.Business.DefaultTaxRate,
		ByStore: cfg.Business.StoreTaxRates,
	}

	checkoutCfg := service.DefaultCheckoutConfig()
	checkoutCfg.Timeout = time.Duration(cfg.Business.CheckoutTimeoutSeconds) * time.Second
	checkoutCfg.LedgerAttempts = cfg.Business.LedgerRetryAttempts

	sessionService := service.NewSessionService(db, eventPublisher, cfg.Business.DefaultCurrency)
	ledgerService := service.NewLedgerService(db, db)
	orderService := service.NewOrderService(db, eventPublisher, taxRates, cfg.Business.DefaultCurrency)
	statusEngine := service.NewStatusEngine(db, eventPublisher)
	voucherService := service.NewVoucherService(db, eventPublisher)
	invoiceService := service.NewInvoiceService(db, db, eventPublisher)
	orchestrator := service.NewOrchestrator(db, ledgerService, invoiceService, eventPublisher, checkoutCfg)
	if redisClient != nil {
		orchestrator.WithLocker(redisClient).WithResultCache(redisClient)
	}

	hub := feed.NewHub(db, 16)

	feedWorker := worker.NewFeedWorker(events.source, hub)
	invoiceWorker := worker.NewInvoiceWorker(invoiceQueue.source, invoiceService, db, eventPublisher,
		cfg.Business.InvoiceMaxAttempts, 2*time.Second)
	reconciler := worker.NewReconciler(db, orchestrator,
		time.Duration(cfg.Business.ReconcileIntervalSeconds)*time.Second,
		time.Duration(cfg.Business.ReconcileGraceSeconds)*time.Second)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Sessions: sessionService,
		Ledger:   ledgerService,
		Orders:   orderService,
		Status:   statusEngine,
		Vouchers: voucherService,
		Invoices: invoiceService,
		Checkout: orchestrator,
		Hub:      hub,
		TaxRates: taxRates,
	}, api.Options{
		JWTSecret:      cfg.Auth.JWTSecret,
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}, checks)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCancel(feedWorker.Start(gctx)) })
	g.Go(func() error { return ignoreCancel(invoiceWorker.Start(gctx)) })
	g.Go(func() error { return ignoreCancel(reconciler.Start(gctx)) })

	g.Go(func() error {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server forced to shutdown: %v", err)
		}
		hub.Close()
		if err := feedWorker.Stop(); err != nil {
			log.Printf("Error stopping feed worker: %v", err)
		}
		if err := invoiceWorker.Stop(); err != nil {
			log.Printf("Error stopping invoice worker: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Service stopped with error", zap.Error(err))
	}

	log.Println("Server exited")
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (backend, error) {
	switch cfg.Driver {
	case "memory":
		log.Println("Using in-memory store")
		return memory.New(), nil
	case "postgres", "":
		db, err := store.NewStore(cfg.URL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Println("Database connected")
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// openTopics wires the event stream and the invoice retry queue. Without
// Kafka both are in-process buses and events never leave this instance.
func openTopics(cfg config.KafkaConfig) (events, invoices topic) {
	if !cfg.Enabled {
		log.Println("Kafka disabled, using in-process event bus")
		eventBus := broker.NewLocalBus(1024)
		invoiceBus := broker.NewLocalBus(256)
		return topic{publisher: eventBus, source: eventBus, close: eventBus.Close},
			topic{publisher: invoiceBus, source: invoiceBus, close: invoiceBus.Close}
	}

	eventProducer := broker.NewProducer(cfg.Brokers, cfg.TopicEvents)
	invoiceProducer := broker.NewProducer(cfg.Brokers, cfg.TopicInvoices)

	// every instance refreshes its own feed subscribers, so each one reads
	// the whole event topic under a group of its own
	feedGroup := fmt.Sprintf("%s-feed-%s", cfg.ConsumerGroup, uuid.NewString()[:8])
	feedConsumer := broker.NewConsumer(cfg.Brokers, cfg.TopicEvents, feedGroup)
	invoiceConsumer := broker.NewConsumer(cfg.Brokers, cfg.TopicInvoices, cfg.ConsumerGroup)
	log.Println("Kafka producers initialized")

	return topic{publisher: eventProducer, source: feedConsumer, close: eventProducer.Close},
		topic{publisher: invoiceProducer, source: invoiceConsumer, close: invoiceProducer.Close}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
