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

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/api"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/cart"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/catalog"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/checkout"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/db"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/discount"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/events"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/metrics"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/notify"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/order"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/outbox"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/users"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/pkg/config"
	"github.com/gorilla/mux"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize OpenTelemetry metrics
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	appMetrics, meterProvider, err := metrics.InitMetrics(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down meter provider: %v", err)
		}
	}()

	// Initialize database
	database, err := db.NewDB(cfg.GetDSN(), cfg.OTELServiceName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Initialize schema
	schemaSQL, err := os.ReadFile("schema.sql")
	if err != nil {
		log.Printf("Warning: Could not read schema.sql: %v", err)
		log.Println("Assuming database schema already exists")
	} else if err := database.InitSchema(ctx, string(schemaSQL)); err != nil {
		log.Printf("Warning: Could not initialize schema: %v", err)
		log.Println("Assuming database schema already exists")
	}

	// Event bus
	bus := events.NewBus(cfg.KafkaBrokerList())
	defer bus.Close()
	if !bus.Enabled() {
		log.Println("Warning: KAFKA_BROKERS not set, events stay in the outbox")
	}

	// Initialize stores and services
	outboxStore := outbox.NewStore(database, appMetrics)
	catalogClient := catalog.NewClient(cfg.CatalogServiceURL, cfg.CatalogTimeout)
	discountEngine := discount.NewEngine(discount.NewMySQLStore(database, appMetrics), appMetrics)
	userService := users.NewUserService(database, appMetrics)
	cartService := cart.NewCartService(cart.NewMySQLStore(database, appMetrics), catalogClient, discountEngine, appMetrics)
	checkoutService := checkout.NewService(checkout.Deps{
		Carts:           cartService,
		Catalog:         catalogClient,
		Orders:          order.NewMySQLStore(database, outboxStore, appMetrics),
		Discounts:       discountEngine,
		Users:           userService,
		Notifier:        notify.NewEnqueuer(bus),
		Publisher:       bus,
		Outbox:          outboxStore,
		Metrics:         appMetrics,
		DefaultCurrency: cfg.DefaultCurrency,
	})

	// Background workers
	if bus.Enabled() {
		go outbox.NewRelay(outboxStore, bus, appMetrics, cfg.OutboxRelayInterval).Run(ctx)
	}
	go cartService.MonitorActiveCarts(ctx, 30*time.Second)

	// Initialize app
	app := api.NewApp(appMetrics, cartService, checkoutService, discountEngine, userService, database.PingContext)

	// Setup router
	router := mux.NewRouter()
	app.SetupRoutes(router)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Storefront starting on port %s", cfg.AppPort)
		log.Printf("Catalog service: %s", cfg.CatalogServiceURL)
		log.Printf("OTLP endpoint: %s", cfg.OTELExporterOTLPEndpoint)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
