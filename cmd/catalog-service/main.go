// Command catalog-service serves products and stock from Postgres and
// deducts stock for created orders.
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

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/catalog"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/events"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/middleware"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/stock"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/pkg/config"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.LoadConfig()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store, err := catalog.NewPostgresStore(ctx, cfg.CatalogDatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to catalog database: %v", err)
	}
	defer store.Close()

	schemaSQL, err := os.ReadFile("catalog_schema.sql")
	if err != nil {
		log.Printf("Warning: Could not read catalog_schema.sql: %v", err)
		log.Println("Assuming catalog schema already exists")
	} else if err := store.InitSchema(ctx, string(schemaSQL)); err != nil {
		log.Printf("Warning: Could not initialize catalog schema: %v", err)
		log.Println("Assuming catalog schema already exists")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	serverMetrics := catalog.NewServerMetrics(reg)

	// Stock listener
	bus := events.NewBus(cfg.KafkaBrokerList())
	defer bus.Close()
	listener := stock.NewListener(store, bus, stock.NewMetrics(reg))
	consumerDone := make(chan struct{})
	if bus.Enabled() {
		consumer := bus.NewConsumer(events.TypeOrderCreated, cfg.StockConsumerGroup, listener.Handle, events.RetryPolicy{
			MaxAttempts:    uint(cfg.ConsumerMaxAttempts),
			InitialBackoff: cfg.ConsumerInitialBackoff,
			MaxBackoff:     10 * time.Second,
			OnExhausted:    listener.OnExhausted,
		})
		go func() {
			defer close(consumerDone)
			log.Printf("Stock listener consuming %s as group %s", events.TypeOrderCreated, cfg.StockConsumerGroup)
			if err := consumer.Run(ctx); err != nil {
				log.Printf("Stock listener stopped: %v", err)
			}
		}()
	} else {
		log.Println("Warning: KAFKA_BROKERS not set, stock listener disabled")
		close(consumerDone)
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.RecoverMiddleware)
	router.Use(serverMetrics.Middleware)
	catalog.NewHandler(store).SetupRoutes(router)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})).Methods("GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := store.Ping(r.Context()); err != nil {
			log.Printf("[HEALTH] catalog database unreachable: %v", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"status":"unhealthy"}`)
			return
		}
		fmt.Fprint(w, `{"status":"healthy"}`)
	}).Methods("GET")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.CatalogPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Catalog service starting on port %s", cfg.CatalogPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down catalog service...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	<-consumerDone

	log.Println("Catalog service exited")
}
