package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alexsiroli/sagra-orders/internal/catalog"
	"github.com/alexsiroli/sagra-orders/internal/config"
	"github.com/alexsiroli/sagra-orders/internal/handlers"
	"github.com/alexsiroli/sagra-orders/internal/logging"
	"github.com/alexsiroli/sagra-orders/internal/orders"
	"github.com/alexsiroli/sagra-orders/internal/queue"
	"github.com/alexsiroli/sagra-orders/internal/sequence"
	"github.com/alexsiroli/sagra-orders/internal/stock"
	"github.com/alexsiroli/sagra-orders/internal/store"
	"github.com/alexsiroli/sagra-orders/internal/submit"
	"github.com/alexsiroli/sagra-orders/internal/syncer"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	handlers.RegisterOrdersRoutes(r, cfg)
	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogJSON)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients, err := store.NewClients(ctx)
	if err != nil {
		log.WithError(err).Fatal("failed to init aws clients")
	}
	tables := store.Tables{
		Orders:     cfg.OrdersTable,
		OrderLines: cfg.OrderLinesTable,
		Components: cfg.ComponentsTable,
		Counters:   cfg.CountersTable,
	}

	menu, err := catalog.LoadFile(cfg.MenuPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load menu")
	}

	q, err := queue.Open(cfg.QueuePath)
	if err != nil {
		log.WithError(err).Fatal("failed to open local queue")
	}
	defer q.Close()

	ledger := stock.NewLedger(clients.DynamoDB, tables.Components)
	alloc := sequence.NewAllocator(clients.DynamoDB, tables.Counters, q)

	// Best effort: the till must come up even when the store is down, and
	// an existing counters document makes Ensure a no-op anyway.
	if err := alloc.Ensure(ctx); err != nil {
		log.WithError(err).Warn("could not ensure counters document, continuing")
	}

	coord := orders.NewCoordinator(clients.DynamoDB, tables, ledger, alloc, menu)
	metrics := store.NewMetricsPublisher(clients.CloudWatch, cfg.MetricsNamespace, cfg.DeviceID)

	worker := syncer.New(q, coord, metrics, log, cfg.SyncInterval)
	worker.Start(ctx)
	defer worker.Stop()

	submitter := submit.New(coord, q, alloc, menu, ledger, log, cfg.DeviceID, cfg.MaxRetries)

	router := setupRouter(handlers.HandlerConfig{
		Submitter:   submitter,
		Coordinator: coord,
		Worker:      worker,
		Logger:      log,
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("till server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown failed")
	}
}
