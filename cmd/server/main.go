package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	httpapi "github.com/agri-market/agri-market/internal/api/http"
	appNegotiation "github.com/agri-market/agri-market/internal/application/negotiation"
	appOrder "github.com/agri-market/agri-market/internal/application/order"
	"github.com/agri-market/agri-market/internal/config"
	"github.com/agri-market/agri-market/internal/domain/negotiation"
	"github.com/agri-market/agri-market/internal/domain/order"
	"github.com/agri-market/agri-market/internal/domain/product"
	"github.com/agri-market/agri-market/internal/infrastructure/connect"
	"github.com/agri-market/agri-market/internal/infrastructure/memory"
	"github.com/agri-market/agri-market/internal/infrastructure/mongodb"
	"github.com/agri-market/agri-market/internal/infrastructure/postgres"
	"github.com/agri-market/agri-market/internal/infrastructure/realtime"
	"github.com/agri-market/agri-market/internal/metrics"
)

type stores struct {
	negotiations negotiation.Repository
	products     product.Repository
	orders       order.Repository
	close        func()
}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer st.close()

	// metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// services
	hub := realtime.NewHub(m, logger)
	negotiationSvc := appNegotiation.NewService(st.negotiations, st.products, hub, m, cfg.StoreTimeout, logger)
	orderSvc := appOrder.NewService(st.orders, st.products, negotiationSvc, cfg.StoreTimeout, logger)

	// API server
	apiServer := httpapi.NewServer(negotiationSvc, orderSvc, hub, httpapi.Options{
		RequestTimeout: cfg.RequestTimeout,
		SendBuffer:     cfg.SendBuffer,
		AllowedOrigins: cfg.AllowedOrigins,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoints hold the connection open
		IdleTimeout:  60 * time.Second,
	}

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Str("store", cfg.StoreBackend).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Stop()
	_ = httpServer.Shutdown(ctxShutdown)
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		return &stores{
			negotiations: memory.NewNegotiationRepository(),
			products:     memory.NewProductRepository(),
			orders:       memory.NewOrderRepository(),
			close:        func() {},
		}, nil

	case config.BackendMongo:
		client, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.DBConnectAttempts, connect.DefaultBackoff(), logger)
		if err != nil {
			return nil, err
		}
		db := client.Database(cfg.MongoDatabase)
		if err := mongodb.EnsureIndexes(ctx, db); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		return &stores{
			negotiations: mongodb.NewNegotiationRepository(db),
			products:     mongodb.NewProductRepository(db),
			orders:       mongodb.NewOrderRepository(db),
			close: func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = client.Disconnect(ctx)
			},
		}, nil
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DBConnectAttempts, connect.DefaultBackoff(), logger)
	if err != nil {
		return nil, err
	}
	if err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
		pool.Close()
		return nil, err
	}
	return &stores{
		negotiations: postgres.NewNegotiationRepository(pool),
		products:     postgres.NewProductRepository(pool),
		orders:       postgres.NewOrderRepository(pool),
		close:        pool.Close,
	}, nil
}
