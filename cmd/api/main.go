package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-retail-orders/internal/auth"
	"github.com/ariefcatur/go-retail-orders/internal/config"
	"github.com/ariefcatur/go-retail-orders/internal/firestorex"
	"github.com/ariefcatur/go-retail-orders/internal/httpx"
	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-retail-orders/internal/kafka"
	"github.com/ariefcatur/go-retail-orders/internal/logging"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/ariefcatur/go-retail-orders/internal/postgres"
	"github.com/ariefcatur/go-retail-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var db *pgxpool.Pool
	if cfg.StockBackend == config.BackendPostgres || cfg.OrderBackend == config.BackendPostgres {
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresPool)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("db migrate: %w", err)
		}
		db = pool
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	stock, closeStock, err := stockStore(ctx, cfg, db, rdb)
	if err != nil {
		return err
	}
	defer closeStock()

	var store orders.Store = orders.NewMemoryStore()
	if cfg.OrderBackend == config.BackendPostgres {
		store = &orders.Repo{DB: db}
	}

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger.Named("kafka"))
	prod.Start()

	ledger := inventory.NewLedger(stock,
		inventory.WithLogger(logger.Named("ledger")),
		inventory.WithCompensationTimeout(cfg.ReleaseTimeout),
	)
	svc, err := orders.NewService(orders.ServiceDeps{
		Orders:         store,
		Ledger:         ledger,
		Events:         prod,
		Logger:         logger.Named("orders"),
		ServiceName:    cfg.ServiceName,
		ReleaseTimeout: cfg.ReleaseTimeout,
	})
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return err
	}

	router := httpx.NewRouter(logger)
	router.Group(func(r chi.Router) {
		r.Use(httpx.Authenticate(verifier))
		(&httpx.OrdersHandler{Service: svc, Cache: redisx.NewOrderCache(rdb)}).Register(r)
		(&httpx.StockHandler{Ledger: ledger}).Register(r)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("stock_backend", cfg.StockBackend),
			zap.String("order_backend", cfg.OrderBackend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	prod.Close() // flush buffered events
	prod.WaitClosed()
	return nil
}

func stockStore(ctx context.Context, cfg config.Config, db *pgxpool.Pool, rdb *redis.Client) (inventory.Store, func(), error) {
	switch cfg.StockBackend {
	case config.BackendPostgres:
		return &inventory.StockRepo{DB: db}, func() {}, nil
	case config.BackendRedis:
		return redisx.NewStockStore(rdb, nil), func() {}, nil
	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client: %w", err)
		}
		return firestorex.NewStockStore(client, cfg.AdjustAttempts, nil), func() { _ = client.Close() }, nil
	default:
		return inventory.NewMemoryStore(), func() {}, nil
	}
}
