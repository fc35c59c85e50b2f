package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/firestore"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-retail-orders/internal/auditor"
	"github.com/ariefcatur/go-retail-orders/internal/config"
	"github.com/ariefcatur/go-retail-orders/internal/firestorex"
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

	logger, err := logging.New(cfg.LogLevel, cfg.ServiceName+"-auditor")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("auditor exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the auditor only makes sense against shared storage
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresPool)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	var stock inventory.Store = &inventory.StockRepo{DB: db}
	switch cfg.StockBackend {
	case config.BackendRedis:
		stock = redisx.NewStockStore(rdb, nil)
	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return fmt.Errorf("firestore client: %w", err)
		}
		defer client.Close()
		stock = firestorex.NewStockStore(client, cfg.AdjustAttempts, nil)
	}
	ledger := inventory.NewLedger(stock,
		inventory.WithLogger(logger.Named("ledger")),
		inventory.WithCompensationTimeout(cfg.ReleaseTimeout),
	)

	svc, err := orders.NewService(orders.ServiceDeps{
		Orders:         &orders.Repo{DB: db},
		Ledger:         ledger,
		Logger:         logger.Named("orders"),
		ServiceName:    cfg.ServiceName + "-auditor",
		ReleaseTimeout: cfg.ReleaseTimeout,
	})
	if err != nil {
		return err
	}

	aud := &auditor.Service{
		Orders:      svc,
		Dedup:       redisx.NewDedup(rdb),
		Logger:      logger.Named("auditor"),
		ServiceName: "restock-auditor",
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.AuditorGroup, orders.TopicRestockFailed, cfg.AuditorWorkers, logger.Named("consumer"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("restock auditor started",
			zap.String("group", cfg.AuditorGroup),
			zap.String("topic", orders.TopicRestockFailed),
			zap.Int("workers", cfg.AuditorWorkers),
		)
		return cons.Start(gctx, aud.HandleRestockFailed)
	})
	return g.Wait()
}
