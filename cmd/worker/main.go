package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-storefront-checkout/internal/config"
	kafkax "github.com/ariefcatur/go-storefront-checkout/internal/kafka"
	"github.com/ariefcatur/go-storefront-checkout/internal/logx"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/ariefcatur/go-storefront-checkout/internal/payments"
	"github.com/ariefcatur/go-storefront-checkout/internal/postgres"
	"github.com/ariefcatur/go-storefront-checkout/internal/redisx"
	"github.com/ariefcatur/go-storefront-checkout/internal/settlement"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, err := logx.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("service", cfg.ServiceName+"-settlement"))
	ctx = logx.WithLogger(ctx, log)

	if cfg.AWSSecretID != "" {
		sm, err := config.NewSecretsManager(ctx)
		if err != nil {
			log.Fatal("secrets manager", zap.Error(err))
		}
		if err := cfg.ApplySecrets(ctx, sm); err != nil {
			log.Fatal("apply secrets", zap.Error(err))
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := redisx.Cache{RDB: rdb}

	gateway, err := payments.NewStripeGateway(cfg.StripeSecretKey)
	if err != nil {
		log.Fatal("stripe gateway", zap.Error(err))
	}

	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024, log)
	prod.Start(ctx)

	svc := &settlement.Service{
		Orders:      &orders.Repo{DB: db},
		Payments:    &payments.Repo{DB: db, Currency: cfg.Pricing.Currency},
		Gateway:     gateway,
		Dedup:       cache,
		Status:      &orders.Service{Cache: cache},
		Events:      prod,
		ServiceName: cfg.ServiceName + "-settlement",
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.WorkerGroup, orders.TopicOrderEvents, cfg.WorkerCount, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("settlement consumer started",
			zap.String("group", cfg.WorkerGroup),
			zap.String("topic", orders.TopicOrderEvents),
			zap.Int("workers", cfg.WorkerCount),
		)
		if err := cons.Start(ctx, svc.HandleEvent); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	<-done
	prod.Close()
	prod.WaitClosed()
}
