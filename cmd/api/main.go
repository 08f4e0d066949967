package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-storefront-checkout/internal/auth"
	"github.com/ariefcatur/go-storefront-checkout/internal/cart"
	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/ariefcatur/go-storefront-checkout/internal/config"
	"github.com/ariefcatur/go-storefront-checkout/internal/httpx"
	kafkax "github.com/ariefcatur/go-storefront-checkout/internal/kafka"
	"github.com/ariefcatur/go-storefront-checkout/internal/ledger"
	"github.com/ariefcatur/go-storefront-checkout/internal/logx"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/ariefcatur/go-storefront-checkout/internal/payments"
	"github.com/ariefcatur/go-storefront-checkout/internal/postgres"
	"github.com/ariefcatur/go-storefront-checkout/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
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
	if err := cfg.ValidateAPI(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	if cfg.MigrateOnStart {
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := redisx.Cache{RDB: rdb}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024, log)
	prod.Start(ctx)

	gateway, err := payments.NewStripeGateway(cfg.StripeSecretKey)
	if err != nil {
		log.Fatal("stripe gateway", zap.Error(err))
	}
	tokens, err := auth.NewTokenMaker(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		log.Fatal("token maker", zap.Error(err))
	}

	products := &catalog.Repo{DB: db}
	orderRepo := &orders.Repo{DB: db}
	orderSvc := &orders.Service{
		Store:    orderRepo,
		Catalog:  products,
		Cache:    cache,
		Events:   prod,
		Pricing:  cfg.Pricing,
		Producer: cfg.ServiceName,
	}

	router := httpx.NewRouter(log)
	httpx.Mount(router, &auth.Authenticator{Tokens: tokens, Header: cfg.AuthHeader}, httpx.Handlers{
		Auth: &httpx.AuthHandler{
			Auth:    &auth.Service{Users: &auth.UserRepo{DB: db}, Tokens: tokens, EncryptionKey: cfg.EncryptionKey},
			Limiter: httpx.NewIPLimiter(rate.Every(time.Minute/20), 10, 10*time.Minute),
		},
		Catalog: &httpx.CatalogHandler{Catalog: products},
		Cart:    &httpx.CartHandler{Cart: &cart.Service{Store: &cart.Repo{DB: db}, Catalog: products}},
		Orders:  &httpx.OrdersHandler{Orders: orderSvc},
		Payments: &httpx.PaymentsHandler{
			Payments: &payments.Service{Orders: orderRepo, Gateway: gateway, Currency: cfg.Pricing.Currency},
			Webhooks: &payments.Reconciler{
				Store:    &payments.Repo{DB: db, Currency: cfg.Pricing.Currency},
				Dedup:    cache,
				Status:   orderSvc,
				Events:   prod,
				Secret:   cfg.StripeWebhookSecret,
				Producer: cfg.ServiceName,
			},
		},
		Ledger: &httpx.LedgerHandler{Ledger: &ledger.Repo{DB: db}},
	})

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close inbox, flush writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
