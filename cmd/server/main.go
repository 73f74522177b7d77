// Command server wires the credit lifecycle engine: verification,
// ledger, marketplace, the chain reconciler, and the HTTP surface.
// Business logic lives in the internal services; main only assembles
// dependencies and supervises their lifecycles.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"h2ledger/internal/events"
	"h2ledger/internal/ledger"
	ledgerstore "h2ledger/internal/ledger/store"
	"h2ledger/internal/marketplace"
	marketmetrics "h2ledger/internal/marketplace/metrics"
	marketstore "h2ledger/internal/marketplace/store"
	mirrorstore "h2ledger/internal/mirror/store"
	"h2ledger/internal/platform/config"
	"h2ledger/internal/platform/httpserver"
	"h2ledger/internal/platform/kafka/consumer"
	"h2ledger/internal/platform/kafka/producer"
	"h2ledger/internal/platform/logger"
	platformmetrics "h2ledger/internal/platform/metrics"
	"h2ledger/internal/platform/postgres"
	"h2ledger/internal/platform/ratelimit"
	platformredis "h2ledger/internal/platform/redis"
	"h2ledger/internal/reconciler"
	reconcilermetrics "h2ledger/internal/reconciler/metrics"
	"h2ledger/internal/token"
	httptransport "h2ledger/internal/transport/http"
	"h2ledger/internal/verification"
	verifmetrics "h2ledger/internal/verification/metrics"
	verifstore "h2ledger/internal/verification/store"
	"h2ledger/pkg/platform/tx"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	// Durable stores when a database is configured, in-memory otherwise.
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var (
		ledgerStore ledger.Store
		verifStore  verification.Store
		marketStore marketplace.Store
		mirrorStore mirrorstore.Store
		runner      tx.Runner = tx.NopRunner{}
	)
	if db != nil {
		ledgerStore = ledgerstore.NewPostgres(db)
		verifStore = verifstore.NewPostgres(db)
		marketStore = marketstore.NewPostgres(db)
		mirrorStore = mirrorstore.NewPostgres(db)
		runner = &tx.SQLRunner{DB: db}
	} else {
		log.Warn("no database configured, using in-memory stores")
		ledgerStore = ledgerstore.NewMemory()
		verifStore = verifstore.NewMemory()
		marketStore = marketstore.NewMemory()
		mirrorStore = mirrorstore.NewMemory()
	}

	// Outbound domain events: kafka when brokers are configured.
	var publisher events.Publisher = events.NewMemoryPublisher()
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer, err := producer.New(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, cfg.Kafka.Partitions)
		if err != nil {
			return err
		}
		defer kafkaProducer.Close()
		publisher = events.NewKafkaPublisher(kafkaProducer, log)
	}
	sink := events.NewSink(publisher)

	ledgerSvc, err := ledger.New(ledgerStore,
		ledger.WithLogger(log),
		ledger.WithEventSink(sink))
	if err != nil {
		return err
	}
	verifSvc, err := verification.New(verifStore, ledgerSvc,
		verification.WithLogger(log),
		verification.WithEventSink(sink),
		verification.WithMetrics(verifmetrics.New()),
		verification.WithTxRunner(runner),
		verification.WithWindows(verification.DefaultRetentionWindow, cfg.VerificationWindow))
	if err != nil {
		return err
	}
	marketSvc, err := marketplace.New(marketStore, ledgerSvc,
		marketplace.WithLogger(log),
		marketplace.WithEventSink(sink),
		marketplace.WithMetrics(marketmetrics.New()),
		marketplace.WithFeeBps(cfg.FeeBps))
	if err != nil {
		return err
	}

	tokens := token.NewService(cfg.JWTSigningKey, "h2ledger")

	var limiter ratelimit.Limiter
	if cfg.RateLimit > 0 {
		if redisClient != nil {
			limiter = ratelimit.NewRedis(redisClient.Client, cfg.RateLimit, cfg.RateWindow)
		} else {
			limiter = ratelimit.NewMemory(cfg.RateLimit, cfg.RateWindow)
		}
	}

	health := []httptransport.HealthChecker{}
	if db != nil {
		health = append(health, db.PingContext)
	}
	if redisClient != nil {
		health = append(health, redisClient.Health)
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Verification: verifSvc,
		Producers:    ledgerSvc,
		Ledger:       ledgerSvc,
		Marketplace:  marketSvc,
		Mirror:       mirrorStore,
		Validator:    token.NewMiddlewareAdapter(tokens),
		Limiter:      limiter,
		Logger:       log,
		Metrics:      platformmetrics.New(),
		Health:       health,
	})
	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting h2ledger", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Expiry sweep: pending submissions past the verification window.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				swept, err := verifSvc.SweepExpired(ctx, time.Now().UTC())
				if err != nil {
					log.WarnContext(ctx, "expiry sweep failed", "error", err)
				} else if len(swept) > 0 {
					log.InfoContext(ctx, "expiry sweep rejected submissions", "count", len(swept))
				}
			}
		}
	})

	// Chain reconciliation runs only when the chain stream is configured.
	if len(cfg.Kafka.Brokers) > 0 && cfg.Chain.SnapshotURL != "" {
		chainConsumer, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.ChainGroup, cfg.Kafka.ChainTopic, log)
		if err != nil {
			return err
		}
		defer chainConsumer.Close()

		source := reconciler.NewKafkaSource(chainConsumer,
			reconciler.HTTPSnapshot(cfg.Chain.SnapshotURL, nil))

		opts := []reconciler.Option{
			reconciler.WithLogger(log),
			reconciler.WithMetrics(reconcilermetrics.New()),
			reconciler.WithResyncInterval(cfg.ResyncInterval),
		}
		if redisClient != nil {
			opts = append(opts, reconciler.WithDedupeCache(redisClient.Client))
		}
		reconcilerSvc, err := reconciler.New(mirrorStore, source, opts...)
		if err != nil {
			return err
		}
		g.Go(func() error { return reconcilerSvc.Run(ctx) })
	} else {
		log.Warn("chain stream not configured, mirror will not reconcile")
	}

	return g.Wait()
}
