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

	"flight_booking/internal/auth"
	"flight_booking/internal/booking"
	"flight_booking/internal/cache"
	"flight_booking/internal/config"
	"flight_booking/internal/currency"
	"flight_booking/internal/dedup"
	"flight_booking/internal/expiry"
	"flight_booking/internal/handlers"
	"flight_booking/internal/kafka"
	"flight_booking/internal/logger"
	"flight_booking/internal/metrics"
	"flight_booking/internal/ranking"
	"flight_booking/internal/repository"
	"flight_booking/internal/service"
	"flight_booking/internal/supplier"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// ---------- config ----------
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	err := run(ctx, stop, cfg, log)
	stop()
	if err != nil {
		log.Error("server exited", "error", err)
	}
	_ = log.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run wires the service and serves until ctx is cancelled. Deferred
// cleanup runs before it returns.
func run(ctx context.Context, stop context.CancelFunc, cfg *config.Config, log logger.Logger) error {
	metrics.Register()

	if cfg.UsesDevJWTSecret() {
		log.Warn("JWT_SECRET not set, using the development secret; tokens can be forged")
	}

	// ---------- record store ----------
	var store cache.Cache
	if cfg.RedisAddr != "" {
		rc := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rc.Ping(ctx); err != nil {
			_ = rc.Close()
			return fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		cache.StartRedisSizeCollector(ctx, rc.RawClient(), 30*time.Second, log)
		store = rc
	} else {
		mc := cache.NewMemoryCache()
		cache.StartMemorySweeper(ctx, mc, time.Minute, log)
		store = mc
		log.Warn("REDIS_ADDR not set, using in-memory record store")
	}
	defer func() { _ = store.Close() }()

	records := repository.NewRecordStore(store, cfg.RecordRetention, log)

	// ---------- supplier ----------
	sup, err := supplier.LoadFixture(cfg.SupplierFixtures)
	if err != nil {
		return fmt.Errorf("supplier fixture %s: %w", cfg.SupplierFixtures, err)
	}

	// ---------- domain ----------
	tracker := expiry.NewTracker(expiry.Policy{
		StaleAfter:    cfg.StaleAfter,
		NearExpiry:    cfg.NearExpiry,
		BookingBuffer: cfg.BookingBuffer,
	})
	rates := currency.NewRatesCache(sup, cfg.RatesTTL, log)
	ranker := ranking.NewRanker(tracker, rates, ranking.Weights{
		Price:    cfg.BestWeightPrice,
		Duration: cfg.BestWeightDuration,
		Stops:    cfg.BestWeightStops,
	}, log)

	sessions := dedup.NewRegistry(24 * time.Hour)
	go sweepSessions(ctx, sessions, 10*time.Minute, log)

	searches := service.NewSearchService(sup, records, tracker, ranker, rates, sessions, log)

	var wizardOpts []booking.Option

	// ---------- booking journal (optional) ----------
	if cfg.DBDSN != "" {
		pool, err := repository.NewPool(ctx, repository.PoolConfig{
			DSN:      cfg.DBDSN,
			MaxConns: int32(cfg.DBMaxConns),
		})
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer pool.Close()
		metrics.StartDBCollectors(ctx, pool, 10*time.Second, log)

		outboxRepo := repository.NewOutboxRepository(pool, cfg.OutboxMaxRetries)
		journal := repository.NewBookingRepository(pool, outboxRepo, cfg.KafkaTopic)
		wizardOpts = append(wizardOpts, booking.WithRecorder(journal))

		if len(cfg.KafkaBrokers) > 0 {
			producer, err := kafka.NewSyncProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
			if err != nil {
				return fmt.Errorf("kafka producer: %w", err)
			}
			defer func() { _ = producer.Close() }()

			sender := service.NewOutboxSender(
				outboxRepo,
				producer,
				cfg.OutboxPollInterval,
				100,
				cfg.OutboxRetentionDays,
				outboxRepo.MaxRetries(),
				log,
			)
			sender.Start(ctx)
		}
	}

	// ---------- kafka consumer (optional) ----------
	if len(cfg.KafkaBrokers) > 0 {
		consumer, err := kafka.NewConsumer(
			cfg.KafkaBrokers,
			cfg.KafkaGroupID,
			cfg.KafkaTopic,
			service.NewBookingEventProcessor(records, log),
			log,
		)
		if err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		defer func() { _ = consumer.Close() }()

		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error("kafka consumer stopped", "error", err)
			}
		}()
	}

	wizard := booking.NewWizard(records, tracker, sup, log, wizardOpts...)

	// ---------- router ----------
	secret := []byte(cfg.JWTSecret)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTPMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(secret))
		handlers.RegisterSearchRoutes(r, handlers.NewSearchHandler(searches, log))
		handlers.RegisterBookingRoutes(r, handlers.NewBookingHandler(wizard, secret))
	})

	// ---------- start server ----------
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
	}
	log.Info("server stopped")
	return nil
}

func sweepSessions(ctx context.Context, reg *dedup.Registry, every time.Duration, log logger.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := reg.Sweep(); n > 0 {
				log.Debug("idle search sessions dropped", "count", n)
			}
		}
	}
}
