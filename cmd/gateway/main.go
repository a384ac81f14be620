package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/manenim/admission-gate/pkg/admin"
	"github.com/manenim/admission-gate/pkg/admission"
	"github.com/manenim/admission-gate/pkg/audit"
	"github.com/manenim/admission-gate/pkg/config"
	"github.com/manenim/admission-gate/pkg/identity"
	"github.com/manenim/admission-gate/pkg/limiter"
	"github.com/manenim/admission-gate/pkg/logger"
	"github.com/manenim/admission-gate/pkg/metrics"
	"github.com/manenim/admission-gate/pkg/policy"
	"github.com/manenim/admission-gate/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "optional config file (.env, .yaml, .json)")
	flag.Parse()

	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("gateway stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(true)

	var client *redis.Client
	if cfg.LimiterBackend == "redis" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client = redis.NewClient(opts)
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			// Admission degrades open while Redis is down, so keep going.
			log.Warn("redis not reachable at startup", zap.String("url", opts.Addr), zap.Error(err))
		}
		cancel()
	}

	bucket, err := newBucket(cfg, client, collector)
	if err != nil {
		return err
	}
	if mem, ok := bucket.(*limiter.MemoryLimiter); ok {
		janitor := limiter.NewJanitor(mem, cfg.EvictSchedule, func(n int) {
			if n > 0 {
				log.Debug("evicted idle buckets", zap.Int("count", n))
			}
		})
		if err := janitor.Start(); err != nil {
			return err
		}
		defer janitor.Stop()
	}

	store := policy.NewStore(policy.Defaults(policy.Rule{
		Capacity:     cfg.Capacity,
		RefillPerSec: cfg.RefillPerSec,
		Cost:         cfg.Cost,
		TTLSeconds:   cfg.TTLSeconds,
	}), newPolicySource(cfg, client), policy.WithLogger(log))
	store.Load(ctx)

	refresher := policy.NewRefresher(store, cfg.PolicyRefresh, log)
	if err := refresher.Start(ctx); err != nil {
		return err
	}
	defer refresher.Stop()

	sink, err := newAuditSink(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Warn("failed to close audit sink", zap.Error(err))
		}
	}()

	gate := admission.New(identity.NewResolver(), store, bucket,
		admission.WithMetrics(collector),
		admission.WithLogger(log),
		admission.WithAudit(sink, cfg.AuditSampleRate),
		admission.WithAuditTimeout(cfg.AuditTimeout),
	)
	defer gate.Wait()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.New(server.Options{
		Logger:     log,
		Limiter:    gate,
		Collector:  collector,
		Admin:      admin.New(store, cfg.AdminKey, log),
		CORSOrigin: cfg.CORSOrigin,
	})

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.Int("port", cfg.Port),
			zap.String("limiter", cfg.LimiterBackend),
			zap.String("audit", cfg.AuditDriver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newBucket(cfg *config.Config, client *redis.Client, rec limiter.MetricsRecorder) (limiter.Bucket, error) {
	if cfg.LimiterBackend == "memory" {
		return limiter.NewMemoryLimiter(), nil
	}
	return limiter.NewRedisLimiter(client,
		limiter.WithPrefix(cfg.KeyPrefix),
		limiter.WithTimeout(cfg.RedisTimeout),
		limiter.WithRecorder(rec),
	)
}

func newPolicySource(cfg *config.Config, client *redis.Client) policy.Source {
	if client == nil {
		return policy.NewMemorySource()
	}
	return policy.NewRedisSource(client, cfg.PolicyKey)
}

func newAuditSink(cfg *config.Config) (audit.Sink, error) {
	switch cfg.AuditDriver {
	case "postgres", "sqlite":
		return audit.OpenGorm(cfg.AuditDriver, cfg.AuditDSN)
	case "kafka":
		return audit.NewKafkaSink(cfg.Brokers(), cfg.KafkaTopic)
	default:
		return audit.NopSink{}, nil
	}
}
