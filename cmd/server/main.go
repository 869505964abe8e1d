// Command server runs the delegation engine behind an HTTP API: task
// creation and revocation, cached access checks, audit history, and the
// background expiry sweeper. Backends are selected by configuration;
// with none set, everything runs in memory.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"

	"delego/internal/delegation"
	"delego/internal/delegation/cache"
	"delego/internal/delegation/metrics"
	"delego/internal/delegation/service"
	delegationstore "delego/internal/delegation/store"
	"delego/internal/platform/config"
	"delego/internal/platform/httpserver"
	"delego/internal/platform/logger"
	platformredis "delego/internal/platform/redis"
	"delego/internal/relationship"
	"delego/internal/scope"
	"delego/internal/sweeper"
	"delego/internal/tasktoken"
	httptransport "delego/internal/transport/http"
	"delego/pkg/platform/audit"
	kafkapublisher "delego/pkg/platform/audit/publishers/kafka"
	auditmemory "delego/pkg/platform/audit/store/memory"
	auditpostgres "delego/pkg/platform/audit/store/postgres"
	auditworker "delego/pkg/platform/audit/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage backends.
	var (
		db       *sql.DB
		relStore relationship.Store
		meta     service.MetadataStore
		store    audit.Store
	)
	if cfg.PostgresURL != "" {
		var err error
		db, err = sql.Open("pgx", cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		for _, schema := range []string{relationship.Schema, delegationstore.Schema, auditpostgres.Schema} {
			if _, err := db.ExecContext(ctx, schema); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
		relStore = relationship.NewBreakerStore(relationship.NewPostgresStore(db), relationship.BreakerConfig{}, log)
		meta = delegationstore.NewPostgresStore(db)
		store = auditpostgres.New(db)
		log.Info("using postgres backends")
	} else {
		relStore = relationship.NewInMemoryStore()
		meta = delegationstore.NewInMemoryStore()
		store = auditmemory.NewInMemoryStore()
		log.Info("using in-memory backends")
	}

	// Audit pipeline: synchronous primary store, optional Kafka mirror
	// consumed by a background worker.
	publisherOpts := []audit.Option{audit.WithLogger(log)}
	var kafkaSink *kafkapublisher.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		var err error
		kafkaSink, err = kafkapublisher.New(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer kafkaSink.Close()

		mirror := make(chan audit.Event, 1024)
		publisherOpts = append(publisherOpts, audit.WithMirror(mirror))
		go func() {
			if err := auditworker.New(kafkaSink, mirror, log).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("audit mirror worker stopped", "error", err)
			}
		}()
		log.Info("audit events mirrored to kafka", "topic", cfg.KafkaTopic)
	}
	publisher := audit.NewPublisher(store, publisherOpts...)

	// Delegation engine and decision cache.
	m := metrics.New()
	engine := service.New(relStore, meta, publisher, log,
		service.WithMetrics(m),
		service.WithDefaultTTL(cfg.DefaultTaskTTL),
	)

	var decisions cache.Store = cache.NewMemoryStore()
	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		decisions = cache.NewRedisStore(redisClient.Client)
		log.Info("decision cache backed by redis")
	}
	checker := cache.New(engine, decisions, log,
		cache.WithTTLs(cfg.CacheAllowTTL, cfg.CacheDenyTTL),
		cache.WithMetrics(m),
	)

	// Scope inference for natural-language delegation requests.
	var resources []scope.Resource
	if cfg.ResourcesFile != "" {
		raw, err := os.ReadFile(cfg.ResourcesFile)
		if err != nil {
			return fmt.Errorf("read resource catalog: %w", err)
		}
		resources, err = scope.ParseResources(raw)
		if err != nil {
			return err
		}
	}
	initiator := service.NewInitiator(engine, scope.NewRuleAdvisor(), scope.NewStaticDirectory(resources))

	signingKey, devKey, err := cfg.ResolveSigningKey()
	if err != nil {
		return err
	}
	if devKey {
		log.Warn("DELEGO_TASK_SIGNING_KEY not set, task tokens signed with the development key")
	}
	tokens := tasktoken.New(signingKey, "delego", "delego-agents")

	// Expiry sweeper revokes through the cached checker so stale cached
	// allows die with the task.
	sw := sweeper.New(struct {
		delegation.Revoker
		delegation.ExpiryLister
	}{checker, engine}, publisher, log,
		sweeper.WithInterval(cfg.SweepInterval),
		sweeper.WithMetrics(m),
	)
	if err := sw.Start(ctx); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	defer sw.Stop()

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Tasks:        httptransport.NewTaskHandler(engine, checker, initiator, tokens, log),
		Audit:        httptransport.NewAuditHandler(store, log),
		Logger:       log,
		AdminKeyHash: cfg.AdminKeyHash,
		Gatherer:     prometheus.DefaultGatherer,
		Health: func() error {
			if db != nil {
				if err := db.Ping(); err != nil {
					return err
				}
			}
			if redisClient != nil {
				return redisClient.Health(context.Background())
			}
			return nil
		},
	})

	srv := httpserver.New(cfg.Addr, router)
	errCh := make(chan error, 1)
	go func() {
		log.Info("delego listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
