package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"followup/internal/archive"
	candidatehandler "followup/internal/candidate/handler"
	candidateservice "followup/internal/candidate/service"
	candidatestore "followup/internal/candidate/store"
	checkpointmodels "followup/internal/checkpoint/models"
	checkpointservice "followup/internal/checkpoint/service"
	checkpointstore "followup/internal/checkpoint/store"
	httpapi "followup/internal/http"
	"followup/internal/identity"
	"followup/internal/ingestion"
	"followup/internal/outbox"
	"followup/internal/platform/config"
	"followup/internal/platform/httpserver"
	"followup/internal/platform/kafka/consumer"
	"followup/internal/platform/kafka/producer"
	"followup/internal/platform/leader"
	"followup/internal/platform/logger"
	"followup/internal/platform/metrics"
	redisclient "followup/internal/platform/redis"
	"followup/internal/platform/scheduler"
	"followup/pkg/platform/circuit"
	"followup/pkg/platform/tx"
)

// candidateStore is every candidate store capability the process wires.
type candidateStore interface {
	candidateservice.Store
	ingestion.CandidateFinder
	outbox.Store
	identity.Store
}

// main wires dependencies and runs consumers, scheduled jobs and the HTTP
// server until SIGINT or SIGTERM. Business logic lives in internal packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("followup", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML config file")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	checks := map[string]httpapi.HealthCheck{}

	var (
		candidates  candidateStore
		checkpoints checkpointservice.Store
		runner      tx.Runner = tx.NoopRunner{}
	)
	if cfg.Database.URL != "" {
		db, err := openDB(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		candidates = candidatestore.NewPostgres(db)
		checkpoints = checkpointstore.NewPostgres(db)
		runner = tx.SQLRunner{DB: db}
		checks["database"] = db.PingContext
	} else {
		log.Warn("no database configured, using in-memory stores")
		candidates = candidatestore.NewInMemory()
		checkpoints = checkpointstore.NewInMemory()
	}

	prod, err := producer.New(producer.Config{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topics.Candidates,
		ClientID: cfg.Kafka.ClientID,
	})
	if err != nil {
		return err
	}
	defer prod.Close()
	checks["kafka"] = prod.Ping
	if cfg.Kafka.EnsureTopics {
		if err := ensureTopics(ctx, prod, cfg.Kafka); err != nil {
			return err
		}
	}

	archiver := archive.WithFallback(
		archive.NewHTTPClient(cfg.Archive.URL,
			archive.WithBreaker(circuit.New("archive",
				circuit.WithFailureThreshold(cfg.Archive.FailureThreshold),
				circuit.WithCooldown(cfg.Archive.BreakerCooldown),
			)),
		),
		log, m, cfg.Archive.FallbackEnabled,
	)
	candidateSvc := candidateservice.New(candidates, archiver,
		candidateservice.WithLogger(log), candidateservice.WithMetrics(m))

	var pilot checkpointmodels.PilotGate = checkpointmodels.AllUnits{}
	if len(cfg.Checkpoint.PilotUnits) > 0 {
		pilot = checkpointmodels.NewUnitSet(cfg.Checkpoint.PilotUnits, nil)
	}
	checkpointSvc := checkpointservice.New(checkpoints, pilot,
		checkpointservice.WithLogger(log), checkpointservice.WithMetrics(m))
	reconciler := identity.New(candidates, identity.WithLogger(log), identity.WithMetrics(m))

	ingestOpts := []ingestion.Option{ingestion.WithLogger(log), ingestion.WithMetrics(m)}
	topics := cfg.Kafka.Topics
	router := ingestion.NewRouter(log).
		Register(topics.NotificationSent, ingestion.NewNotificationSentHandler(candidates, candidateSvc, ingestOpts...)).
		Register(topics.AnswerReceived, ingestion.NewAnswerReceivedHandler(candidates, candidateSvc,
			append(ingestOpts, ingestion.WithTxRunner(runner))...)).
		Register(topics.CasePeriod, ingestion.NewCasePeriodHandler(checkpointSvc, ingestOpts...)).
		Register(topics.IdentityChange, ingestion.NewIdentityChangeHandler(reconciler, ingestOpts...))

	provider, release, err := newLeader(ctx, cfg, checks)
	if err != nil {
		return err
	}
	defer release()

	publisher := outbox.New(candidates, prod,
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
		outbox.WithGracePeriod(cfg.Outbox.GracePeriod),
		outbox.WithLogger(log),
		outbox.WithMetrics(m),
	)
	dueJob := checkpointservice.NewDueJob(checkpoints, candidateSvc, runner,
		checkpointservice.WithBatchSize(cfg.Checkpoint.BatchSize),
		checkpointservice.WithJobLogger(log),
		checkpointservice.WithJobMetrics(m),
	)
	jobs := scheduler.New(provider, scheduler.WithLogger(log), scheduler.WithMetrics(m)).
		Add(scheduler.Job{
			Name:         "outbox-publisher",
			InitialDelay: cfg.Outbox.InitialDelay,
			Interval:     cfg.Outbox.Interval,
			Run:          publisher.Run,
		}).
		Add(scheduler.Job{
			Name:         "checkpoint-due",
			InitialDelay: cfg.Checkpoint.InitialDelay,
			Interval:     cfg.Checkpoint.Interval,
			Run:          dueJob.Run,
		})

	handler := httpapi.NewRouter(httpapi.Deps{
		Logger:   log,
		Gatherer: prometheus.DefaultGatherer,
		Checks:   checks,
		Routes:   []httpapi.RouteRegistrar{candidatehandler.New(candidateSvc, log)},
	})
	srv := httpserver.New(cfg.HTTP.Addr, handler)

	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range topics.Inbound() {
		c, err := consumer.New(consumer.Config{
			Brokers:    cfg.Kafka.Brokers,
			Group:      cfg.Kafka.Group + "-" + topic,
			Topics:     []string{topic},
			ClientID:   cfg.Kafka.ClientID,
			MaxBackoff: cfg.Kafka.MaxBackoff,
		}, router, consumer.WithLogger(log), consumer.WithMetrics(m))
		if err != nil {
			return err
		}
		g.Go(func() error {
			defer c.Close()
			return c.Run(gctx)
		})
	}
	g.Go(func() error { return jobs.Run(gctx) })
	g.Go(func() error { return httpserver.Run(gctx, srv) })

	log.Info("followup started",
		slog.String("addr", cfg.HTTP.Addr),
		slog.String("environment", cfg.Environment),
		slog.String("leader_mode", cfg.Leader.Mode),
	)
	err = g.Wait()
	log.Info("followup stopped")
	return err
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := candidatestore.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ensureTopics(ctx context.Context, prod *producer.Producer, cfg config.KafkaConfig) error {
	names := append(cfg.Topics.Inbound(), cfg.Topics.Candidates)
	specs := make([]producer.TopicSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, producer.TopicSpec{
			Name:              name,
			Partitions:        cfg.Partitions,
			ReplicationFactor: cfg.ReplicationFactor,
		})
	}
	return producer.EnsureTopics(ctx, prod.Client(), specs...)
}

// newLeader selects the leadership backend and registers its health check.
// The returned release func gives up a held lease on shutdown.
func newLeader(ctx context.Context, cfg *config.Config, checks map[string]httpapi.HealthCheck) (leader.Provider, func(), error) {
	noop := func() {}
	switch cfg.Leader.Mode {
	case config.LeaderHTTP:
		e, err := leader.NewHTTPElector(cfg.Leader.ElectorURL)
		return e, noop, err
	case config.LeaderRedis:
		client, err := redisclient.New(ctx, cfg.Redis)
		if err != nil {
			return nil, noop, err
		}
		host, err := os.Hostname()
		if err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("resolve hostname: %w", err)
		}
		checks["redis"] = client.Health
		lease := leader.NewRedisLease(client.Client, cfg.Leader.LeaseKey, host, cfg.Leader.LeaseTTL)
		return lease, func() {
			_ = lease.Release(context.WithoutCancel(ctx))
			_ = client.Close()
		}, nil
	default:
		return leader.Static(true), noop, nil
	}
}
