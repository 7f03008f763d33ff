// Package app assembles the workflow runtime from configuration. Both the
// HTTP server and the operator CLI build their components here so a process
// owns exactly one store, one oracle connection and one executor.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/config"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/executor"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/logging"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/progress"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/proof"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/repository"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/services"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/wallet"
)

// Runtime is a fully wired workflow engine.
type Runtime struct {
	Store    repository.WorkflowStore
	Service  *services.WorkflowService
	Executor *executor.Executor
	Recorder *progress.Recorder
	Wallet   *wallet.Broker

	closers []func()
}

// Build opens the store, connects to the proof oracle and, when enabled,
// to NATS, and wires the executor behind a WorkflowService. Close releases
// everything Build opened.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Runtime, error) {
	rt := &Runtime{Recorder: progress.NewRecorder(progress.DefaultHistory)}

	store, closeStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.Store = store
	rt.closers = append(rt.closers, closeStore)

	transport, err := proof.DialReconnecting(ctx, cfg.Oracle.URL, cfg.Oracle.HandshakeTimeout, logger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("connect to proof oracle: %w", err)
	}
	prover := proof.NewClient(transport, logger,
		proof.WithTimeouts(cfg.Oracle.GenerateTimeout, cfg.Oracle.VerifyTimeout),
		proof.WithStepSize(cfg.Oracle.StepSize),
	)
	prover.Start(ctx)
	rt.closers = append(rt.closers, func() { _ = prover.Close() })
	logger.Info("Proof oracle connected", "url", cfg.Oracle.URL)

	sinks := progress.Fanout{progress.NewLogSink(logger), rt.Recorder}
	var nc *nats.Conn
	if cfg.NATS.Enabled {
		nc, err = nats.Connect(cfg.NATS.URL, nats.Name("verifiable-agent"))
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		rt.closers = append(rt.closers, nc.Close)
		sinks = append(sinks, progress.NewNATSSink(nc, cfg.NATS.SubjectPrefix, logger))
		logger.Info("NATS connected", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}

	rt.Wallet = wallet.NewBroker(sinks, logger, wallet.WithTimeout(cfg.Wallet.Timeout))
	if nc != nil {
		subject := wallet.ResponseSubject(cfg.NATS.SubjectPrefix)
		sub, err := wallet.SubscribeResponses(nc, subject, rt.Wallet)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		rt.closers = append(rt.closers, func() { _ = sub.Unsubscribe() })
	}

	transfers := services.NewHTTPTransferClient(cfg.Transfer.URL,
		services.WithAPIKey(cfg.Transfer.APIKey),
		services.WithTimeout(cfg.Transfer.Timeout),
		services.WithRecipients(cfg.Transfer.Recipients),
	)

	rt.Executor = executor.New(store, prover, transfers, rt.Wallet, sinks, logger,
		executor.WithStepDelay(cfg.Executor.StepDelay),
		executor.WithTransferWatch(cfg.Transfer.StatusDelay, cfg.Transfer.StatusPollAttempts),
	)
	rt.Service = services.NewWorkflowService(store, rt.Executor, logger)
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// OpenStore opens the configured workflow store. The returned func closes
// any connection the store holds.
func OpenStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.WorkflowStore, func(), error) {
	noop := func() {}
	switch cfg.Store.Backend {
	case "memory":
		logger.Warn("Using in-memory workflow store; records do not survive a restart")
		return repository.NewMemoryWorkflowStore(), noop, nil
	case "", "file":
		store, err := repository.NewFileWorkflowStore(cfg.Store.Dir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using file workflow store", "dir", cfg.Store.Dir)
		return store, noop, nil
	case "postgres":
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		store := repository.NewPostgresWorkflowStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to create schema: %w", err)
		}
		logger.Info("Using postgres workflow store", "host", cfg.DB.Host, "db", cfg.DB.Name)
		return store, pool.Close, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		logger.Info("Using redis workflow store", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.Prefix)
		return repository.NewRedisWorkflowStore(client, cfg.Redis.Prefix), func() { _ = client.Close() }, nil
	default:
		return nil, nil, errors.New("unknown store backend " + cfg.Store.Backend)
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
