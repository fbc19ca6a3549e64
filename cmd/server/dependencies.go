package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"paycore/internal/employee/models"
	"paycore/internal/employee/store"
	"paycore/internal/platform/config"
	"paycore/internal/platform/postgres"
	platformredis "paycore/internal/platform/redis"
	"paycore/internal/salary/batch"
	salaryhandler "paycore/internal/salary/handler"
	"paycore/internal/salary/service"
	"paycore/pkg/platform/audit"
	kafkastore "paycore/pkg/platform/audit/store/kafka"
	"paycore/pkg/platform/audit/store/memory"
	pgaudit "paycore/pkg/platform/audit/store/postgres"
	"paycore/pkg/platform/audit/store/redisstream"
)

type employeeStore interface {
	service.EmployeeStore
	batch.EmployeeLister
	Create(ctx context.Context, emp *models.Employee) (*models.Employee, error)
}

type dependencies struct {
	employees    employeeStore
	auditSink    audit.Sink
	auditReader  salaryhandler.AuditReader
	healthChecks map[string]func(context.Context) error
	closers      []func()
}

// Close releases connections in reverse order of creation.
func (d *dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func buildDependencies(ctx context.Context, cfg config.Config, log *slog.Logger) (*dependencies, error) {
	deps := &dependencies{healthChecks: map[string]func(context.Context) error{}}

	var db *sql.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.Open(ctx, postgres.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, func() { _ = db.Close() })
		deps.healthChecks["postgres"] = db.PingContext

		if cfg.Database.MigrateOnStart {
			if err := postgres.Migrate(db, log); err != nil {
				deps.Close()
				return nil, err
			}
		}
		deps.employees = store.NewPostgres(db,
			store.WithPostgresLockTimeout(cfg.Database.LockTimeout),
			store.WithTxTimeout(cfg.Database.TxTimeout),
		)
	} else {
		log.Warn("no database configured, using the in-memory employee store")
		deps.employees = store.NewInMemory(store.WithLockTimeout(cfg.Database.LockTimeout))
	}

	if err := deps.buildAuditSink(ctx, cfg); err != nil {
		deps.Close()
		return nil, err
	}
	return deps, nil
}

func auditPoolConfig(cfg config.Config) postgres.Config {
	return postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Audit.DBMaxOpenConns,
		MaxIdleConns:    cfg.Audit.DBMaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
}

func (d *dependencies) buildAuditSink(ctx context.Context, cfg config.Config) error {
	switch cfg.Audit.Sink {
	case config.AuditSinkPostgres:
		// Every append happens while the caller's salary transaction holds a
		// connection from the employee pool, so the sink needs its own pool.
		auditDB, err := postgres.Open(ctx, auditPoolConfig(cfg))
		if err != nil {
			return fmt.Errorf("open audit pool: %w", err)
		}
		d.closers = append(d.closers, func() { _ = auditDB.Close() })
		d.healthChecks["postgres_audit"] = auditDB.PingContext
		sink := pgaudit.New(auditDB)
		d.auditSink, d.auditReader = sink, sink

	case config.AuditSinkRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, func() { _ = client.Close() })
		d.healthChecks["redis"] = client.Health
		sink := redisstream.New(client, cfg.Redis.Stream)
		d.auditSink, d.auditReader = sink, sink

	case config.AuditSinkKafka:
		client, err := kafkastore.NewClient(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, client.Close)
		d.healthChecks["kafka"] = client.Ping
		d.auditSink = kafkastore.New(client, cfg.Kafka.Topic)

	case config.AuditSinkMemory:
		sink := memory.NewInMemoryStore()
		d.auditSink, d.auditReader = sink, sink

	default:
		return fmt.Errorf("unknown audit sink %q", cfg.Audit.Sink)
	}
	return nil
}
