package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"paycore/internal/platform/config"
	"paycore/internal/platform/httpserver"
	"paycore/internal/platform/logger"
	"paycore/internal/platform/metrics"
	"paycore/internal/salary/batch"
	salaryhandler "paycore/internal/salary/handler"
	salarymetrics "paycore/internal/salary/metrics"
	"paycore/internal/salary/service"
	"paycore/internal/salary/validator"
	"paycore/pkg/platform/audit"
	"paycore/pkg/platform/circuit"
	"paycore/pkg/platform/httputil"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "paycore: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("PAYCORE_CONFIG_DIR"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps, err := buildDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	if cfg.Database.SeedDemoData {
		if err := seedDemoData(ctx, deps.employees, log); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}

	trail := audit.NewTrail(deps.auditSink,
		audit.WithLogger(log),
		audit.WithMetrics(audit.NewMetrics(reg)),
		audit.WithAppendTimeout(cfg.Audit.AppendTimeout),
		audit.WithRetryElapsed(cfg.Audit.RetryElapsed),
		audit.WithBreaker(circuit.New("audit-"+cfg.Audit.Sink)),
	)

	salaryMetrics := salarymetrics.New(reg)
	rules := validator.New(validator.Policy{
		MaxSalary:          cfg.Salary.MaxSalary,
		MaxIncreasePercent: cfg.Salary.MaxIncreasePercent,
		MaxDecreasePercent: cfg.Salary.MaxDecreasePercent,
	})
	salaries, err := service.New(deps.employees, trail,
		service.WithLogger(log),
		service.WithMetrics(salaryMetrics),
		service.WithValidator(rules),
	)
	if err != nil {
		return fmt.Errorf("salary service: %w", err)
	}

	policy, err := batch.ParsePolicy(cfg.Batch.StorageErrorPolicy)
	if err != nil {
		return err
	}
	raises, err := batch.New(deps.employees, salaries, trail,
		batch.WithLogger(log),
		batch.WithMetrics(salaryMetrics),
		batch.WithWorkers(cfg.Batch.Workers),
		batch.WithStorageErrorPolicy(policy),
	)
	if err != nil {
		return fmt.Errorf("batch facade: %w", err)
	}

	handlerOpts := []salaryhandler.Option{
		salaryhandler.WithMetrics(metrics.New(reg)),
		salaryhandler.WithRequestTimeout(cfg.Server.RequestTimeout),
	}
	if deps.auditReader != nil {
		handlerOpts = append(handlerOpts, salaryhandler.WithAuditReader(deps.auditReader))
	}

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	router.Get("/healthz", deps.healthHandler())
	salaryhandler.New(salaries, raises, log, handlerOpts...).Register(router)

	srv := httpserver.New(cfg.Server.Addr, router, cfg.Server.RequestTimeout)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting paycore", "addr", cfg.Server.Addr, "audit_sink", cfg.Audit.Sink, "postgres", cfg.Database.URL != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (d *dependencies) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{}
		healthy := true
		for name, check := range d.healthChecks {
			if err := check(r.Context()); err != nil {
				checks[name] = err.Error()
				healthy = false
				continue
			}
			checks[name] = "ok"
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, checks)
	}
}
