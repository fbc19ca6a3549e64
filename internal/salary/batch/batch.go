package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"paycore/internal/employee/models"
	"paycore/internal/salary/metrics"
	"paycore/internal/salary/service"
	dErrors "paycore/pkg/domain-errors"
	"paycore/pkg/platform/audit"
	"paycore/pkg/platform/sentinel"
)

const defaultWorkers = 4

var minPercentage = decimal.NewFromInt(-100)

// EmployeeLister finds the employees a selector applies to.
type EmployeeLister interface {
	List(ctx context.Context, sel models.Selector) ([]*models.Employee, error)
}

// Updater runs one employee's salary transaction.
type Updater interface {
	Apply(ctx context.Context, employeeID int64, adjust service.Adjuster) (*service.Result, error)
}

// AuditTrail appends batch-level audit records.
type AuditTrail interface {
	Append(ctx context.Context, record audit.Record) (uuid.UUID, error)
}

// StorageErrorPolicy decides what an infrastructure failure on one employee
// does to the rest of the batch.
type StorageErrorPolicy string

const (
	// PolicyFailFast stops scheduling further employees, appends the summary
	// and returns the error.
	PolicyFailFast StorageErrorPolicy = "fail_fast"
	// PolicyIsolate counts the failure against that employee and continues.
	// An unreachable store still aborts.
	PolicyIsolate StorageErrorPolicy = "isolate"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (StorageErrorPolicy, error) {
	switch p := StorageErrorPolicy(s); p {
	case PolicyFailFast, PolicyIsolate:
		return p, nil
	case "":
		return PolicyFailFast, nil
	default:
		return "", fmt.Errorf("unknown storage error policy %q", s)
	}
}

// Failure describes one employee that was not raised.
type Failure struct {
	EmployeeID int64
	Name       string
	Code       dErrors.Code
	Reason     string
}

// Summary is the aggregate outcome of a batch raise.
// Succeeded + Failed + Skipped == Total.
type Summary struct {
	BatchID    uuid.UUID
	Selector   models.Selector
	Percentage decimal.Decimal
	Total      int
	Succeeded  int
	Failed     int
	Skipped    int
	Aborted    bool
	Failures   []Failure
	AuditID    uuid.UUID
}

// Facade applies a percentage raise to every selected employee. Each employee
// is its own salary transaction; expected failures on one employee never
// affect the others.
type Facade struct {
	lister  EmployeeLister
	updater Updater
	trail   AuditTrail
	workers int
	policy  StorageErrorPolicy
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures the Facade.
type Option func(*Facade)

// WithLogger sets the logger for batch progress and per-employee failures.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Facade) {
		f.logger = logger
	}
}

// WithMetrics records per-employee outcomes and batch duration.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Facade) {
		f.metrics = m
	}
}

// WithWorkers bounds how many employee transactions run at once.
func WithWorkers(n int) Option {
	return func(f *Facade) {
		if n > 0 {
			f.workers = n
		}
	}
}

// WithStorageErrorPolicy chooses how infrastructure failures affect the rest of
// the batch. An empty policy keeps PolicyFailFast.
func WithStorageErrorPolicy(p StorageErrorPolicy) Option {
	return func(f *Facade) {
		if p != "" {
			f.policy = p
		}
	}
}

// New constructs the batch raise facade.
func New(lister EmployeeLister, updater Updater, trail AuditTrail, opts ...Option) (*Facade, error) {
	if lister == nil {
		return nil, errors.New("employee lister is required")
	}
	if updater == nil {
		return nil, errors.New("salary updater is required")
	}
	if trail == nil {
		return nil, errors.New("audit trail is required")
	}
	f := &Facade{
		lister:  lister,
		updater: updater,
		trail:   trail,
		workers: defaultWorkers,
		policy:  PolicyFailFast,
		logger:  slog.Default(),
		tracer:  otel.Tracer("paycore/salary"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

type status int

const (
	statusSkipped status = iota
	statusSucceeded
	statusFailed
)

// outcome is written by exactly one worker into its own slot.
type outcome struct {
	status  status
	failure Failure
}

// ApplyRaise raises every employee matched by sel by percentage, computing
// each new salary from that employee's locked current salary.
//
// Validation and not-found failures are counted and processing continues.
// Infrastructure failures follow the configured StorageErrorPolicy; when the
// batch aborts the summary is still recorded and returned with the error.
func (f *Facade) ApplyRaise(ctx context.Context, sel models.Selector, percentage decimal.Decimal) (*Summary, error) {
	ctx, span := f.tracer.Start(ctx, "salary.ApplyRaise", trace.WithAttributes(
		attribute.String("batch.selector", sel.String()),
		attribute.String("batch.percentage", percentage.String()),
	))
	defer span.End()
	start := time.Now()

	if err := sel.Validate(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, err.Error())
	}

	summary := &Summary{BatchID: uuid.New(), Selector: sel, Percentage: percentage}
	logger := f.logger.With("batch_id", summary.BatchID, "selector", sel.String(), "percentage", percentage.String())

	if percentage.LessThanOrEqual(minPercentage) {
		reason := fmt.Sprintf("raise of %s%% would make every salary zero or negative", percentage.String())
		if _, err := f.trail.Append(ctx, audit.Record{
			EventType:  audit.EventBusinessRuleViolation,
			Message:    fmt.Sprintf("Batch %s rejected for %s: %s", summary.BatchID, sel, reason),
			EntityType: audit.EntitySalaryBatch,
		}); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeAuditIncomplete, "batch rejected but the audit record could not be written")
		}
		logger.InfoContext(ctx, "batch raise rejected", "reason", reason)
		return nil, dErrors.New(dErrors.CodeValidation, reason)
	}

	if _, err := f.trail.Append(ctx, audit.Record{
		EventType:  audit.EventGeneral,
		Message:    fmt.Sprintf("Batch %s started: %s%% raise for %s", summary.BatchID, percentage.String(), sel),
		EntityType: audit.EntitySalaryBatch,
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record batch start")
	}

	employees, err := f.lister.List(ctx, sel)
	if err != nil {
		return nil, dErrors.Wrap(err, codeForInfra(err), "list employees for batch")
	}
	summary.Total = len(employees)

	factor := decimal.NewFromInt(1).Add(percentage.Shift(-2))
	raise := func(emp *models.Employee) decimal.Decimal {
		return emp.Salary.Mul(factor)
	}

	// A started transaction always runs to completion so its audit records and
	// its outcome agree. An abort only stops employees not yet started.
	itemCtx := context.WithoutCancel(ctx)
	var stopped atomic.Bool

	outcomes := make([]outcome, len(employees))
	var g errgroup.Group
	g.SetLimit(f.workers)
	for i, emp := range employees {
		i, emp := i, emp
		g.Go(func() error {
			if stopped.Load() || ctx.Err() != nil {
				outcomes[i] = outcome{status: statusSkipped}
				return nil
			}
			res, err := f.updater.Apply(itemCtx, emp.ID, raise)
			var abort error
			outcomes[i], abort = f.classify(itemCtx, logger, emp, res, err)
			if abort != nil {
				stopped.Store(true)
			}
			return abort
		})
	}
	abortErr := g.Wait()
	if abortErr == nil && ctx.Err() != nil {
		abortErr = fmt.Errorf("batch interrupted: %w", ctx.Err())
	}

	reduceOutcomes(summary, outcomes)
	summary.Aborted = abortErr != nil

	auditID, auditErr := f.trail.Append(ctx, audit.Record{
		EventType:  audit.EventBatchSummary,
		Message:    summaryMessage(summary),
		EntityType: audit.EntitySalaryBatch,
	})
	summary.AuditID = auditID

	if f.metrics != nil {
		f.metrics.AddBatchItems("succeeded", summary.Succeeded)
		f.metrics.AddBatchItems("failed", summary.Failed)
		f.metrics.AddBatchItems("skipped", summary.Skipped)
		f.metrics.ObserveBatch(start)
	}
	span.SetAttributes(
		attribute.Int("batch.total", summary.Total),
		attribute.Int("batch.succeeded", summary.Succeeded),
		attribute.Int("batch.failed", summary.Failed),
	)
	logger.InfoContext(ctx, "batch raise finished",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"aborted", summary.Aborted,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case abortErr != nil:
		span.RecordError(abortErr)
		span.SetStatus(codes.Error, "batch aborted")
		return summary, dErrors.Wrap(errors.Join(abortErr, auditErr), codeForInfra(abortErr), "batch raise aborted")
	case auditErr != nil:
		span.RecordError(auditErr)
		span.SetStatus(codes.Error, "summary audit failed")
		return summary, dErrors.Wrap(auditErr, dErrors.CodeAuditIncomplete, "batch finished but the summary audit record could not be written")
	}
	span.SetStatus(codes.Ok, "")
	return summary, nil
}

// classify turns one employee's result into its outcome and, when the policy
// says so, the error that aborts the batch.
func (f *Facade) classify(ctx context.Context, logger *slog.Logger, emp *models.Employee, res *service.Result, err error) (outcome, error) {
	if err == nil {
		return outcome{status: statusSucceeded}, nil
	}

	code, _ := dErrors.CodeOf(err)
	failure := Failure{EmployeeID: emp.ID, Name: emp.FullName(), Code: code, Reason: dErrors.MessageOf(err)}
	attrs := []any{"employee_id", emp.ID, "employee", emp.FullName(), "code", code, "reason", failure.Reason}

	switch code {
	case dErrors.CodeValidation, dErrors.CodeNotFound:
		logger.WarnContext(ctx, "batch item rejected", attrs...)
		return outcome{status: statusFailed, failure: failure}, nil
	case dErrors.CodeAuditIncomplete:
		// A non-nil result means the raise committed and only its SUCCESS
		// record is missing. Either way the audit sink is failing.
		logger.ErrorContext(ctx, "batch item not fully audited", append(attrs, "error", err)...)
		o := outcome{status: statusFailed, failure: failure}
		if res != nil {
			o = outcome{status: statusSucceeded}
		}
		return o, fmt.Errorf("employee %d: %w", emp.ID, err)
	}

	logger.ErrorContext(ctx, "batch item failed", append(attrs, "error", err)...)
	if f.policy == PolicyIsolate && code != dErrors.CodeUnavailable {
		return outcome{status: statusFailed, failure: failure}, nil
	}
	return outcome{status: statusFailed, failure: failure}, fmt.Errorf("employee %d: %w", emp.ID, err)
}

// reduceOutcomes folds the per-employee slots into the summary counts. It runs
// once, after every worker has finished.
func reduceOutcomes(summary *Summary, outcomes []outcome) {
	for _, o := range outcomes {
		switch o.status {
		case statusSucceeded:
			summary.Succeeded++
		case statusFailed:
			summary.Failed++
			summary.Failures = append(summary.Failures, o.failure)
		default:
			summary.Skipped++
		}
	}
}

func summaryMessage(s *Summary) string {
	msg := fmt.Sprintf("Batch %s completed: %s%% raise for %s. Total: %d, Succeeded: %d, Failed: %d",
		s.BatchID, s.Percentage.String(), s.Selector, s.Total, s.Succeeded, s.Failed)
	if s.Skipped > 0 {
		msg += fmt.Sprintf(", Skipped: %d", s.Skipped)
	}
	if s.Aborted {
		msg += " (aborted after storage error)"
	}
	return msg
}

func codeForInfra(err error) dErrors.Code {
	if errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.CodeUnavailable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return dErrors.CodeTimeout
	}
	if code, ok := dErrors.CodeOf(err); ok {
		switch code {
		case dErrors.CodeUnavailable, dErrors.CodeTimeout, dErrors.CodeAuditIncomplete:
			return code
		}
	}
	return dErrors.CodeInternal
}
