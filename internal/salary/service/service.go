package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"paycore/internal/employee/models"
	"paycore/internal/salary/metrics"
	"paycore/internal/salary/validator"
	dErrors "paycore/pkg/domain-errors"
	"paycore/pkg/platform/audit"
	"paycore/pkg/platform/sentinel"
	"paycore/pkg/requestcontext"
)

// EmployeeStore is the transactional employee persistence the service needs.
type EmployeeStore interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetForUpdate(ctx context.Context, id int64) (*models.Employee, error)
	SaveSalary(ctx context.Context, id int64, salary decimal.Decimal) error
	Get(ctx context.Context, id int64) (*models.Employee, error)
}

// AuditTrail appends audit records in their own durability scope.
type AuditTrail interface {
	Append(ctx context.Context, record audit.Record) (uuid.UUID, error)
}

// State is a step of the salary update state machine. Result.State holds the
// last step reached.
type State string

const (
	StateStart          State = "START"
	StateLocked         State = "LOCKED"
	StateAuditedAttempt State = "AUDITED_ATTEMPT"
	StateValidated      State = "VALIDATED"
	StateMutated        State = "MUTATED"
	StateAuditedSuccess State = "AUDITED_SUCCESS"
	StateRejected       State = "REJECTED"
	StateNotFound       State = "NOT_FOUND"
	StateAuditedFailure State = "AUDITED_FAILURE"
)

// ChangeRequest asks for one employee's salary to be set to ProposedSalary.
type ChangeRequest struct {
	EmployeeID     int64
	ProposedSalary decimal.Decimal
}

// Result describes a finished update. It is returned for successful updates
// and alongside CodeAuditIncomplete errors.
type Result struct {
	EmployeeID   int64
	EmployeeName string
	OldSalary    decimal.Decimal
	NewSalary    decimal.Decimal
	AuditIDs     []uuid.UUID
	State        State
}

// Adjuster derives the proposed salary from the locked employee record.
type Adjuster func(emp *models.Employee) decimal.Decimal

// Outcome labels used for metrics and logs.
const (
	outcomeSuccess         = "success"
	outcomeRejected        = "rejected"
	outcomeNotFound        = "not_found"
	outcomeTimeout         = "timeout"
	outcomeError           = "error"
	outcomeAuditIncomplete = "audit_incomplete"
)

// Service runs salary changes as one transaction per employee:
// lock, audit the attempt, validate, write, commit, audit the outcome.
// Audit records go through AuditTrail and survive rollback.
type Service struct {
	store     EmployeeStore
	trail     AuditTrail
	validator *validator.Validator
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithValidator replaces the default-policy validator.
func WithValidator(v *validator.Validator) Option {
	return func(s *Service) {
		if v != nil {
			s.validator = v
		}
	}
}

// New constructs the salary service.
func New(store EmployeeStore, trail AuditTrail, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("employee store is required")
	}
	if trail == nil {
		return nil, errors.New("audit trail is required")
	}
	s := &Service{
		store:     store,
		trail:     trail,
		validator: validator.New(validator.DefaultPolicy()),
		logger:    slog.Default(),
		tracer:    otel.Tracer("paycore/salary"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// UpdateSalary sets one employee's salary to req.ProposedSalary.
//
// Errors carry dErrors codes: CodeNotFound (also for non-positive ids, which
// no employee can have), CodeValidation (with a
// *validator.Violation in the chain), CodeTimeout when the row lock could not
// be acquired, CodeInternal/CodeUnavailable for storage failures. On any error
// the stored salary is unchanged, except for CodeAuditIncomplete, which is
// returned together with the committed Result when the success record could
// not be written.
func (s *Service) UpdateSalary(ctx context.Context, req ChangeRequest) (*Result, error) {
	proposed := req.ProposedSalary
	return s.Apply(ctx, req.EmployeeID, func(*models.Employee) decimal.Decimal {
		return proposed
	})
}

// Apply runs the update transaction with the proposed salary computed from the
// locked record, so the value is derived from the latest committed salary.
// Proposed salaries are rounded half-up to cents before validation.
func (s *Service) Apply(ctx context.Context, employeeID int64, adjust Adjuster) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "salary.Update",
		trace.WithAttributes(attribute.Int64("employee.id", employeeID)))
	defer span.End()

	start := time.Now()
	res := &Result{EmployeeID: employeeID, State: StateStart}

	err := s.withLock(ctx, employeeID, func(ctx context.Context, emp *models.Employee) error {
		res.State = StateLocked
		res.EmployeeName = emp.FullName()
		res.OldSalary = emp.Salary
		res.NewSalary = adjust(emp.Clone()).Round(2)

		msg := fmt.Sprintf("Attempting salary update for %s: %s -> %s", emp.Label(), money(res.OldSalary), money(res.NewSalary))
		if origin := requestcontext.Origin(ctx); origin != "" {
			msg += " (requested by " + origin + ")"
		}
		attemptID, err := s.trail.Append(ctx, audit.Record{
			EventType:  audit.EventAttempt,
			Message:    msg,
			EntityType: audit.EntityEmployee,
			EntityID:   audit.Ref(employeeID),
		})
		if err != nil {
			return fmt.Errorf("record attempt: %w", err)
		}
		res.AuditIDs = append(res.AuditIDs, attemptID)
		res.State = StateAuditedAttempt

		if err := s.validator.Validate(res.OldSalary, res.NewSalary); err != nil {
			res.State = StateRejected
			return err
		}
		res.State = StateValidated

		if err := s.store.SaveSalary(ctx, employeeID, res.NewSalary); err != nil {
			return fmt.Errorf("save salary: %w", err)
		}
		res.State = StateMutated
		return nil
	})
	if err != nil {
		outcome, ferr := s.fail(ctx, res, err)
		s.finish(ctx, span, start, outcome, res, ferr)
		return nil, ferr
	}

	successID, err := s.trail.Append(ctx, audit.Record{
		EventType:  audit.EventSuccess,
		Message:    fmt.Sprintf("Salary updated for %s: %s -> %s", s.label(res), money(res.OldSalary), money(res.NewSalary)),
		EntityType: audit.EntityEmployee,
		EntityID:   audit.Ref(employeeID),
	})
	if err != nil {
		ferr := dErrors.Wrap(err, dErrors.CodeAuditIncomplete, "salary updated but the success audit record could not be written")
		s.finish(ctx, span, start, outcomeAuditIncomplete, res, ferr)
		return res, ferr
	}
	res.AuditIDs = append(res.AuditIDs, successID)
	res.State = StateAuditedSuccess

	s.finish(ctx, span, start, outcomeSuccess, res, nil)
	return res, nil
}

// withLock runs fn in a transaction holding the employee's row lock. The lock
// is released when the transaction ends on every path. Returning an error from
// fn rolls the transaction back.
func (s *Service) withLock(ctx context.Context, employeeID int64, fn func(ctx context.Context, emp *models.Employee) error) error {
	if employeeID <= 0 {
		return fmt.Errorf("employee %d: %w", employeeID, sentinel.ErrNotFound)
	}
	return s.store.RunInTx(ctx, func(txCtx context.Context) error {
		lockStart := time.Now()
		emp, err := s.store.GetForUpdate(txCtx, employeeID)
		if s.metrics != nil {
			s.metrics.ObserveLockWait(lockStart)
		}
		if err != nil {
			return err
		}
		return fn(txCtx, emp)
	})
}

// fail maps a rolled-back transaction error to a coded error and writes the
// FAILURE record where the outcome calls for one.
func (s *Service) fail(ctx context.Context, res *Result, cause error) (string, error) {
	var violation *validator.Violation
	switch {
	case errors.As(cause, &violation):
		err := dErrors.Wrap(cause, dErrors.CodeValidation, violation.Reason)
		msg := fmt.Sprintf("Salary update rejected for %s: %s", s.label(res), violation.Reason)
		return outcomeRejected, s.recordFailure(ctx, res, msg, err)

	case errors.Is(cause, sentinel.ErrNotFound) && res.State == StateStart:
		res.State = StateNotFound
		err := dErrors.Wrap(cause, dErrors.CodeNotFound, fmt.Sprintf("employee %d not found", res.EmployeeID))
		msg := fmt.Sprintf("Salary update failed: employee %d not found", res.EmployeeID)
		return outcomeNotFound, s.recordFailure(ctx, res, msg, err)

	case errors.Is(cause, sentinel.ErrLockTimeout):
		return outcomeTimeout, dErrors.Wrap(cause, dErrors.CodeTimeout,
			fmt.Sprintf("timed out waiting for the lock on employee %d", res.EmployeeID))

	case res.State == StateStart && (errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)):
		return outcomeTimeout, dErrors.Wrap(cause, dErrors.CodeTimeout,
			fmt.Sprintf("salary update for employee %d abandoned before the lock was acquired", res.EmployeeID))
	}

	code := dErrors.CodeInternal
	if errors.Is(cause, sentinel.ErrUnavailable) {
		code = dErrors.CodeUnavailable
	}
	err := dErrors.Wrap(cause, code, "salary update failed")
	msg := fmt.Sprintf("Salary update failed for %s at %s: %v", s.label(res), res.State, cause)
	return outcomeError, s.recordFailure(ctx, res, msg, err)
}

// recordFailure appends the FAILURE record and returns err. When the append
// itself fails the outcome is not fully audited and that takes precedence.
func (s *Service) recordFailure(ctx context.Context, res *Result, msg string, err error) error {
	failureID, auditErr := s.trail.Append(ctx, audit.Record{
		EventType:  audit.EventFailure,
		Message:    msg,
		EntityType: audit.EntityEmployee,
		EntityID:   audit.Ref(res.EmployeeID),
	})
	if auditErr != nil {
		return dErrors.Wrap(errors.Join(err, auditErr), dErrors.CodeAuditIncomplete,
			"salary update failed and the failure audit record could not be written")
	}
	res.AuditIDs = append(res.AuditIDs, failureID)
	res.State = StateAuditedFailure
	return err
}

func (s *Service) finish(ctx context.Context, span trace.Span, start time.Time, outcome string, res *Result, err error) {
	if s.metrics != nil {
		s.metrics.IncUpdate(outcome)
		s.metrics.ObserveUpdate(start)
	}
	span.SetAttributes(
		attribute.String("salary.outcome", outcome),
		attribute.String("salary.state", string(res.State)),
	)

	attrs := []any{
		"employee_id", res.EmployeeID,
		"outcome", outcome,
		"state", res.State,
		"old_salary", money(res.OldSalary),
		"new_salary", money(res.NewSalary),
		"duration_ms", time.Since(start).Milliseconds(),
	}
	switch outcome {
	case outcomeSuccess:
		span.SetStatus(codes.Ok, "")
		s.logger.InfoContext(ctx, "salary updated", attrs...)
	case outcomeRejected, outcomeNotFound:
		s.logger.InfoContext(ctx, "salary update refused", append(attrs, "reason", dErrors.MessageOf(err))...)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, dErrors.MessageOf(err))
		s.logger.ErrorContext(ctx, "salary update failed", append(attrs, "error", err)...)
	}
}

func (s *Service) label(res *Result) string {
	if res.EmployeeName != "" {
		return fmt.Sprintf("employee %d (%s)", res.EmployeeID, res.EmployeeName)
	}
	return fmt.Sprintf("employee %d", res.EmployeeID)
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
