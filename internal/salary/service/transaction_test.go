package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"paycore/internal/employee/models"
	"paycore/internal/employee/store"
	"paycore/internal/salary/service"
	"paycore/internal/salary/validator"
	dErrors "paycore/pkg/domain-errors"
	"paycore/pkg/platform/audit"
	"paycore/pkg/platform/audit/store/memory"
	"paycore/pkg/requestcontext"
)

// =============================================================================
// Salary Transaction Suite
// =============================================================================
// Runs the service over the in-memory employee store and a real audit trail to
// check the rollback, audit durability and serialization guarantees together.

type TransactionSuite struct {
	suite.Suite
	ctx       context.Context
	employees *store.InMemoryStore
	auditLog  *memory.InMemoryStore
	service   *service.Service
}

func TestTransactionSuite(t *testing.T) {
	suite.Run(t, new(TransactionSuite))
}

func (s *TransactionSuite) SetupTest() {
	s.ctx = context.Background()
	s.employees = store.NewInMemory(store.WithLockTimeout(100 * time.Millisecond))
	s.auditLog = memory.NewInMemoryStore()
	s.service = s.newService(s.employees)
}

func (s *TransactionSuite) newService(employees service.EmployeeStore) *service.Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	trail := audit.NewTrail(s.auditLog, audit.WithLogger(logger))
	svc, err := service.New(employees, trail, service.WithLogger(logger))
	s.Require().NoError(err)
	return svc
}

func (s *TransactionSuite) seed(salary string) *models.Employee {
	emp, err := s.employees.Create(s.ctx, &models.Employee{
		FirstName: "Alan",
		LastName:  "Turing",
		Email:     "alan+" + salary + "@example.com",
		Salary:    decimal.RequireFromString(salary),
		Company:   "Acme",
	})
	s.Require().NoError(err)
	return emp
}

func (s *TransactionSuite) records(id int64) []audit.Record {
	records, err := s.auditLog.ListByEntity(s.ctx, audit.EntityEmployee, id)
	s.Require().NoError(err)
	return records
}

func (s *TransactionSuite) salaryOf(id int64) decimal.Decimal {
	emp, err := s.employees.Get(s.ctx, id)
	s.Require().NoError(err)
	return emp.Salary
}

func eventTypes(records []audit.Record) []audit.EventType {
	out := make([]audit.EventType, 0, len(records))
	for _, r := range records {
		out = append(out, r.EventType)
	}
	return out
}

func (s *TransactionSuite) TestRaiseWithinBoundsCommits() {
	emp := s.seed("5000")

	res, err := s.service.UpdateSalary(s.ctx, service.ChangeRequest{EmployeeID: emp.ID, ProposedSalary: decimal.NewFromInt(6000)})
	s.Require().NoError(err)
	s.Equal(service.StateAuditedSuccess, res.State)

	s.True(s.salaryOf(emp.ID).Equal(decimal.NewFromInt(6000)))
	records := s.records(emp.ID)
	s.Equal([]audit.EventType{audit.EventAttempt, audit.EventSuccess}, eventTypes(records))
	s.Contains(records[1].Message, "5000.00 -> 6000.00")
	s.False(records[1].Timestamp.Before(records[0].Timestamp))
}

func (s *TransactionSuite) TestAttemptRecordNamesRequestOrigin() {
	emp := s.seed("5000")
	ctx := requestcontext.WithTime(s.ctx, time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC))
	ctx = requestcontext.WithClientMetadata(ctx, "10.0.0.7", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")

	_, err := s.service.UpdateSalary(ctx, service.ChangeRequest{EmployeeID: emp.ID, ProposedSalary: decimal.NewFromInt(6000)})
	s.Require().NoError(err)

	records := s.records(emp.ID)
	s.Require().Len(records, 2)
	s.Contains(records[0].Message, "(requested by Firefox")
	s.Contains(records[0].Message, "from 10.0.0.7 at 2026-03-01T09:30:00Z)")
	s.NotContains(records[1].Message, "requested by")
}

func (s *TransactionSuite) TestNegativeSalaryRollsBackWithTwoRecords() {
	emp := s.seed("5000")
	before := len(s.records(emp.ID))

	res, err := s.service.UpdateSalary(s.ctx, service.ChangeRequest{EmployeeID: emp.ID, ProposedSalary: decimal.NewFromInt(-1000)})
	s.Nil(res)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	var violation *validator.Violation
	s.Require().ErrorAs(err, &violation)
	s.Equal(validator.RuleNegative, violation.Rule)

	s.True(s.salaryOf(emp.ID).Equal(decimal.NewFromInt(5000)))
	records := s.records(emp.ID)
	s.Len(records, before+2)
	s.Equal([]audit.EventType{audit.EventAttempt, audit.EventFailure}, eventTypes(records[before:]))
	s.Contains(records[before+1].Message, "negative")
}

func (s *TransactionSuite) TestMoreThanDoubleIsRejected() {
	emp := s.seed("5000")

	_, err := s.service.UpdateSalary(s.ctx, service.ChangeRequest{EmployeeID: emp.ID, ProposedSalary: decimal.NewFromInt(10500)})
	var violation *validator.Violation
	s.Require().ErrorAs(err, &violation)
	s.Equal(validator.RuleIncreaseLimit, violation.Rule)
	s.True(violation.Old.Equal(decimal.NewFromInt(5000)))
	s.True(violation.New.Equal(decimal.NewFromInt(10500)))

	s.True(s.salaryOf(emp.ID).Equal(decimal.NewFromInt(5000)))
	s.Equal([]audit.EventType{audit.EventAttempt, audit.EventFailure}, eventTypes(s.records(emp.ID)))
}

func (s *TransactionSuite) TestUnknownEmployeeWritesOneFailure() {
	_, err := s.service.UpdateSalary(s.ctx, service.ChangeRequest{EmployeeID: 404, ProposedSalary: decimal.NewFromInt(6000)})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	records := s.records(404)
	s.Require().Len(records, 1)
	s.Equal(audit.EventFailure, records[0].EventType)
	s.Contains(records[0].Message, "not found")
}

func (s *TransactionSuite) TestNonPositiveIDWritesOneFailure() {
	_, err := s.service.UpdateSalary(s.ctx, service.ChangeRequest{EmployeeID: 0, ProposedSalary: decimal.NewFromInt(6000)})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	records := s.records(0)
	s.Require().Len(records, 1)
	s.Equal(audit.EventFailure, records[0].EventType)
}

// TestAuditCountNeverDecreases runs a mix of outcomes and checks the audit log
// for the employee only grows, and grows on every completed invocation.
func (s *TransactionSuite) TestAuditCountNeverDecreases() {
	emp := s.seed("5000")
	proposals := []string{"6000", "-1", "20000", "5500", "1000", "5500", "5600.50"}

	count := len(s.records(emp.ID))
	for _, p := range proposals {
		expected := s.salaryOf(emp.ID)
		res, err := s.service.UpdateSalary(s.ctx, service.ChangeRequest{EmployeeID: emp.ID, ProposedSalary: decimal.RequireFromString(p)})
		if err == nil {
			expected = res.NewSalary
		}
		s.True(s.salaryOf(emp.ID).Equal(expected), "salary after proposing %s", p)

		next := len(s.records(emp.ID))
		s.Greater(next, count, "proposal %s", p)
		count = next
	}
}

func (s *TransactionSuite) TestLockTimeoutWritesNoAudit() {
	emp := s.seed("5000")
	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.employees.RunInTx(s.ctx, func(ctx context.Context) error {
			if _, err := s.employees.GetForUpdate(ctx, emp.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	_, err := s.service.UpdateSalary(s.ctx, service.ChangeRequest{EmployeeID: emp.ID, ProposedSalary: decimal.NewFromInt(6000)})
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	s.Empty(s.records(emp.ID))

	close(release)
	s.Require().NoError(<-done)
	s.True(s.salaryOf(emp.ID).Equal(decimal.NewFromInt(5000)))
}

func (s *TransactionSuite) TestCancelWhileWaitingWritesNoAudit() {
	s.employees = store.NewInMemory()
	s.service = s.newService(s.employees)
	emp := s.seed("5000")

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.employees.RunInTx(s.ctx, func(ctx context.Context) error {
			if _, err := s.employees.GetForUpdate(ctx, emp.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	ctx, cancel := context.WithCancel(s.ctx)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := s.service.UpdateSalary(ctx, service.ChangeRequest{EmployeeID: emp.ID, ProposedSalary: decimal.NewFromInt(6000)})
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	s.True(errors.Is(err, context.Canceled))
	s.Empty(s.records(emp.ID))

	close(release)
	s.Require().NoError(<-done)
}

// TestConcurrentUpdatesSerialize verifies two concurrent updates both commit
// in some order and the later one observes the earlier one's value as old.
func (s *TransactionSuite) TestConcurrentUpdatesSerialize() {
	s.employees = store.NewInMemory()
	s.service = s.newService(s.employees)
	emp := s.seed("5000")

	proposals := []decimal.Decimal{decimal.NewFromInt(6000), decimal.NewFromInt(7000)}
	results := make([]*service.Result, len(proposals))
	errs := make([]error, len(proposals))

	var wg sync.WaitGroup
	for i, p := range proposals {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = s.service.UpdateSalary(s.ctx, service.ChangeRequest{EmployeeID: emp.ID, ProposedSalary: p})
		}()
	}
	wg.Wait()

	s.Require().NoError(errs[0])
	s.Require().NoError(errs[1])

	first, second := results[0], results[1]
	if !first.OldSalary.Equal(decimal.NewFromInt(5000)) {
		first, second = second, first
	}
	s.True(first.OldSalary.Equal(decimal.NewFromInt(5000)))
	s.True(second.OldSalary.Equal(first.NewSalary), "loser must see the winner's committed salary")
	s.True(s.salaryOf(emp.ID).Equal(second.NewSalary))
	s.Len(s.records(emp.ID), 4)
}

// TestConcurrentRelativeRaisesLoseNothing applies many +1% raises at once; with
// serialization every raise compounds on the previous committed value.
func (s *TransactionSuite) TestConcurrentRelativeRaisesLoseNothing() {
	s.employees = store.NewInMemory()
	s.service = s.newService(s.employees)
	emp := s.seed("10000")

	const goroutines = 10
	onePercent := decimal.RequireFromString("1.01")

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Apply(s.ctx, emp.ID, func(e *models.Employee) decimal.Decimal {
				return e.Salary.Mul(onePercent)
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	expected := decimal.NewFromInt(10000)
	for i := 0; i < goroutines; i++ {
		expected = expected.Mul(onePercent).Round(2)
	}
	s.True(s.salaryOf(emp.ID).Equal(expected), "got %s want %s", s.salaryOf(emp.ID), expected)
	s.Len(s.records(emp.ID), 2*goroutines)
}
