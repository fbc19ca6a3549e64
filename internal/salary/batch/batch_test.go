package batch_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"paycore/internal/employee/models"
	"paycore/internal/employee/store"
	"paycore/internal/salary/batch"
	"paycore/internal/salary/metrics"
	"paycore/internal/salary/service"
	dErrors "paycore/pkg/domain-errors"
	"paycore/pkg/platform/audit"
	"paycore/pkg/platform/audit/store/memory"
	"paycore/pkg/platform/sentinel"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type BatchRaiseSuite struct {
	suite.Suite
	ctx       context.Context
	employees *store.InMemoryStore
	auditLog  *memory.InMemoryStore
	trail     *audit.Trail
	service   *service.Service
}

func TestBatchRaiseSuite(t *testing.T) {
	suite.Run(t, new(BatchRaiseSuite))
}

func (s *BatchRaiseSuite) SetupTest() {
	s.ctx = context.Background()
	s.employees = store.NewInMemory()
	s.auditLog = memory.NewInMemoryStore()
	s.trail = audit.NewTrail(s.auditLog, audit.WithLogger(discard))

	var err error
	s.service, err = service.New(s.employees, s.trail, service.WithLogger(discard))
	s.Require().NoError(err)
}

func (s *BatchRaiseSuite) facade(updater batch.Updater, opts ...batch.Option) *batch.Facade {
	f, err := batch.New(s.employees, updater, s.trail, append([]batch.Option{batch.WithLogger(discard)}, opts...)...)
	s.Require().NoError(err)
	return f
}

func (s *BatchRaiseSuite) seedAcme(salaries ...string) []*models.Employee {
	out := make([]*models.Employee, 0, len(salaries))
	for i, salary := range salaries {
		emp, err := s.employees.Create(s.ctx, &models.Employee{
			FirstName: "Employee",
			LastName:  fmt.Sprint(i + 1),
			Email:     fmt.Sprintf("e%d@acme.test", i+1),
			Salary:    decimal.RequireFromString(salary),
			Company:   "Acme",
		})
		s.Require().NoError(err)
		out = append(out, emp)
	}
	return out
}

func (s *BatchRaiseSuite) batchRecords(eventType audit.EventType) []audit.Record {
	records, err := s.auditLog.ListByEventType(s.ctx, eventType)
	s.Require().NoError(err)
	return records
}

func (s *BatchRaiseSuite) salaryOf(id int64) decimal.Decimal {
	emp, err := s.employees.Get(s.ctx, id)
	s.Require().NoError(err)
	return emp.Salary
}

func (s *BatchRaiseSuite) TestNew() {
	_, err := batch.New(nil, s.service, s.trail)
	s.ErrorContains(err, "employee lister is required")
	_, err = batch.New(s.employees, nil, s.trail)
	s.ErrorContains(err, "salary updater is required")
	_, err = batch.New(s.employees, s.service, nil)
	s.ErrorContains(err, "audit trail is required")
}

// TestOneViolationDoesNotStopTheBatch is the five-employee isolation case:
// employee 3 would exceed the maximum salary after a 10% raise.
func (s *BatchRaiseSuite) TestOneViolationDoesNotStopTheBatch() {
	emps := s.seedAcme("5000", "6000", "950000", "7000", "8000")
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	summary, err := s.facade(s.service, batch.WithMetrics(m)).ApplyRaise(s.ctx, models.ByCompany("acme"), decimal.NewFromInt(10))
	s.Require().NoError(err)

	s.Equal(5, summary.Total)
	s.Equal(4, summary.Succeeded)
	s.Equal(1, summary.Failed)
	s.Zero(summary.Skipped)
	s.False(summary.Aborted)
	s.Require().Len(summary.Failures, 1)
	s.Equal(emps[2].ID, summary.Failures[0].EmployeeID)
	s.Equal(dErrors.CodeValidation, summary.Failures[0].Code)

	s.True(s.salaryOf(emps[0].ID).Equal(decimal.RequireFromString("5500")))
	s.True(s.salaryOf(emps[1].ID).Equal(decimal.RequireFromString("6600")))
	s.True(s.salaryOf(emps[2].ID).Equal(decimal.RequireFromString("950000")))
	s.True(s.salaryOf(emps[3].ID).Equal(decimal.RequireFromString("7700")))
	s.True(s.salaryOf(emps[4].ID).Equal(decimal.RequireFromString("8800")))

	summaries := s.batchRecords(audit.EventBatchSummary)
	s.Require().Len(summaries, 1)
	s.Equal(summary.AuditID, summaries[0].ID)
	s.Equal(audit.EntitySalaryBatch, summaries[0].EntityType)
	s.Contains(summaries[0].Message, "Total: 5, Succeeded: 4, Failed: 1")

	s.Len(s.batchRecords(audit.EventGeneral), 1)
	s.Len(s.batchRecords(audit.EventSuccess), 4)
	s.Len(s.batchRecords(audit.EventFailure), 1)
	s.Len(s.batchRecords(audit.EventAttempt), 5)

	s.Equal(4.0, testutil.ToFloat64(m.BatchItems.WithLabelValues("succeeded")))
	s.Equal(1.0, testutil.ToFloat64(m.BatchItems.WithLabelValues("failed")))
}

func (s *BatchRaiseSuite) TestRaiseIsRoundedToCents() {
	emps := s.seedAcme("1234.56")

	_, err := s.facade(s.service).ApplyRaise(s.ctx, models.ByCompany("Acme"), decimal.RequireFromString("3.5"))
	s.Require().NoError(err)

	// 1234.56 * 1.035 = 1277.7696
	s.Equal("1277.77", s.salaryOf(emps[0].ID).StringFixed(2))
}

func (s *BatchRaiseSuite) TestEmptySelectionStillSummarizes() {
	s.seedAcme("5000")

	summary, err := s.facade(s.service).ApplyRaise(s.ctx, models.ByCompany("Initech"), decimal.NewFromInt(5))
	s.Require().NoError(err)
	s.Zero(summary.Total)
	s.Len(s.batchRecords(audit.EventBatchSummary), 1)
}

func (s *BatchRaiseSuite) TestRejectsRaiseOfMinusHundredPercentOrLess() {
	emps := s.seedAcme("5000")

	summary, err := s.facade(s.service).ApplyRaise(s.ctx, models.ByCompany("Acme"), decimal.NewFromInt(-100))
	s.Nil(summary)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	s.Len(s.batchRecords(audit.EventBusinessRuleViolation), 1)
	s.Empty(s.batchRecords(audit.EventBatchSummary))
	s.Empty(s.batchRecords(audit.EventAttempt))
	s.True(s.salaryOf(emps[0].ID).Equal(decimal.NewFromInt(5000)))
}

func (s *BatchRaiseSuite) TestRejectsMalformedSelector() {
	_, err := s.facade(s.service).ApplyRaise(s.ctx, models.Selector{Kind: "department"}, decimal.NewFromInt(5))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	s.Zero(s.auditLog.Len())
}

func (s *BatchRaiseSuite) TestDecreaseWithinBoundsApplies() {
	emps := s.seedAcme("5000", "6000")

	summary, err := s.facade(s.service).ApplyRaise(s.ctx, models.WithoutDepartment(), decimal.NewFromInt(-10))
	s.Require().NoError(err)
	s.Equal(2, summary.Succeeded)
	s.True(s.salaryOf(emps[0].ID).Equal(decimal.NewFromInt(4500)))
	s.True(s.salaryOf(emps[1].ID).Equal(decimal.NewFromInt(5400)))
}

// failingUpdater returns a fixed error for chosen employees and delegates the rest.
type failingUpdater struct {
	mu     sync.Mutex
	next   batch.Updater
	errFor map[int64]error
	calls  []int64
}

func (u *failingUpdater) Apply(ctx context.Context, id int64, adjust service.Adjuster) (*service.Result, error) {
	u.mu.Lock()
	u.calls = append(u.calls, id)
	err := u.errFor[id]
	u.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return u.next.Apply(ctx, id, adjust)
}

// overlappingUpdater fails one employee only once another is already running,
// then lets the other one continue after the failure has been reported.
type overlappingUpdater struct {
	next     batch.Updater
	failing  int64
	err      error
	inFlight chan struct{}
	failed   chan struct{}
	ctxErr   error
}

func (u *overlappingUpdater) Apply(ctx context.Context, id int64, adjust service.Adjuster) (*service.Result, error) {
	if id == u.failing {
		<-u.inFlight
		close(u.failed)
		return nil, u.err
	}
	close(u.inFlight)
	<-u.failed
	select {
	case <-ctx.Done():
		u.ctxErr = ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}
	return u.next.Apply(ctx, id, adjust)
}

func (s *BatchRaiseSuite) TestStorageErrorPolicy() {
	storageErr := dErrors.Wrap(errors.New("disk full"), dErrors.CodeInternal, "salary update failed")

	s.Run("fail fast stops scheduling and still summarizes", func() {
		s.SetupTest()
		emps := s.seedAcme("5000", "5000", "5000", "5000")
		updater := &failingUpdater{next: s.service, errFor: map[int64]error{emps[1].ID: storageErr}}

		summary, err := s.facade(updater, batch.WithWorkers(1)).ApplyRaise(s.ctx, models.ByCompany("Acme"), decimal.NewFromInt(10))
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
		s.ErrorContains(err, "disk full")
		s.Require().NotNil(summary)
		s.True(summary.Aborted)
		s.Equal(4, summary.Total)
		s.Equal(1, summary.Succeeded)
		s.Equal(1, summary.Failed)
		s.Equal(2, summary.Skipped)
		s.Equal([]int64{emps[0].ID, emps[1].ID}, updater.calls)

		summaries := s.batchRecords(audit.EventBatchSummary)
		s.Require().Len(summaries, 1)
		s.Contains(summaries[0].Message, "aborted")
	})

	s.Run("fail fast lets in-flight employees finish", func() {
		s.SetupTest()
		emps := s.seedAcme("5000", "5000")
		updater := &overlappingUpdater{
			next:     s.service,
			failing:  emps[0].ID,
			err:      storageErr,
			inFlight: make(chan struct{}),
			failed:   make(chan struct{}),
		}

		summary, err := s.facade(updater, batch.WithWorkers(2)).ApplyRaise(s.ctx, models.ByCompany("Acme"), decimal.NewFromInt(10))
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
		s.Require().NotNil(summary)
		s.True(summary.Aborted)
		s.Equal(1, summary.Succeeded)
		s.Equal(1, summary.Failed)
		s.Equal(0, summary.Skipped)
		s.NoError(updater.ctxErr)

		s.True(s.salaryOf(emps[1].ID).Equal(decimal.NewFromInt(5500)))
		records, listErr := s.auditLog.ListByEntity(s.ctx, audit.EntityEmployee, emps[1].ID)
		s.Require().NoError(listErr)
		s.Require().Len(records, 2)
		s.Equal([]audit.EventType{audit.EventAttempt, audit.EventSuccess}, []audit.EventType{records[0].EventType, records[1].EventType})
	})

	s.Run("isolate counts the failure and continues", func() {
		s.SetupTest()
		emps := s.seedAcme("5000", "5000", "5000", "5000")
		updater := &failingUpdater{next: s.service, errFor: map[int64]error{emps[1].ID: storageErr}}

		summary, err := s.facade(updater, batch.WithWorkers(1), batch.WithStorageErrorPolicy(batch.PolicyIsolate)).
			ApplyRaise(s.ctx, models.ByCompany("Acme"), decimal.NewFromInt(10))
		s.Require().NoError(err)
		s.Equal(3, summary.Succeeded)
		s.Equal(1, summary.Failed)
		s.False(summary.Aborted)
		s.Len(updater.calls, 4)
	})

	s.Run("isolate still aborts when the store is unreachable", func() {
		s.SetupTest()
		emps := s.seedAcme("5000", "5000", "5000")
		unavailable := dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeUnavailable, "salary update failed")
		updater := &failingUpdater{next: s.service, errFor: map[int64]error{emps[0].ID: unavailable}}

		summary, err := s.facade(updater, batch.WithWorkers(1), batch.WithStorageErrorPolicy(batch.PolicyIsolate)).
			ApplyRaise(s.ctx, models.ByCompany("Acme"), decimal.NewFromInt(10))
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		s.ErrorIs(err, sentinel.ErrUnavailable)
		s.True(summary.Aborted)
		s.Equal(2, summary.Skipped)
	})

	s.Run("not found is absorbed under either policy", func() {
		s.SetupTest()
		emps := s.seedAcme("5000", "5000")
		notFound := dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound, "employee not found")
		updater := &failingUpdater{next: s.service, errFor: map[int64]error{emps[0].ID: notFound}}

		summary, err := s.facade(updater).ApplyRaise(s.ctx, models.ByCompany("Acme"), decimal.NewFromInt(10))
		s.Require().NoError(err)
		s.Equal(1, summary.Succeeded)
		s.Equal(1, summary.Failed)
	})
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]batch.StorageErrorPolicy{
		"":          batch.PolicyFailFast,
		"fail_fast": batch.PolicyFailFast,
		"isolate":   batch.PolicyIsolate,
	} {
		got, err := batch.ParsePolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParsePolicy(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := batch.ParsePolicy("retry"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
