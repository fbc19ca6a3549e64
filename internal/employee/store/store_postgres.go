package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"paycore/internal/employee/models"
	"paycore/pkg/platform/sentinel"
	txcontext "paycore/pkg/platform/tx"
)

const defaultTxTimeout = 30 * time.Second

// PostgreSQL error codes the store maps to sentinels.
const (
	pqLockNotAvailable pq.ErrorCode  = "55P03"
	pqUniqueViolation  pq.ErrorCode  = "23505"
	pqCheckViolation   pq.ErrorCode  = "23514"
	pqConnectionClass  pq.ErrorClass = "08"
	pqResourcesClass   pq.ErrorClass = "53"
	pqShutdownClass    pq.ErrorClass = "57"
	pqQueryCanceled    pq.ErrorCode  = "57014"
)

// PostgresStore persists employees in PostgreSQL.
//
// RunInTx opens a *sql.Tx and carries it in the context; GetForUpdate and
// SaveSalary run on that transaction. Row locks are SELECT ... FOR UPDATE with
// SET LOCAL lock_timeout bounding the wait.
type PostgresStore struct {
	db          *sql.DB
	lockTimeout time.Duration
	txTimeout   time.Duration
}

// PostgresOption configures the PostgresStore.
type PostgresOption func(*PostgresStore)

// lockTimeoutMillis rounds d up to whole milliseconds. Postgres reads a
// lock_timeout of 0 as no timeout at all.
func lockTimeoutMillis(d time.Duration) int64 {
	ms := (d + time.Millisecond - 1).Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}

// WithPostgresLockTimeout sets the lock_timeout applied to every transaction.
func WithPostgresLockTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithTxTimeout bounds transactions whose context has no deadline.
func WithTxTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

// NewPostgres constructs a PostgreSQL-backed employee store.
func NewPostgres(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		db:          db,
		lockTimeout: DefaultLockTimeout,
		txTimeout:   defaultTxTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx runs fn inside a database transaction. The transaction commits iff
// fn returns nil; the deferred rollback covers every other exit, panics
// included.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(ctx, "begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// lock_timeout does not accept bind parameters.
	setLock := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeoutMillis(s.lockTimeout))
	if _, err := tx.ExecContext(ctx, setLock); err != nil {
		return mapError(ctx, "set lock timeout", err)
	}

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError(ctx, "commit transaction", err)
	}
	return nil
}

const employeeColumns = `id, first_name, last_name, email, salary, company, position, status, department_id, updated_at`

// GetForUpdate locks the row for the transaction in ctx. Unknown ids return
// sentinel.ErrNotFound and no row is locked.
func (s *PostgresStore) GetForUpdate(ctx context.Context, id int64) (*models.Employee, error) {
	tx, ok := txcontext.From(ctx)
	if !ok {
		return nil, fmt.Errorf("get employee %d for update: %w", id, sentinel.ErrNoTransaction)
	}
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE id = $1 FOR UPDATE`
	emp, err := scanEmployee(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("employee %d: %w", id, sentinel.ErrNotFound)
		}
		return nil, mapError(ctx, fmt.Sprintf("get employee %d for update", id), err)
	}
	return emp, nil
}

// SaveSalary updates the salary on the transaction in ctx. Callers must hold
// the row lock from GetForUpdate.
func (s *PostgresStore) SaveSalary(ctx context.Context, id int64, salary decimal.Decimal) error {
	tx, ok := txcontext.From(ctx)
	if !ok {
		return fmt.Errorf("save salary for employee %d: %w", id, sentinel.ErrNoTransaction)
	}
	result, err := tx.ExecContext(ctx,
		`UPDATE employees SET salary = $2, updated_at = NOW() WHERE id = $1`,
		id, salary,
	)
	if err != nil {
		return mapError(ctx, fmt.Sprintf("save salary for employee %d", id), err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save salary rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("employee %d: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

// Get reads the last committed record, or the caller's own uncommitted write
// when called inside RunInTx.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*models.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE id = $1`
	emp, err := scanEmployee(s.queryer(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("employee %d: %w", id, sentinel.ErrNotFound)
		}
		return nil, mapError(ctx, fmt.Sprintf("get employee %d", id), err)
	}
	return emp, nil
}

// List returns employees matching sel, ordered by id.
func (s *PostgresStore) List(ctx context.Context, sel models.Selector) ([]*models.Employee, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	var (
		where string
		args  []any
	)
	switch sel.Kind {
	case models.SelectByCompany:
		where, args = `lower(company) = lower($1)`, []any{sel.Value}
	case models.SelectByPosition:
		where, args = `lower(position) = lower($1)`, []any{sel.Value}
	case models.SelectNoDepartment:
		where = `department_id IS NULL`
	}

	query := `SELECT ` + employeeColumns + ` FROM employees WHERE ` + where + ` ORDER BY id`
	rows, err := s.queryer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(ctx, "list employees", err)
	}
	defer rows.Close()

	out := make([]*models.Employee, 0)
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		out = append(out, emp)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(ctx, "iterate employees", err)
	}
	return out, nil
}

// Create inserts emp. A zero ID lets the database assign one.
func (s *PostgresStore) Create(ctx context.Context, emp *models.Employee) (*models.Employee, error) {
	if emp == nil {
		return nil, fmt.Errorf("employee is required")
	}
	status := emp.Status
	if status == "" {
		status = models.EmployeeStatusActive
	}
	var departmentID sql.NullInt64
	if emp.DepartmentID != nil {
		departmentID = sql.NullInt64{Int64: *emp.DepartmentID, Valid: true}
	}

	var row *sql.Row
	if emp.ID == 0 {
		row = s.queryer(ctx).QueryRowContext(ctx, `
			INSERT INTO employees (first_name, last_name, email, salary, company, position, status, department_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+employeeColumns,
			emp.FirstName, emp.LastName, emp.Email, emp.Salary, emp.Company, emp.Position, string(status), departmentID,
		)
	} else {
		row = s.queryer(ctx).QueryRowContext(ctx, `
			INSERT INTO employees (id, first_name, last_name, email, salary, company, position, status, department_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING `+employeeColumns,
			emp.ID, emp.FirstName, emp.LastName, emp.Email, emp.Salary, emp.Company, emp.Position, string(status), departmentID,
		)
	}
	created, err := scanEmployee(row)
	if err != nil {
		return nil, mapError(ctx, "create employee", err)
	}
	return created, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) queryer(ctx context.Context) queryer {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmployee(row rowScanner) (*models.Employee, error) {
	var (
		emp          models.Employee
		status       string
		departmentID sql.NullInt64
	)
	if err := row.Scan(
		&emp.ID,
		&emp.FirstName,
		&emp.LastName,
		&emp.Email,
		&emp.Salary,
		&emp.Company,
		&emp.Position,
		&status,
		&departmentID,
		&emp.UpdatedAt,
	); err != nil {
		return nil, err
	}
	emp.Status = models.EmployeeStatus(status)
	if departmentID.Valid {
		dept := departmentID.Int64
		emp.DepartmentID = &dept
	}
	return &emp, nil
}

// mapError translates driver failures into sentinels so the service layer
// never inspects pq types.
func mapError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == pqLockNotAvailable:
			return fmt.Errorf("%s: %w", op, sentinel.ErrLockTimeout)
		case pqErr.Code == pqUniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, sentinel.ErrConflict, pqErr.Constraint)
		case pqErr.Code == pqCheckViolation:
			return fmt.Errorf("%s: %w: %s", op, sentinel.ErrInvalidState, pqErr.Constraint)
		case pqErr.Code == pqQueryCanceled:
			return fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
		case pqErr.Code.Class() == pqConnectionClass,
			pqErr.Code.Class() == pqResourcesClass,
			pqErr.Code.Class() == pqShutdownClass:
			return fmt.Errorf("%s: %w: %s", op, sentinel.ErrUnavailable, pqErr.Message)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %v", op, sentinel.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
