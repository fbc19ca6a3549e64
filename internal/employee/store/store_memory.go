package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"paycore/internal/employee/models"
	"paycore/pkg/platform/sentinel"
)

// DefaultLockTimeout bounds how long GetForUpdate waits for a row lock.
const DefaultLockTimeout = 5 * time.Second

// InMemoryStore keeps employees in process memory.
//
// Row locks are per-employee single-slot semaphores owned by the transaction
// carried in the context. Salary writes are buffered on the transaction and
// applied to the committed map only when RunInTx's callback returns nil, so
// plain reads never observe uncommitted values.
type InMemoryStore struct {
	mu          sync.RWMutex
	employees   map[int64]*models.Employee
	emails      map[string]int64
	nextID      int64
	locks       *rowLocks
	lockTimeout time.Duration
	now         func() time.Time
}

// MemoryOption configures the InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithLockTimeout sets the maximum wait for a row lock.
func WithLockTimeout(d time.Duration) MemoryOption {
	return func(s *InMemoryStore) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithClock overrides the UpdatedAt source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *InMemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewInMemory constructs an empty in-memory employee store.
func NewInMemory(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		employees:   make(map[int64]*models.Employee),
		emails:      make(map[string]int64),
		locks:       newRowLocks(),
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type memoryTxKey struct{}

// memoryTx is the unit of work for one RunInTx call.
type memoryTx struct {
	held    map[int64]struct{}
	pending map[int64]decimal.Decimal
}

func memoryTxFrom(ctx context.Context) (*memoryTx, bool) {
	t, ok := ctx.Value(memoryTxKey{}).(*memoryTx)
	return t, ok && t != nil
}

// RunInTx runs fn inside a transaction. Buffered writes are committed iff fn
// returns nil. Row locks taken by GetForUpdate are released on every exit path,
// including a panic in fn.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	t := &memoryTx{
		held:    make(map[int64]struct{}),
		pending: make(map[int64]decimal.Decimal),
	}
	defer func() {
		for id := range t.held {
			s.locks.release(id)
		}
	}()

	if err := fn(context.WithValue(ctx, memoryTxKey{}, t)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	for id, salary := range t.pending {
		emp, ok := s.employees[id]
		if !ok {
			return fmt.Errorf("commit employee %d: %w", id, sentinel.ErrNotFound)
		}
		emp.Salary = salary
		emp.UpdatedAt = now
	}
	return nil
}

// GetForUpdate locks the employee row for the transaction in ctx and returns
// the last committed record. Unknown ids fail with sentinel.ErrNotFound
// without taking a lock.
func (s *InMemoryStore) GetForUpdate(ctx context.Context, id int64) (*models.Employee, error) {
	t, ok := memoryTxFrom(ctx)
	if !ok {
		return nil, fmt.Errorf("get employee %d for update: %w", id, sentinel.ErrNoTransaction)
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	if _, already := t.held[id]; !already {
		if err := s.locks.acquire(ctx, id, s.lockTimeout); err != nil {
			return nil, fmt.Errorf("lock employee %d: %w", id, err)
		}
		t.held[id] = struct{}{}
	}

	// Re-read after acquiring: the previous holder may have committed.
	emp, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if salary, ok := t.pending[id]; ok {
		emp.Salary = salary
	}
	return emp, nil
}

// SaveSalary buffers a salary write on the transaction in ctx. The row lock
// must already be held.
func (s *InMemoryStore) SaveSalary(ctx context.Context, id int64, salary decimal.Decimal) error {
	t, ok := memoryTxFrom(ctx)
	if !ok {
		return fmt.Errorf("save salary for employee %d: %w", id, sentinel.ErrNoTransaction)
	}
	if _, held := t.held[id]; !held {
		return fmt.Errorf("save salary for employee %d: %w", id, sentinel.ErrLockNotHeld)
	}
	if salary.IsNegative() {
		return fmt.Errorf("save salary for employee %d: %w: salary must not be negative", id, sentinel.ErrInvalidState)
	}
	t.pending[id] = salary
	return nil
}

// Get returns a copy of the last committed record.
func (s *InMemoryStore) Get(_ context.Context, id int64) (*models.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	emp, ok := s.employees[id]
	if !ok {
		return nil, fmt.Errorf("employee %d: %w", id, sentinel.ErrNotFound)
	}
	return emp.Clone(), nil
}

// List returns committed employees matching sel, ordered by id.
func (s *InMemoryStore) List(_ context.Context, sel models.Selector) ([]*models.Employee, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Employee, 0)
	for _, emp := range s.employees {
		if sel.Matches(emp) {
			out = append(out, emp.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Create inserts emp, assigning an id when zero. Email is unique ignoring case.
func (s *InMemoryStore) Create(_ context.Context, emp *models.Employee) (*models.Employee, error) {
	if emp == nil {
		return nil, fmt.Errorf("employee is required")
	}
	if emp.Salary.IsNegative() {
		return nil, fmt.Errorf("create employee: %w: salary must not be negative", sentinel.ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email := models.NormalizeEmail(emp.Email)
	if _, taken := s.emails[email]; taken {
		return nil, fmt.Errorf("create employee with email %q: %w", email, sentinel.ErrConflict)
	}
	created := emp.Clone()
	if created.ID == 0 {
		s.nextID++
		created.ID = s.nextID
	} else if _, exists := s.employees[created.ID]; exists {
		return nil, fmt.Errorf("create employee %d: %w", created.ID, sentinel.ErrConflict)
	}
	if created.ID > s.nextID {
		s.nextID = created.ID
	}
	if created.Status == "" {
		created.Status = models.EmployeeStatusActive
	}
	created.UpdatedAt = s.now().UTC()

	s.employees[created.ID] = created
	s.emails[email] = created.ID
	return created.Clone(), nil
}

// rowLocks hands out one single-slot channel per employee id.
type rowLocks struct {
	mu    sync.Mutex
	slots map[int64]chan struct{}
}

func newRowLocks() *rowLocks {
	return &rowLocks{slots: make(map[int64]chan struct{})}
}

func (l *rowLocks) slot(id int64) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[id]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[id] = ch
	}
	return ch
}

func (l *rowLocks) acquire(ctx context.Context, id int64, timeout time.Duration) error {
	ch := l.slot(id)
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case ch <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return sentinel.ErrLockTimeout
	}
}

func (l *rowLocks) release(id int64) {
	<-l.slot(id)
}
