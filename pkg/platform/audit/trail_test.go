package audit_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "paycore/pkg/platform/audit"
	"paycore/pkg/platform/audit/store/memory"
	"paycore/pkg/platform/circuit"
	txcontext "paycore/pkg/platform/tx"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// flakySink fails the first n appends, then delegates.
type flakySink struct {
	failures atomic.Int32
	calls    atomic.Int32
	next     audit.Sink
	observe  func(ctx context.Context)
}

func (s *flakySink) Append(ctx context.Context, r audit.Record) error {
	s.calls.Add(1)
	if s.observe != nil {
		s.observe(ctx)
	}
	if s.failures.Load() > 0 {
		s.failures.Add(-1)
		return errors.New("connection reset")
	}
	return s.next.Append(ctx, r)
}

func employeeRecord(t audit.EventType) audit.Record {
	return audit.Record{
		EventType:  t,
		Message:    "test",
		EntityType: audit.EntityEmployee,
		EntityID:   audit.Ref(1),
	}
}

func TestTrail_AssignsIdentityAndTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	trail := audit.NewTrail(store, audit.WithLogger(discard), audit.WithClock(func() time.Time { return fixed }))

	id, err := trail.Append(context.Background(), employeeRecord(audit.EventAttempt))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	records, err := store.ListByEntity(context.Background(), audit.EntityEmployee, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)
	assert.Equal(t, fixed, records[0].Timestamp)
}

func TestTrail_RejectsInvalidRecords(t *testing.T) {
	trail := audit.NewTrail(memory.NewInMemoryStore(), audit.WithLogger(discard))

	_, err := trail.Append(context.Background(), employeeRecord("UNKNOWN"))
	assert.ErrorIs(t, err, audit.ErrInvalidRecord)

	rec := employeeRecord(audit.EventGeneral)
	rec.EntityType = ""
	_, err = trail.Append(context.Background(), rec)
	assert.ErrorIs(t, err, audit.ErrInvalidRecord)
}

func TestTrail_RetriesTransientFailures(t *testing.T) {
	store := memory.NewInMemoryStore()
	sink := &flakySink{next: store}
	sink.failures.Store(2)
	trail := audit.NewTrail(sink, audit.WithLogger(discard), audit.WithRetryElapsed(2*time.Second))

	_, err := trail.Append(context.Background(), employeeRecord(audit.EventFailure))
	require.NoError(t, err)
	assert.Equal(t, int32(3), sink.calls.Load())
	assert.Equal(t, 1, store.Len())
}

func TestTrail_FailsClosedWhenSinkStaysDown(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := audit.NewMetrics(reg)
	sink := &flakySink{next: memory.NewInMemoryStore()}
	sink.failures.Store(1 << 20)
	trail := audit.NewTrail(sink,
		audit.WithLogger(discard),
		audit.WithMetrics(metrics),
		audit.WithRetryElapsed(100*time.Millisecond),
	)

	id, err := trail.Append(context.Background(), employeeRecord(audit.EventSuccess))
	require.Error(t, err)
	assert.Equal(t, uuid.Nil, id)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PersistFailures.WithLabelValues("SUCCESS")))
}

func TestTrail_DetachesFromCallerCancellationAndTransaction(t *testing.T) {
	var sawCancelled, sawTx atomic.Bool
	sink := &flakySink{
		next: memory.NewInMemoryStore(),
		observe: func(ctx context.Context) {
			if ctx.Err() != nil {
				sawCancelled.Store(true)
			}
			if _, ok := txcontext.From(ctx); ok {
				sawTx.Store(true)
			}
		},
	}
	trail := audit.NewTrail(sink, audit.WithLogger(discard))

	ctx, cancel := context.WithCancel(txcontext.WithTx(context.Background(), &sql.Tx{}))
	cancel()

	_, err := trail.Append(ctx, employeeRecord(audit.EventAttempt))
	require.NoError(t, err)
	assert.False(t, sawCancelled.Load(), "append must not observe caller cancellation")
	assert.False(t, sawTx.Load(), "append must not join the caller's transaction")
}

func TestTrail_OpenBreakerSkipsRetries(t *testing.T) {
	store := memory.NewInMemoryStore()
	sink := &flakySink{next: store}
	sink.failures.Store(1 << 20)
	breaker := circuit.New("audit", circuit.WithFailureThreshold(1), circuit.WithSuccessThreshold(1))
	trail := audit.NewTrail(sink,
		audit.WithLogger(discard),
		audit.WithRetryElapsed(100*time.Millisecond),
		audit.WithBreaker(breaker),
	)

	_, err := trail.Append(context.Background(), employeeRecord(audit.EventAttempt))
	require.Error(t, err)
	require.True(t, breaker.IsOpen())
	retried := sink.calls.Load()
	assert.Greater(t, retried, int32(1))

	_, err = trail.Append(context.Background(), employeeRecord(audit.EventAttempt))
	require.Error(t, err)
	assert.Equal(t, retried+1, sink.calls.Load(), "open circuit gets one attempt")

	sink.failures.Store(0)
	_, err = trail.Append(context.Background(), employeeRecord(audit.EventAttempt))
	require.NoError(t, err)
	assert.False(t, breaker.IsOpen())
	assert.Equal(t, 1, store.Len())
}
