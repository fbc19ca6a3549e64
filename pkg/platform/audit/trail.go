package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"paycore/pkg/platform/circuit"
	txcontext "paycore/pkg/platform/tx"
)

const (
	defaultAppendTimeout = 10 * time.Second
	defaultRetryElapsed  = 3 * time.Second
)

// ErrInvalidRecord is returned for records that cannot be appended at all.
var ErrInvalidRecord = errors.New("invalid audit record")

// Trail appends audit records with fail-closed semantics: the caller blocks
// until the sink accepts the record or retries are exhausted, and a failure is
// always returned.
//
// Appends are detached from the caller: cancellation of ctx does not abort an
// append that has started, and any SQL transaction carried by ctx is hidden from
// the sink so the record commits on its own.
type Trail struct {
	sink         Sink
	logger       *slog.Logger
	metrics      *Metrics
	timeout      time.Duration
	retryElapsed time.Duration
	now          func() time.Time
	breaker      *circuit.Breaker
}

// Option configures the Trail.
type Option func(*Trail)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Trail) {
		t.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(t *Trail) {
		t.metrics = m
	}
}

// WithAppendTimeout bounds a single Append including retries.
func WithAppendTimeout(d time.Duration) Option {
	return func(t *Trail) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithRetryElapsed bounds how long failed sink writes are retried. Zero disables retries.
func WithRetryElapsed(d time.Duration) Option {
	return func(t *Trail) {
		if d >= 0 {
			t.retryElapsed = d
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) {
		if now != nil {
			t.now = now
		}
	}
}

// WithBreaker skips retries while the sink circuit is open: each append gets a
// single attempt until the sink recovers. Appends are never dropped.
func WithBreaker(b *circuit.Breaker) Option {
	return func(t *Trail) {
		t.breaker = b
	}
}

// NewTrail creates an audit trail over sink.
func NewTrail(sink Sink, opts ...Option) *Trail {
	t := &Trail{
		sink:         sink,
		logger:       slog.Default(),
		timeout:      defaultAppendTimeout,
		retryElapsed: defaultRetryElapsed,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Append persists record and returns its id. ID and Timestamp are assigned when
// unset. A non-nil error means the record may not be durable and the calling
// operation must treat it as a storage failure.
func (t *Trail) Append(ctx context.Context, record Record) (uuid.UUID, error) {
	if !record.EventType.Valid() {
		return uuid.Nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidRecord, record.EventType)
	}
	if record.EntityType == "" {
		return uuid.Nil, fmt.Errorf("%w: entity type is required", ErrInvalidRecord)
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = t.now().UTC()
	}

	start := time.Now()
	appendCtx, cancel := context.WithTimeout(txcontext.Without(context.WithoutCancel(ctx)), t.timeout)
	defer cancel()

	err := t.appendWithRetry(appendCtx, record)
	if t.metrics != nil {
		t.metrics.ObservePersistDuration(time.Since(start).Seconds())
	}
	if err != nil {
		if t.metrics != nil {
			t.metrics.IncPersistFailures(record.EventType)
		}
		t.logger.ErrorContext(ctx, "CRITICAL: audit append failed",
			"audit_id", record.ID,
			"event_type", record.EventType,
			"entity_type", record.EntityType,
			"entity_id", entityIDAttr(record.EntityID),
			"error", err,
		)
		return uuid.Nil, fmt.Errorf("append %s audit record: %w", record.EventType, err)
	}

	if t.metrics != nil {
		t.metrics.IncEventsAppended(record.EventType)
	}
	return record.ID, nil
}

func (t *Trail) appendWithRetry(ctx context.Context, record Record) error {
	if t.retryElapsed == 0 || (t.breaker != nil && t.breaker.IsOpen()) {
		err := t.sink.Append(ctx, record)
		t.recordOutcome(ctx, err)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 25 * time.Millisecond
	policy.MaxElapsedTime = t.retryElapsed

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := t.sink.Append(ctx, record)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidRecord) {
			return backoff.Permanent(err)
		}
		t.logger.WarnContext(ctx, "audit append failed, retrying",
			"audit_id", record.ID,
			"event_type", record.EventType,
			"attempt", attempt,
			"error", err,
		)
		return err
	}, backoff.WithContext(policy, ctx))
	t.recordOutcome(ctx, err)
	return err
}

func (t *Trail) recordOutcome(ctx context.Context, err error) {
	if t.breaker == nil {
		return
	}
	if err == nil {
		if _, change := t.breaker.RecordSuccess(); change.Closed {
			t.logger.InfoContext(ctx, "audit sink recovered, circuit closed", "breaker", t.breaker.Name())
		}
		return
	}
	if _, change := t.breaker.RecordFailure(); change.Opened {
		t.logger.ErrorContext(ctx, "audit sink circuit opened, retries suspended", "breaker", t.breaker.Name())
	}
}

func entityIDAttr(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
