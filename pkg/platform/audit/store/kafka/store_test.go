package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "paycore/pkg/platform/audit"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		if p.err == nil {
			p.records = append(p.records, r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return results
}

func TestAppendProducesKeyedRecord(t *testing.T) {
	producer := &fakeProducer{}
	store := New(producer, "")
	record := audit.Record{
		ID:         uuid.New(),
		EventType:  audit.EventSuccess,
		Message:    "salary updated for employee 3: 5000.00 -> 6000.00",
		EntityType: audit.EntityEmployee,
		EntityID:   audit.Ref(3),
		Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, store.Append(context.Background(), record))
	require.Len(t, producer.records, 1)

	msg := producer.records[0]
	assert.Equal(t, DefaultTopic, msg.Topic)
	assert.Equal(t, "Employee:3", string(msg.Key))
	assert.Contains(t, msg.Headers, kgo.RecordHeader{Key: HeaderEventType, Value: []byte("SUCCESS")})

	var payload Payload
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, record.ID.String(), payload.ID)
	require.NotNil(t, payload.EntityID)
	assert.Equal(t, int64(3), *payload.EntityID)
}

func TestAppendSurfacesProduceError(t *testing.T) {
	brokerErr := errors.New("not enough replicas")
	store := New(&fakeProducer{err: brokerErr}, "audit")

	err := store.Append(context.Background(), audit.Record{
		ID:         uuid.New(),
		EventType:  audit.EventBatchSummary,
		EntityType: audit.EntitySalaryBatch,
		Timestamp:  time.Now(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, brokerErr)
}
