package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rulePayload struct {
	RuleID  string `json:"rule_id"`
	ApplyOn string `json:"apply_on"`
}

func mustEvent(t *testing.T, eventType, aggregateID string, data any) *Event {
	t.Helper()
	event, err := NewEvent(eventType, aggregateID, "pricing_rule", "pricing-service", data)
	require.NoError(t, err)
	return event
}

func TestNewEvent(t *testing.T) {
	data := rulePayload{RuleID: "rule-123", ApplyOn: "item_code"}
	event := mustEvent(t, "rule.created", "rule-123", data)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "rule.created", event.EventType)
	assert.Equal(t, "rule-123", event.AggregateID)
	assert.Equal(t, "pricing_rule", event.AggregateType)
	assert.Equal(t, "pricing-service", event.Source)
	assert.Equal(t, schemaVersion, event.Version)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, 2*time.Second)
	assert.NotNil(t, event.Metadata)

	var roundTripped rulePayload
	require.NoError(t, json.Unmarshal(event.Data, &roundTripped))
	assert.Equal(t, data, roundTripped)
}

func TestNewEvent_UnserializablePayload(t *testing.T) {
	_, err := NewEvent("rule.created", "rule-1", "pricing_rule", "pricing-service", make(chan int))
	require.Error(t, err)
}

func TestEvent_WireRoundTrip(t *testing.T) {
	original := mustEvent(t, "coupon.created", "cpn-456", map[string]string{"code": "SAVE10"})
	original.WithCorrelationID("corr-abc").WithMetadata("user", "admin")

	wire, err := original.Marshal()
	require.NoError(t, err)

	restored, err := UnmarshalEvent(wire)
	require.NoError(t, err)
	assert.Equal(t, original.EventID, restored.EventID)
	assert.Equal(t, original.EventType, restored.EventType)
	assert.Equal(t, original.AggregateID, restored.AggregateID)
	assert.Equal(t, original.Version, restored.Version)
	assert.Equal(t, "corr-abc", restored.CorrelationID)
	assert.Equal(t, original.Metadata, restored.Metadata)
	assert.JSONEq(t, string(original.Data), string(restored.Data))
	assert.WithinDuration(t, original.Timestamp, restored.Timestamp, time.Millisecond)
}

func TestEvent_BuildersChain(t *testing.T) {
	event := mustEvent(t, "rule.updated", "rule-1", nil)

	chained := event.WithCorrelationID("corr-xyz").WithMetadata("key1", "value1").WithMetadata("key2", "value2")
	assert.Same(t, event, chained)
	assert.Equal(t, "corr-xyz", event.CorrelationID)
	assert.Equal(t, "value1", event.Metadata["key1"])
	assert.Equal(t, "value2", event.Metadata["key2"])
}

func TestEvent_WithMetadata_AllocatesMap(t *testing.T) {
	event := &Event{EventType: "rule.created"}
	event.WithMetadata("key", "value")
	assert.Equal(t, "value", event.Metadata["key"])
}

func TestEvent_UnmarshalData(t *testing.T) {
	payload := rulePayload{RuleID: "rule-9", ApplyOn: "item_group"}
	event := mustEvent(t, "rule.created", "rule-9", payload)

	var target rulePayload
	require.NoError(t, event.UnmarshalData(&target))
	assert.Equal(t, payload, target)

	bad := &Event{Data: json.RawMessage(`not valid json`)}
	assert.Error(t, bad.UnmarshalData(&target))
}

func TestUnmarshalEvent_BadInput(t *testing.T) {
	for _, input := range [][]byte{[]byte(`{broken json`), {}} {
		_, err := UnmarshalEvent(input)
		assert.Error(t, err)
	}
}

func TestDefaultProducerConfig(t *testing.T) {
	brokers := []string{"broker1:9092", "broker2:9092"}
	cfg := DefaultProducerConfig(brokers)

	assert.Equal(t, brokers, cfg.Brokers)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 10*time.Millisecond, cfg.BatchTimeout)
	assert.False(t, cfg.Async, "rule events must be written synchronously")
}

func TestTopic(t *testing.T) {
	tests := []struct {
		domain string
		action string
		want   string
	}{
		{"rule", "created", "pricing.rule.created"},
		{"rule", "applied", "pricing.rule.applied"},
		{"rule", "conflict", "pricing.rule.conflict"},
		{"coupon", "created", "pricing.coupon.created"},
		{"coupon", "usage_committed", "pricing.coupon.usage_committed"},
	}

	for _, tt := range tests {
		t.Run(tt.domain+"."+tt.action, func(t *testing.T) {
			assert.Equal(t, tt.want, Topic(tt.domain, tt.action))
		})
	}
}

func TestNewProducer_CloseWithoutBroker(t *testing.T) {
	// The writer connects lazily, so construction and Close work without a
	// reachable broker.
	p := NewProducer(DefaultProducerConfig([]string{"localhost:19092"}), nil)
	require.NotNil(t, p)
	assert.Equal(t, []string{"localhost:19092"}, p.brokers)
	assert.NoError(t, p.Close())
}

func TestPingBrokers_NoBrokers(t *testing.T) {
	for _, brokers := range [][]string{nil, {}} {
		err := PingBrokers(context.Background(), brokers)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no brokers configured")
	}
}
