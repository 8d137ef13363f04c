package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOperation(t *testing.T) {
	payload := []byte(`{"text":"hello"}`)
	op, err := NewOperation("agents.summarize", payload,
		WithHint(TransportStream),
		WithLatency(50*time.Millisecond),
		WithReliability(ReliabilityStrict),
		WithRealtime(true),
	)
	require.NoError(t, err)

	assert.NotEmpty(t, op.ID())
	assert.Equal(t, "agents.summarize", op.Name())
	assert.Equal(t, TransportStream, op.Hint())

	req := op.Requirements()
	assert.Equal(t, 50*time.Millisecond, req.ExpectedLatency)
	assert.Equal(t, ReliabilityStrict, req.Reliability)
	assert.True(t, req.Realtime)
	assert.Equal(t, len(payload), req.PayloadSizeBytes)
}

func TestOperationIsImmutable(t *testing.T) {
	payload := []byte(`{"n":1}`)
	op, err := NewOperation("op", payload)
	require.NoError(t, err)

	payload[5] = '9'
	assert.JSONEq(t, `{"n":1}`, string(op.Payload()))

	got := op.Payload()
	got[5] = '7'
	assert.JSONEq(t, `{"n":1}`, string(op.Payload()))

	renamed := op.WithName("other")
	assert.Equal(t, "op", op.Name())
	assert.Equal(t, "other", renamed.Name())
	assert.Equal(t, op.ID(), renamed.ID())
}

func TestNewOperationMarshalsValues(t *testing.T) {
	op, err := NewOperation("op", map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(op.Payload()))

	op, err = NewOperation("op", nil)
	require.NoError(t, err)
	assert.Nil(t, op.Payload())
	assert.Equal(t, DefaultRequirements().Reliability, op.Requirements().Reliability)

	_, err = NewOperation("op", func() {})
	assert.Error(t, err)
}

func TestKindsAndTraits(t *testing.T) {
	assert.Equal(t, []TransportKind{TransportBus, TransportRPC, TransportStream, TransportTool}, AllKinds())

	for _, k := range AllKinds() {
		parsed, err := ParseKind(" " + string(k) + " ")
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("carrier-pigeon")
	assert.Error(t, err)

	assert.True(t, Traits(TransportStream).Realtime)
	assert.False(t, Traits(TransportRPC).Realtime)
	assert.Equal(t, ReliabilityStrict, Traits(TransportBus).Reliability)
	assert.Equal(t, ReliabilityBestEffort, Traits(TransportTool).Reliability)
}

func TestReliabilityText(t *testing.T) {
	var level ReliabilityLevel
	require.NoError(t, json.Unmarshal([]byte(`"strict"`), &level))
	assert.Equal(t, ReliabilityStrict, level)

	data, err := json.Marshal(ReliabilityBestEffort)
	require.NoError(t, err)
	assert.Equal(t, `"best_effort"`, string(data))

	assert.Error(t, level.UnmarshalText([]byte("paranoid")))
	assert.True(t, ReliabilityStrict > ReliabilityNormal)
}
