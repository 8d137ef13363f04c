package validation

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

func mustOperation(t *testing.T, name string, payload interface{}, opts ...protocol.OperationOption) protocol.Operation {
	t.Helper()
	op, err := protocol.NewOperation(name, payload, opts...)
	require.NoError(t, err)
	return op
}

func TestDefaultValidator(t *testing.T) {
	v := NewDefaultValidator(64)

	tests := []struct {
		name     string
		op       protocol.Operation
		wantCode int
	}{
		{
			name: "valid",
			op:   mustOperation(t, "agents.summarize", map[string]string{"text": "hi"}),
		},
		{
			name: "no payload",
			op:   mustOperation(t, "agents/ping", nil),
		},
		{
			name:     "empty name",
			op:       mustOperation(t, "   ", nil),
			wantCode: dispatcherrors.CodeMissingParameter,
		},
		{
			name:     "name with spaces",
			op:       mustOperation(t, "agents summarize", nil),
			wantCode: dispatcherrors.CodeInvalidParameter,
		},
		{
			name:     "invalid json",
			op:       mustOperation(t, "agents.summarize", json.RawMessage(`{"text":`)),
			wantCode: dispatcherrors.CodeInvalidFormat,
		},
		{
			name:     "payload too large",
			op:       mustOperation(t, "agents.summarize", map[string]string{"text": strings.Repeat("x", 100)}),
			wantCode: dispatcherrors.CodeParameterTooLarge,
		},
		{
			name: "negative latency",
			op: mustOperation(t, "agents.summarize", nil,
				protocol.WithLatency(-time.Second)),
			wantCode: dispatcherrors.CodeInvalidParameter,
		},
		{
			name: "reliability out of range",
			op: mustOperation(t, "agents.summarize", nil,
				protocol.WithReliability(protocol.ReliabilityLevel(7))),
			wantCode: dispatcherrors.CodeInvalidParameter,
		},
		{
			name: "declared size above limit",
			op: mustOperation(t, "agents.summarize", nil,
				protocol.WithRequirements(protocol.Requirements{PayloadSizeBytes: 1 << 20})),
			wantCode: dispatcherrors.CodeParameterTooLarge,
		},
		{
			name: "unknown hint",
			op: mustOperation(t, "agents.summarize", nil,
				protocol.WithHint(protocol.TransportKind("carrier-pigeon"))),
			wantCode: dispatcherrors.CodeInvalidParameter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), tt.op)
			if tt.wantCode == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, dispatcherrors.IsCode(err, tt.wantCode), "got %v", err)
			assert.True(t, dispatcherrors.IsCategory(err, dispatcherrors.CategoryValidation))
		})
	}
}

func TestDefaultValidatorSanitizes(t *testing.T) {
	op := mustOperation(t, "  agents.summarize \n", json.RawMessage("{ \"text\" :  \"hi\" }"))

	out, err := NewDefaultValidator(0).Validate(context.Background(), op)
	require.NoError(t, err)

	assert.Equal(t, "agents.summarize", out.Name())
	assert.JSONEq(t, `{"text":"hi"}`, string(out.Payload()))
	assert.Equal(t, `{"text":"hi"}`, string(out.Payload()))
	assert.Equal(t, len(`{"text":"hi"}`), out.Requirements().PayloadSizeBytes)
	assert.Equal(t, op.ID(), out.ID())
	assert.NotEqual(t, op.Name(), out.Name(), "the input operation is not modified")
}

func TestChain(t *testing.T) {
	var calls []string
	upper := ValidatorFunc(func(_ context.Context, op protocol.Operation) (protocol.Operation, error) {
		calls = append(calls, "upper")
		return op.WithName(strings.ToUpper(op.Name())), nil
	})
	reject := ValidatorFunc(func(_ context.Context, op protocol.Operation) (protocol.Operation, error) {
		calls = append(calls, "reject:"+op.Name())
		return op, dispatcherrors.ValidationError("rejected")
	})
	never := ValidatorFunc(func(_ context.Context, op protocol.Operation) (protocol.Operation, error) {
		calls = append(calls, "never")
		return op, nil
	})

	_, err := Chain(upper, nil, reject, never).Validate(context.Background(), mustOperation(t, "ping", nil))
	require.Error(t, err)
	assert.Equal(t, []string{"upper", "reject:PING"}, calls)
}

type summarizeRequest struct {
	Text     string `json:"text"`
	MaxWords int    `json:"max_words,omitempty"`
}

func TestSchemaValidator(t *testing.T) {
	v := NewSchemaValidator()
	Register[summarizeRequest](v, "agents.summarize")

	schema, ok := v.Schema("agents.summarize")
	require.True(t, ok)
	assert.Equal(t, []string{"text"}, schema.Required)

	tests := []struct {
		name     string
		op       protocol.Operation
		wantCode int
	}{
		{"matches", mustOperation(t, "agents.summarize", json.RawMessage(`{"text":"hi","max_words":3}`)), 0},
		{"unregistered operation", mustOperation(t, "agents.other", json.RawMessage(`{"anything":1}`)), 0},
		{"missing required", mustOperation(t, "agents.summarize", json.RawMessage(`{"max_words":3}`)), dispatcherrors.CodeMissingParameter},
		{"no payload", mustOperation(t, "agents.summarize", nil), dispatcherrors.CodeMissingParameter},
		{"not an object", mustOperation(t, "agents.summarize", json.RawMessage(`[1,2]`)), dispatcherrors.CodeInvalidFormat},
		{"unknown field", mustOperation(t, "agents.summarize", json.RawMessage(`{"text":"hi","tone":"dry"}`)), dispatcherrors.CodeValidationError},
		{"wrong type", mustOperation(t, "agents.summarize", json.RawMessage(`{"text":42}`)), dispatcherrors.CodeValidationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), tt.op)
			if tt.wantCode == 0 {
				assert.NoError(t, err)
				return
			}
			assert.True(t, dispatcherrors.IsCode(err, tt.wantCode), "got %v", err)
		})
	}
}
