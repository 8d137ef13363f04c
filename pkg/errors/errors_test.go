package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

func TestDispatchErrorInterface(t *testing.T) {
	tests := []struct {
		name     string
		err      DispatchError
		wantCode int
		wantCat  Category
		wantSev  Severity
	}{
		{
			name:     "validation error",
			err:      ValidationError("bad operation"),
			wantCode: CodeValidationError,
			wantCat:  CategoryValidation,
			wantSev:  SeverityError,
		},
		{
			name:     "protocol unavailable",
			err:      ProtocolUnavailable("tasks.create", []string{"rpc: circuit open"}),
			wantCode: CodeProtocolUnavailable,
			wantCat:  CategoryDispatch,
			wantSev:  SeverityError,
		},
		{
			name:     "timeout",
			err:      Timeout(protocol.TransportRPC, time.Second, context.DeadlineExceeded),
			wantCode: CodeTimeout,
			wantCat:  CategoryTimeout,
			wantSev:  SeverityWarning,
		},
		{
			name:     "credential unavailable",
			err:      CredentialUnavailable(fmt.Errorf("token endpoint down")),
			wantCode: CodeCredentialUnavailable,
			wantCat:  CategoryAuth,
			wantSev:  SeverityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, tt.err.Code())
			assert.Equal(t, tt.wantCat, tt.err.Category())
			assert.Equal(t, tt.wantSev, tt.err.Severity())
			assert.NotEmpty(t, tt.err.Error())
			assert.NotNil(t, tt.err.Context())
		})
	}
}

func TestWithDetailAndContext(t *testing.T) {
	err := ValidationError("bad").WithDetail("first").WithDetail("second")
	assert.Equal(t, "bad: first; second", err.Error())

	withCtx := err.WithContext(&Context{OperationID: "op-1", Transport: "rpc", Attempt: 2})
	require.NotNil(t, withCtx.Context())
	assert.Equal(t, "op-1", withCtx.Context().OperationID)
	assert.False(t, withCtx.Context().Timestamp.IsZero(), "timestamp should be carried over")
	assert.Equal(t, "", err.Context().OperationID, "original must not be mutated")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"nil", nil, FailureNone},
		{"deadline", context.DeadlineExceeded, FailureTimeout},
		{"wrapped deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), FailureTimeout},
		{"cancelled", context.Canceled, FailureCancelled},
		{"classified timeout", Timeout(protocol.TransportBus, 0, nil), FailureTimeout},
		{"auth", AuthFailure(protocol.TransportRPC, nil), FailureAuth},
		{"rejected", RemoteRejected(protocol.TransportRPC, 400, "bad input"), FailureRemoteRejected},
		{"unsupported", Unsupported(protocol.TransportTool, "no such tool"), FailureUnsupported},
		{"remote unauthorized", &protocol.Error{Code: protocol.UnauthorizedError}, FailureAuth},
		{"remote method not found", &protocol.Error{Code: protocol.MethodNotFound}, FailureUnsupported},
		{"remote invalid params", &protocol.Error{Code: protocol.InvalidParams}, FailureRemoteRejected},
		{"remote overloaded", &protocol.Error{Code: protocol.Overloaded}, FailureConnection},
		{"unclassified", stderrors.New("socket reset"), FailureConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestFailureKindPredicates(t *testing.T) {
	assert.True(t, FailureTimeout.Retryable())
	assert.True(t, FailureConnection.Retryable())
	assert.False(t, FailureAuth.Retryable())
	assert.False(t, FailureRemoteRejected.Retryable())
	assert.True(t, FailureRemoteRejected.Fatal())
	assert.True(t, FailureUnsupported.Fatal())
	assert.False(t, FailureTimeout.Fatal())
}

func TestFromRemoteError(t *testing.T) {
	assert.Nil(t, FromRemoteError(protocol.TransportRPC, nil))

	err := FromRemoteError(protocol.TransportRPC, &protocol.Error{Code: protocol.InvalidParams, Message: "missing title"})
	assert.Equal(t, CodeRemoteRejected, err.Code())
	data, ok := err.Data().(*TransportErrorData)
	require.True(t, ok)
	assert.Equal(t, int(protocol.InvalidParams), data.RemoteCode)
	assert.Contains(t, err.Error(), "missing title")

	auth := FromRemoteError(protocol.TransportStream, &protocol.Error{Code: protocol.UnauthorizedError, Message: "expired"})
	assert.Equal(t, CodeAuthFailure, auth.Code())
	assert.Equal(t, FailureAuth, Classify(auth))
}

func TestAggregateFailure(t *testing.T) {
	attempts := []Attempt{
		{Transport: protocol.TransportRPC, Err: Timeout(protocol.TransportRPC, time.Second, nil)},
		{Transport: protocol.TransportBus, Err: ConnectionFailure(protocol.TransportBus, "nats://localhost", nil)},
	}
	agg := NewAggregateFailure("tasks.create", attempts)

	assert.Equal(t, CodeAggregateFailure, agg.Code())
	assert.Equal(t, []protocol.TransportKind{protocol.TransportRPC, protocol.TransportBus}, agg.Transports())
	assert.Len(t, agg.Errors(), 2)
	assert.True(t, IsCode(agg, CodeAggregateFailure))

	var target *AggregateFailure
	wrapped := fmt.Errorf("dispatch: %w", agg)
	require.True(t, stderrors.As(wrapped, &target))
	assert.Equal(t, agg, target)

	encoded, err := json.Marshal(agg.ToJSON())
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"classification":"timeout"`)
	assert.Contains(t, string(encoded), `"transport":"bus"`)
}

func TestAsDispatchErrorAndHelpers(t *testing.T) {
	base := ConnectionFailure(protocol.TransportStream, "ws://agent", stderrors.New("refused"))
	wrapped := fmt.Errorf("outer: %w", base)

	de, ok := AsDispatchError(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeConnectionFailure, de.Code())
	assert.True(t, IsCategory(wrapped, CategoryTransport))
	assert.False(t, IsCode(stderrors.New("plain"), CodeConnectionFailure))

	_, ok = AsDispatchError(nil)
	assert.False(t, ok)
}

func TestErrorCodeRegistry(t *testing.T) {
	assert.Equal(t, "ProtocolUnavailable", GetErrorCodeName(CodeProtocolUnavailable))
	assert.Equal(t, "UnknownError", GetErrorCodeName(12345))

	info, ok := GetErrorCodeInfo(CodeAuthFailure)
	require.True(t, ok)
	assert.Equal(t, CategoryAuth, info.Category)
}

func TestValidationConstructors(t *testing.T) {
	err := ParameterTooLarge("payload", 2048, 1024)
	assert.Equal(t, CodeParameterTooLarge, err.Code())
	data := err.Data().(*ValidationErrorData)
	assert.Equal(t, "payload", data.Field)
	assert.Equal(t, "2048", data.Actual)

	assert.Equal(t, CodeMissingParameter, MissingParameter("name").Code())
	assert.Equal(t, CodeInvalidParameter, InvalidParameter("hint", "smoke", "rpc|stream|bus|tool").Code())
	assert.Equal(t, CodeInvalidFormat, InvalidFormat("payload", "JSON object").Code())
}

func TestMarshalJSON(t *testing.T) {
	err := Unsupported(protocol.TransportTool, "no tool named deploy")
	raw, marshalErr := json.Marshal(err)
	require.NoError(t, marshalErr)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "Unsupported", decoded["name"])
	assert.Equal(t, float64(CodeUnsupported), decoded["code"])
}
