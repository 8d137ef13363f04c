package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Requirements are the per-request expectations the selector scores transports against.
type Requirements struct {
	PayloadSizeBytes int              `json:"payload_size_bytes" yaml:"payload_size_bytes"`
	ExpectedLatency  time.Duration    `json:"expected_latency" yaml:"expected_latency"`
	Reliability      ReliabilityLevel `json:"reliability" yaml:"reliability"`
	Realtime         bool             `json:"realtime" yaml:"realtime"`
}

// DefaultRequirements returns the requirements used when a caller declares none.
func DefaultRequirements() Requirements {
	return Requirements{
		ExpectedLatency: time.Second,
		Reliability:     ReliabilityNormal,
	}
}

// Operation is a single logical agent operation. It is immutable: every accessor returns a copy
// and the With* methods return a modified copy.
type Operation struct {
	id           string
	name         string
	payload      json.RawMessage
	hint         TransportKind
	requirements Requirements
}

// OperationOption customizes an operation at construction time
type OperationOption func(*Operation)

// WithHint pins the operation to one transport kind when that transport is usable.
func WithHint(kind TransportKind) OperationOption {
	return func(op *Operation) {
		op.hint = kind
	}
}

// WithRequirements replaces all requirements at once.
func WithRequirements(req Requirements) OperationOption {
	return func(op *Operation) {
		op.requirements = req
	}
}

// WithLatency sets the expected latency.
func WithLatency(d time.Duration) OperationOption {
	return func(op *Operation) {
		op.requirements.ExpectedLatency = d
	}
}

// WithReliability sets the requested reliability level.
func WithReliability(level ReliabilityLevel) OperationOption {
	return func(op *Operation) {
		op.requirements.Reliability = level
	}
}

// WithRealtime marks the operation as needing a realtime-capable transport.
func WithRealtime(realtime bool) OperationOption {
	return func(op *Operation) {
		op.requirements.Realtime = realtime
	}
}

// WithOperationID overrides the generated operation id.
func WithOperationID(id string) OperationOption {
	return func(op *Operation) {
		op.id = id
	}
}

// NewOperation creates an operation. The payload is copied, and any value that is not already
// raw JSON is marshalled. PayloadSizeBytes is filled from the encoded payload when left at zero.
func NewOperation(name string, payload interface{}, opts ...OperationOption) (Operation, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return Operation{}, err
	}

	op := Operation{
		id:           uuid.New().String(),
		name:         name,
		payload:      raw,
		requirements: DefaultRequirements(),
	}
	for _, opt := range opts {
		opt(&op)
	}
	if op.requirements.PayloadSizeBytes == 0 {
		op.requirements.PayloadSizeBytes = len(op.payload)
	}
	return op, nil
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return append(json.RawMessage(nil), v...), nil
	case []byte:
		return append(json.RawMessage(nil), v...), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		return data, nil
	}
}

// ID returns the correlation id of the operation
func (op Operation) ID() string { return op.id }

// Name returns the logical operation name
func (op Operation) Name() string { return op.name }

// Payload returns a copy of the encoded payload.
func (op Operation) Payload() json.RawMessage {
	if op.payload == nil {
		return nil
	}
	return append(json.RawMessage(nil), op.payload...)
}

// Hint returns the explicit transport hint, or "" when none was given.
func (op Operation) Hint() TransportKind { return op.hint }

// Requirements returns the declared requirements.
func (op Operation) Requirements() Requirements { return op.requirements }

// WithName returns a copy of the operation with a different name.
func (op Operation) WithName(name string) Operation {
	op.name = name
	return op
}

// WithPayload returns a copy of the operation carrying a copy of payload.
func (op Operation) WithPayload(payload json.RawMessage) Operation {
	op.payload = append(json.RawMessage(nil), payload...)
	op.requirements.PayloadSizeBytes = len(op.payload)
	return op
}

// Result is what a successful dispatch returns to the caller.
type Result struct {
	OperationID string          `json:"operation_id"`
	Transport   TransportKind   `json:"transport"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	// Attempts counts every execute call across all transports tried.
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}
