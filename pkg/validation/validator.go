// Package validation filters operations before they reach the selector. A Validator either returns
// a sanitized copy of the operation or a validation error, which the dispatcher surfaces without
// attempting any transport.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"strings"

	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// Validator checks and sanitizes an operation
type Validator interface {
	Validate(ctx context.Context, op protocol.Operation) (protocol.Operation, error)
}

// ValidatorFunc adapts a function to Validator
type ValidatorFunc func(ctx context.Context, op protocol.Operation) (protocol.Operation, error)

// Validate calls f
func (f ValidatorFunc) Validate(ctx context.Context, op protocol.Operation) (protocol.Operation, error) {
	return f(ctx, op)
}

// Chain runs validators in order, feeding each the previous one's sanitized operation. The first
// error stops the chain.
func Chain(validators ...Validator) Validator {
	return ValidatorFunc(func(ctx context.Context, op protocol.Operation) (protocol.Operation, error) {
		var err error
		for _, v := range validators {
			if v == nil {
				continue
			}
			if op, err = v.Validate(ctx, op); err != nil {
				return op, err
			}
		}
		return op, nil
	})
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.:/-]+$`)

// DefaultValidator applies the structural checks every operation must pass
type DefaultValidator struct {
	// MaxPayloadBytes bounds the compacted payload; zero means unbounded
	MaxPayloadBytes int
}

// NewDefaultValidator creates the structural validator
func NewDefaultValidator(maxPayloadBytes int) *DefaultValidator {
	return &DefaultValidator{MaxPayloadBytes: maxPayloadBytes}
}

// Validate trims the operation name, compacts the payload and checks requirements and hint
func (v *DefaultValidator) Validate(_ context.Context, op protocol.Operation) (protocol.Operation, error) {
	name := strings.TrimSpace(op.Name())
	if name == "" {
		return op, dispatcherrors.MissingParameter("name")
	}
	if !namePattern.MatchString(name) {
		return op, dispatcherrors.InvalidParameter("name", name, namePattern.String())
	}
	if name != op.Name() {
		op = op.WithName(name)
	}

	if payload := op.Payload(); len(payload) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, payload); err != nil {
			return op, dispatcherrors.InvalidFormat("payload", "valid JSON").WithDetail(err.Error())
		}
		if v.MaxPayloadBytes > 0 && buf.Len() > v.MaxPayloadBytes {
			return op, dispatcherrors.ParameterTooLarge("payload", buf.Len(), v.MaxPayloadBytes)
		}
		if buf.Len() != len(payload) {
			op = op.WithPayload(buf.Bytes())
		}
	}

	req := op.Requirements()
	if req.PayloadSizeBytes < 0 {
		return op, dispatcherrors.InvalidParameter("payload_size_bytes", req.PayloadSizeBytes, ">= 0")
	}
	if v.MaxPayloadBytes > 0 && req.PayloadSizeBytes > v.MaxPayloadBytes {
		return op, dispatcherrors.ParameterTooLarge("payload_size_bytes", req.PayloadSizeBytes, v.MaxPayloadBytes)
	}
	if req.ExpectedLatency < 0 {
		return op, dispatcherrors.InvalidParameter("expected_latency", req.ExpectedLatency, ">= 0")
	}
	if req.Reliability < protocol.ReliabilityBestEffort || req.Reliability > protocol.ReliabilityStrict {
		return op, dispatcherrors.InvalidParameter("reliability", int(req.Reliability), "best_effort, normal or strict")
	}

	if hint := op.Hint(); hint != "" && !hint.Valid() {
		return op, dispatcherrors.InvalidParameter("transport_hint", string(hint), "rpc, stream, bus or tool")
	}
	return op, nil
}
